package transport

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Redial backoff defaults for outbound connectors.
const (
	// DefaultInitialBackoff is the delay after the first failed dial.
	DefaultInitialBackoff = 500 * time.Millisecond

	// DefaultMaxBackoff caps the delay between dials.
	DefaultMaxBackoff = 30 * time.Second

	// DefaultBackoffMultiplier is the factor applied after each failure.
	DefaultBackoffMultiplier = 2.0

	// DefaultBackoffJitter is the maximum jitter as a fraction of the delay.
	DefaultBackoffJitter = 0.25
)

// BackoffConfig customizes Backoff. Zero durations and multiplier take the
// defaults; a zero Jitter disables jitter.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// Backoff calculates exponential redial delays with jitter.
type Backoff struct {
	mu sync.Mutex

	current    time.Duration
	initial    time.Duration
	max        time.Duration
	multiplier float64
	jitter     float64

	attempts int
	rng      *rand.Rand
}

// NewBackoff creates a backoff calculator.
func NewBackoff(cfg BackoffConfig) *Backoff {
	if cfg.Initial <= 0 {
		cfg.Initial = DefaultInitialBackoff
	}
	if cfg.Max <= 0 {
		cfg.Max = DefaultMaxBackoff
	}
	if cfg.Max < cfg.Initial {
		cfg.Max = cfg.Initial
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = DefaultBackoffMultiplier
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}

	return &Backoff{
		current:    cfg.Initial,
		initial:    cfg.Initial,
		max:        cfg.Max,
		multiplier: cfg.Multiplier,
		jitter:     cfg.Jitter,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the next delay (with jitter) and advances the backoff.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.addJitter(b.current)

	b.attempts++
	next := time.Duration(float64(b.current) * b.multiplier)
	if next > b.max {
		next = b.max
	}
	b.current = next

	return delay
}

// Current returns the current base delay (without jitter).
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Attempts returns the number of delays handed out since the last reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Reset restores the initial delay. Call it after a successful dial.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.initial
	b.attempts = 0
}

// Wait sleeps for the next delay or until ctx is done.
func (b *Backoff) Wait(ctx context.Context) error {
	timer := time.NewTimer(b.Next())
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Backoff) addJitter(d time.Duration) time.Duration {
	if b.jitter <= 0 {
		return d
	}
	return d + time.Duration(float64(d)*b.jitter*b.rng.Float64())
}
