package transport

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/multierr"
)

// Dial opens an outbound TCP transport. The dial is bounded by ctx.
func Dial(ctx context.Context, address string) (*TCPConn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, wrapError("dial", err)
	}
	return NewTCPConn(conn), nil
}

// DialWithRetry dials address up to attempts times, sleeping between
// failures according to backoff. attempts <= 0 retries until ctx is done.
// The returned error combines every dial failure.
func DialWithRetry(ctx context.Context, address string, backoff *Backoff, attempts int) (*TCPConn, error) {
	if backoff == nil {
		backoff = NewBackoff(BackoffConfig{})
	}

	var errs error
	for i := 0; attempts <= 0 || i < attempts; i++ {
		if i > 0 {
			if err := backoff.Wait(ctx); err != nil {
				return nil, multierr.Append(errs, wrapError("dial", err))
			}
		}
		conn, err := Dial(ctx, address)
		if err == nil {
			backoff.Reset()
			return conn, nil
		}
		errs = multierr.Append(errs, err)
	}
	return nil, fmt.Errorf("dial %s: %d attempts failed: %w", address, attempts, errs)
}
