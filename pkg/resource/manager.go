package resource

import (
	"container/list"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/multierr"

	"github.com/streamhub/streamhub-go/pkg/log"
)

// DefaultFastIDCacheSize is the fast-id front cache size used when
// ManagerConfig.FastIDCacheSize is 0.
const DefaultFastIDCacheSize = 64

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Label names the manager in logs and events, e.g. "rtmp" or "api".
	Label string

	// Verbose logs every resource state transition at debug level.
	Verbose bool

	// FastIDCacheSize is the size of the fast-id lookup cache.
	// 0 selects DefaultFastIDCacheSize, a negative value disables it.
	FastIDCacheSize int

	// Logger for operational messages (optional).
	Logger *slog.Logger

	// EventLogger receives resource state changes (optional).
	EventLogger log.Logger
}

// lifecycle of the manager itself.
type lifecycle uint8

const (
	lifecycleNew lifecycle = iota
	lifecycleRunning
	lifecycleStopped
)

// handlerSlot wraps a subscribed handler. removed is set on Unsubscribe so
// a notification pass that already took a snapshot skips it.
type handlerSlot struct {
	h       DisposingHandler
	removed atomic.Bool
}

// Manager tracks resources and disposes of them on a background goroutine.
//
// All methods are safe for concurrent use.
type Manager struct {
	label       string
	verbose     bool
	logger      *slog.Logger
	eventLogger log.Logger

	mu        sync.RWMutex
	lifecycle lifecycle
	order     *list.List // of *entry, active only, insertion order
	entries   map[Resource]*entry
	byID      map[string]*entry
	byFastID  map[uint64]*entry
	byName    map[string]*entry
	zombies   []*entry
	handlers  []*handlerSlot
	disposing int
	stopErrs  error
	loopDone  bool

	// fastCache fronts byFastID. Filled under mu.RLock, invalidated under
	// mu.Lock, so a stale fill cannot race an invalidation.
	fastCache *lru.Cache[uint64, *entry]

	signal  chan struct{}
	cancel  context.CancelFunc
	loopWg  sync.WaitGroup
	drainMu sync.Mutex

	// pending counts removals between unindexing and queuing.
	pending sync.WaitGroup

	added         atomic.Uint64
	removed       atomic.Uint64
	disposed      atomic.Uint64
	disposeErrors atomic.Uint64
}

// NewManager creates a manager. Call Start to launch disposal.
func NewManager(cfg ManagerConfig) *Manager {
	m := &Manager{
		label:       cfg.Label,
		verbose:     cfg.Verbose,
		logger:      cfg.Logger,
		eventLogger: cfg.EventLogger,
		order:       list.New(),
		entries:     make(map[Resource]*entry),
		byID:        make(map[string]*entry),
		byFastID:    make(map[uint64]*entry),
		byName:      make(map[string]*entry),
		signal:      make(chan struct{}, 1),
	}

	size := cfg.FastIDCacheSize
	if size == 0 {
		size = DefaultFastIDCacheSize
	}
	if size > 0 {
		// lru.New only fails for non-positive sizes.
		m.fastCache, _ = lru.New[uint64, *entry](size)
	}

	return m
}

// Label returns the manager label.
func (m *Manager) Label() string {
	return m.label
}

// Start launches the disposal goroutine. Cancelling ctx stops it after a
// final drain; resources removed afterwards are disposed on short-lived
// goroutines. Use Stop for an orderly shutdown.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	switch m.lifecycle {
	case lifecycleRunning:
		m.mu.Unlock()
		return fmt.Errorf("%w: %s: already started", ErrStartup, m.label)
	case lifecycleStopped:
		m.mu.Unlock()
		return fmt.Errorf("%w: %s: already stopped", ErrStartup, m.label)
	}
	m.lifecycle = lifecycleRunning

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.loopWg.Add(1)
	m.mu.Unlock()

	go m.disposeLoop(loopCtx)

	m.debugLog("resource manager started", "label", m.label)
	m.logManagerState("STARTED", "")
	return nil
}

// Add registers r. It reports true when r was not registered because it,
// or its id, fast id or name, is already present, or because the manager
// is stopped. In that case the caller keeps ownership of r.
func (m *Manager) Add(r Resource) (exists bool) {
	return m.TryAdd(r) != nil
}

// TryAdd is like Add but reports why registration was refused.
func (m *Manager) TryAdd(r Resource) error {
	if r == nil {
		return ErrNilResource
	}

	// Read keys before locking: implementations may be arbitrary.
	e := &entry{
		r:      r,
		id:     r.ID(),
		fastID: r.FastID(),
		name:   r.Name(),
		added:  time.Now(),
	}

	m.mu.Lock()
	if m.lifecycle == lifecycleStopped {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrStopped, m.label)
	}
	if err := m.checkKeysLocked(e); err != nil {
		m.mu.Unlock()
		return err
	}

	m.entries[r] = e
	e.elem = m.order.PushBack(e)
	if e.id != "" {
		m.byID[e.id] = e
	}
	if e.fastID != 0 {
		m.byFastID[e.fastID] = e
	}
	if e.name != "" {
		m.byName[e.name] = e
	}
	m.mu.Unlock()

	m.added.Add(1)
	m.traceState(e, stateNone, stateActive)
	return nil
}

func (m *Manager) checkKeysLocked(e *entry) error {
	if _, ok := m.entries[e.r]; ok {
		return fmt.Errorf("%w: resource %q", ErrDuplicate, e.id)
	}
	if e.id != "" {
		if _, ok := m.byID[e.id]; ok {
			return fmt.Errorf("%w: id %q", ErrDuplicate, e.id)
		}
	}
	if e.fastID != 0 {
		if _, ok := m.byFastID[e.fastID]; ok {
			return fmt.Errorf("%w: fast id %d", ErrDuplicate, e.fastID)
		}
	}
	if e.name != "" {
		if _, ok := m.byName[e.name]; ok {
			return fmt.Errorf("%w: name %q", ErrDuplicate, e.name)
		}
	}
	return nil
}

// Remove starts the removal of r: it leaves every index, handlers get
// OnBeforeDispose, and r is queued for disposal. r is never freed before
// Remove returns. Removing a resource that is unknown or already being
// removed does nothing.
func (m *Manager) Remove(r Resource) {
	if r == nil {
		return
	}

	m.mu.Lock()
	e, ok := m.entries[r]
	if !ok || e.loadState() != stateActive {
		m.mu.Unlock()
		return
	}
	e.storeState(stateRetiring)
	m.unindexLocked(e)
	m.pending.Add(1)
	handlers := m.handlersLocked()
	m.mu.Unlock()

	m.removed.Add(1)
	m.traceState(e, stateActive, stateRetiring)

	m.notify(handlers, e.r, "before dispose", DisposingHandler.OnBeforeDispose)

	m.mu.Lock()
	m.zombies = append(m.zombies, e)
	orphaned := m.loopDone
	m.mu.Unlock()
	m.pending.Done()

	select {
	case m.signal <- struct{}{}:
	default:
	}
	if orphaned {
		go m.drain()
	}
}

func (m *Manager) unindexLocked(e *entry) {
	if e.elem != nil {
		m.order.Remove(e.elem)
		e.elem = nil
	}
	if e.id != "" && m.byID[e.id] == e {
		delete(m.byID, e.id)
	}
	if e.fastID != 0 && m.byFastID[e.fastID] == e {
		delete(m.byFastID, e.fastID)
		if m.fastCache != nil {
			m.fastCache.Remove(e.fastID)
		}
	}
	if e.name != "" && m.byName[e.name] == e {
		delete(m.byName, e.name)
	}
}

// Expire asks the active resource with the given id to terminate.
func (m *Manager) Expire(id string) error {
	r, ok := m.FindByID(id)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	x, ok := r.(Expirer)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotExpirable, r.Desc())
	}
	x.Expire()
	return nil
}

// FindByID returns the active resource with the given id.
func (m *Manager) FindByID(id string) (Resource, bool) {
	if id == "" {
		return nil, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byID[id]
	if !ok {
		return nil, false
	}
	return e.r, true
}

// FindByFastID returns the active resource with the given fast id.
func (m *Manager) FindByFastID(id uint64) (Resource, bool) {
	if id == 0 {
		return nil, false
	}
	if m.fastCache != nil {
		if e, ok := m.fastCache.Get(id); ok && e.loadState() == stateActive {
			return e.r, true
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byFastID[id]
	if !ok {
		return nil, false
	}
	if m.fastCache != nil {
		m.fastCache.Add(id, e)
	}
	return e.r, true
}

// FindByName returns the active resource with the given name.
func (m *Manager) FindByName(name string) (Resource, bool) {
	if name == "" {
		return nil, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byName[name]
	if !ok {
		return nil, false
	}
	return e.r, true
}

// Len returns the number of active resources.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.order.Len()
}

// Resources returns the active resources in insertion order.
func (m *Manager) Resources() []Resource {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Resource, 0, m.order.Len())
	for el := m.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*entry).r)
	}
	return out
}

// Range calls fn for each active resource in insertion order until fn
// returns false. fn runs on a snapshot without the manager lock, so it may
// call Remove.
func (m *Manager) Range(fn func(r Resource) bool) {
	for _, r := range m.Resources() {
		if !fn(r) {
			return
		}
	}
}

// Acquire returns a borrowed reference to r if r is active.
func (m *Manager) Acquire(r Resource) (Ref, bool) {
	if r == nil {
		return Ref{}, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[r]
	if !ok || e.loadState() != stateActive {
		return Ref{}, false
	}
	return Ref{e: e}, true
}

// Subscribe adds h to the handler list. Handlers are notified in
// subscription order. Subscribing a handler twice has no effect.
func (m *Manager) Subscribe(h DisposingHandler) {
	if h == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.handlers {
		if s.h == h {
			return
		}
	}
	m.handlers = append(m.handlers, &handlerSlot{h: h})
}

// Unsubscribe removes h. It is safe to call from inside a notification;
// h is not called again, including for the rest of the current pass.
func (m *Manager) Unsubscribe(h DisposingHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.handlers {
		if s.h == h {
			s.removed.Store(true)
			m.handlers = append(m.handlers[:i:i], m.handlers[i+1:]...)
			return
		}
	}
}

func (m *Manager) handlersLocked() []*handlerSlot {
	if len(m.handlers) == 0 {
		return nil
	}
	return append([]*handlerSlot(nil), m.handlers...)
}

func (m *Manager) snapshotHandlers() []*handlerSlot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handlersLocked()
}

// notify calls fn for every handler still subscribed. A panicking handler
// is logged and skipped.
func (m *Manager) notify(handlers []*handlerSlot, r Resource, phase string, fn func(DisposingHandler, Resource)) {
	for _, s := range handlers {
		if s.removed.Load() {
			continue
		}
		m.safeCall(r, phase, func() { fn(s.h, r) })
	}
}

func (m *Manager) safeCall(r Resource, phase string, fn func()) (panicked bool) {
	defer func() {
		if p := recover(); p != nil {
			panicked = true
			m.errorLog("resource handler panicked",
				"label", m.label, "resource", r.Desc(), "phase", phase, "panic", p)
			m.logError(r, fmt.Sprintf("panic: %v", p), phase)
		}
	}()
	fn()
	return false
}

// disposeLoop waits for removals and disposes them in batches.
func (m *Manager) disposeLoop(ctx context.Context) {
	defer m.loopWg.Done()

	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			m.loopDone = true
			m.mu.Unlock()
			m.drain()
			return
		case <-m.signal:
			m.drain()
		}
	}
}

// drain disposes zombies until none are left. Resources removed by
// handlers during a batch are picked up by the next round.
func (m *Manager) drain() {
	m.drainMu.Lock()
	defer m.drainMu.Unlock()

	for {
		m.mu.Lock()
		batch := m.zombies
		m.zombies = nil
		m.disposing += len(batch)
		m.mu.Unlock()

		if len(batch) == 0 {
			return
		}

		for _, e := range batch {
			e.storeState(stateDisposing)
			m.traceState(e, stateRetiring, stateDisposing)
		}
		for _, e := range batch {
			m.notify(m.snapshotHandlers(), e.r, "disposing", DisposingHandler.OnDisposing)
			m.free(e)
		}

		m.mu.Lock()
		m.disposing -= len(batch)
		m.mu.Unlock()
	}
}

// free closes the resource and drops the manager's last reference to it.
func (m *Manager) free(e *entry) {
	var closeErr error
	if c, ok := e.r.(io.Closer); ok {
		panicked := m.safeCall(e.r, "close", func() { closeErr = c.Close() })
		if panicked {
			closeErr = fmt.Errorf("close %s: panicked", e.r.Desc())
		}
	}

	m.mu.Lock()
	if m.entries[e.r] == e {
		delete(m.entries, e.r)
	}
	if closeErr != nil && m.lifecycle == lifecycleStopped {
		m.stopErrs = multierr.Append(m.stopErrs, fmt.Errorf("%s: %w", e.r.Desc(), closeErr))
	}
	m.mu.Unlock()

	if closeErr != nil {
		m.disposeErrors.Add(1)
		m.warnLog("resource close failed", "label", m.label, "resource", e.r.Desc(), "error", closeErr)
	}

	e.storeState(stateDisposed)
	m.disposed.Add(1)
	m.traceState(e, stateDisposing, stateDisposed)
}

// Stop removes every active resource, waits until all removed resources
// are freed, and stops the disposal goroutine. Close errors of resources
// freed during Stop are returned combined. Stop must not be called from a
// DisposingHandler. Calling Stop again returns nil.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.lifecycle == lifecycleStopped {
		m.mu.Unlock()
		return nil
	}
	wasRunning := m.lifecycle == lifecycleRunning
	m.lifecycle = lifecycleStopped
	active := make([]Resource, 0, m.order.Len())
	for el := m.order.Front(); el != nil; el = el.Next() {
		active = append(active, el.Value.(*entry).r)
	}
	m.mu.Unlock()

	for _, r := range active {
		m.Remove(r)
	}
	// Removals that raced with the snapshot finish queuing.
	m.pending.Wait()

	if wasRunning {
		m.cancel()
		m.loopWg.Wait()
	}
	m.drain()

	m.mu.Lock()
	err := m.stopErrs
	m.stopErrs = nil
	m.mu.Unlock()

	m.debugLog("resource manager stopped", "label", m.label, "disposed", m.disposed.Load())
	m.logManagerState("STOPPED", "")
	return err
}

// Stats is a point-in-time view of the manager.
type Stats struct {
	Label string

	// Active resources (indexed and visible to lookups).
	Active int
	// Zombies are removed resources waiting for the disposal goroutine.
	Zombies int
	// Disposing resources are in the current disposal batch.
	Disposing int
	// Handlers currently subscribed.
	Handlers int

	Added         uint64
	Removed       uint64
	Disposed      uint64
	DisposeErrors uint64
}

// Stats returns current counts and lifetime totals.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	s := Stats{
		Label:     m.label,
		Active:    m.order.Len(),
		Zombies:   len(m.zombies),
		Disposing: m.disposing,
		Handlers:  len(m.handlers),
	}
	m.mu.RUnlock()

	s.Added = m.added.Load()
	s.Removed = m.removed.Load()
	s.Disposed = m.disposed.Load()
	s.DisposeErrors = m.disposeErrors.Load()
	return s
}

// traceState reports a resource transition to the verbose log and the
// event logger.
func (m *Manager) traceState(e *entry, from, to entryState) {
	if m.verbose {
		m.debugLog("resource state",
			"label", m.label, "resource", e.r.Desc(), "from", from, "to", to)
	}
	if m.eventLogger == nil {
		return
	}
	m.eventLogger.Log(log.Event{
		Timestamp:  time.Now(),
		ResourceID: e.id,
		Layer:      log.LayerManager,
		Category:   log.CategoryState,
		Label:      m.label,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityResource,
			OldState: from.String(),
			NewState: to.String(),
		},
	})
}

func (m *Manager) logManagerState(state, reason string) {
	if m.eventLogger == nil {
		return
	}
	m.eventLogger.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerManager,
		Category:  log.CategoryState,
		Label:     m.label,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityManager,
			NewState: state,
			Reason:   reason,
		},
	})
}

func (m *Manager) logError(r Resource, msg, phase string) {
	if m.eventLogger == nil {
		return
	}
	m.eventLogger.Log(log.Event{
		Timestamp:  time.Now(),
		ResourceID: r.ID(),
		Layer:      log.LayerManager,
		Category:   log.CategoryError,
		Label:      m.label,
		Error: &log.ErrorEventData{
			Layer:   log.LayerManager,
			Message: msg,
			Context: phase,
		},
	})
}

// debugLog logs a debug message if a logger is configured.
func (m *Manager) debugLog(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Debug(msg, args...)
	}
}

// warnLog logs a warning if a logger is configured.
func (m *Manager) warnLog(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Warn(msg, args...)
	}
}

// errorLog logs an error message if a logger is configured.
func (m *Manager) errorLog(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Error(msg, args...)
	}
}
