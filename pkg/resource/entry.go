package resource

import (
	"container/list"
	"sync/atomic"
	"time"
)

// entryState is the lifecycle position of a tracked resource.
type entryState int32

const (
	// stateNone: not yet added.
	stateNone entryState = -1
	// stateActive: indexed and visible to lookups.
	stateActive entryState = 0
	// stateRetiring: unindexed, before-dispose notified or in progress,
	// queued for the disposal goroutine.
	stateRetiring entryState = 1
	// stateDisposing: taken by a disposal batch.
	stateDisposing entryState = 2
	// stateDisposed: freed. The manager holds no reference anymore.
	stateDisposed entryState = 3
)

// String returns the state name used in logs and events.
func (s entryState) String() string {
	switch s {
	case stateNone:
		return ""
	case stateActive:
		return "ACTIVE"
	case stateRetiring:
		return "RETIRING"
	case stateDisposing:
		return "DISPOSING"
	case stateDisposed:
		return "DISPOSED"
	default:
		return "UNKNOWN"
	}
}

// entry is the manager's record for one Add of a resource.
//
// Keys are captured at Add so that unindexing does not depend on the
// resource still returning the same values.
type entry struct {
	r      Resource
	id     string
	fastID uint64
	name   string
	added  time.Time

	// elem is the position in the insertion-order list while active.
	elem *list.Element

	state atomic.Int32
}

func (e *entry) loadState() entryState {
	return entryState(e.state.Load())
}

func (e *entry) storeState(s entryState) {
	e.state.Store(int32(s))
}

// Ref is a borrowed reference to a managed resource. It does not keep the
// resource alive: Get fails as soon as removal has started, even though
// the resource may not be freed yet.
//
// The zero Ref is invalid.
type Ref struct {
	e *entry
}

// Get returns the resource while it is still active.
func (r Ref) Get() (Resource, bool) {
	if r.e == nil || r.e.loadState() != stateActive {
		return nil, false
	}
	return r.e.r, true
}

// Valid reports whether Get would succeed.
func (r Ref) Valid() bool {
	_, ok := r.Get()
	return ok
}
