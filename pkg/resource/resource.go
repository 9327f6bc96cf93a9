package resource

// Resource is anything the Manager can track.
//
// Implementations must be comparable (pointer types in practice) since the
// manager keys its bookkeeping on the resource value. ID, FastID and Name
// are read once, when the resource is added.
type Resource interface {
	// ID is a unique string identifier. Empty means not indexed by id.
	ID() string

	// FastID is a numeric identifier for hot-path lookups. 0 means unset.
	FastID() uint64

	// Name is an optional human-readable name. Empty means not indexed.
	Name() string

	// Desc describes the resource for logs.
	Desc() string
}

// DisposingHandler observes resource removal.
//
// OnBeforeDispose runs synchronously inside Remove, after the resource has
// left every index. OnDisposing runs later on the manager's disposal
// goroutine, right before the resource is freed. Handlers are called
// without the manager lock held and may call any Manager method except
// Stop.
type DisposingHandler interface {
	OnBeforeDispose(r Resource)
	OnDisposing(r Resource)
}

// HandlerFuncs adapts plain functions to DisposingHandler. Nil fields are
// skipped. Subscribe a pointer so Unsubscribe can find it again.
type HandlerFuncs struct {
	BeforeDispose func(r Resource)
	Disposing     func(r Resource)
}

// OnBeforeDispose calls BeforeDispose if set.
func (h *HandlerFuncs) OnBeforeDispose(r Resource) {
	if h.BeforeDispose != nil {
		h.BeforeDispose(r)
	}
}

// OnDisposing calls Disposing if set.
func (h *HandlerFuncs) OnDisposing(r Resource) {
	if h.Disposing != nil {
		h.Disposing(r)
	}
}

var _ DisposingHandler = (*HandlerFuncs)(nil)

// Expirer is implemented by resources that can be asked to terminate, e.g.
// a connection kicked by an operator. Expire must not block; the resource
// is expected to notice and remove itself.
type Expirer interface {
	Expire()
}
