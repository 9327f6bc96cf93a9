// Package resource tracks live resources (typically network connections)
// and destroys them safely.
//
// A Manager owns every resource from Add until it is freed. Removal is split
// into two phases so that a resource may ask for its own removal from
// inside its own goroutine or callback without being destroyed underneath
// the caller:
//
//  1. Remove takes the resource out of every lookup index and calls
//     OnBeforeDispose on each subscribed handler, synchronously.
//  2. The manager's disposal goroutine later calls OnDisposing on each
//     handler and then frees the resource (Close, if it implements
//     io.Closer).
//
// Remove never frees on the caller's stack and is idempotent: however many
// goroutines remove the same resource, handlers see exactly one
// OnBeforeDispose and one OnDisposing, and the resource is closed once.
//
// # Lifecycle
//
//	m := resource.NewManager(resource.ManagerConfig{Label: "rtmp"})
//	if err := m.Start(ctx); err != nil {
//	    return err
//	}
//	defer m.Stop()
//
//	m.Add(conn)
//	...
//	m.Remove(conn) // from any goroutine, including conn's own
//
// Stop removes every remaining resource and waits until all of them are
// freed.
//
// # Borrowing
//
// Code that must not keep a resource alive past removal holds a Ref from
// Acquire instead of the resource itself. Ref.Get fails once removal has
// started.
package resource
