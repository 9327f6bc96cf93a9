package resource

import "errors"

var (
	// ErrStartup is returned by Start when the disposal goroutine cannot be
	// launched (already started or already stopped).
	ErrStartup = errors.New("resource manager startup failed")

	// ErrDuplicate is returned by TryAdd when the resource or one of its
	// keys is already registered.
	ErrDuplicate = errors.New("resource already registered")

	// ErrStopped is returned by TryAdd after Stop.
	ErrStopped = errors.New("resource manager stopped")

	// ErrNilResource is returned by TryAdd for a nil resource.
	ErrNilResource = errors.New("nil resource")

	// ErrNotFound is returned by Expire when no active resource has the id.
	ErrNotFound = errors.New("resource not found")

	// ErrNotExpirable is returned by Expire when the resource does not
	// implement Expirer.
	ErrNotExpirable = errors.New("resource cannot be expired")
)
