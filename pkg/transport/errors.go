package transport

import (
	"errors"
	"io"
	"net"
	"os"
)

// Error kinds. Match them with errors.Is.
var (
	// ErrTimeout indicates the configured deadline elapsed. The operation
	// may be retried by the caller.
	ErrTimeout = errors.New("i/o timeout")

	// ErrIO indicates an underlying transport failure (reset, broken pipe,
	// closed stream). It is fatal to the connection.
	ErrIO = errors.New("i/o failure")

	// ErrHandshake indicates TLS negotiation failed. The wrapper must be
	// discarded.
	ErrHandshake = errors.New("tls handshake failed")
)

// Wrapper state errors.
var (
	ErrNotEstablished     = errors.New("tls session not established")
	ErrHandshakeAttempted = errors.New("handshake already attempted")
)

// ErrorKind classifies an OpError.
type ErrorKind uint8

const (
	// KindIO is an underlying transport failure.
	KindIO ErrorKind = iota + 1

	// KindTimeout is an elapsed deadline.
	KindTimeout

	// KindHandshake is a TLS negotiation failure.
	KindHandshake
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindIO:
		return "IO"
	case KindTimeout:
		return "TIMEOUT"
	case KindHandshake:
		return "HANDSHAKE"
	default:
		return "UNKNOWN"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindTimeout:
		return ErrTimeout
	case KindHandshake:
		return ErrHandshake
	default:
		return ErrIO
	}
}

// OpError is the error returned by every transport operation.
//
// It implements net.Error so the TLS engine treats timeouts as temporary and
// keeps the session usable after a read deadline elapses.
type OpError struct {
	// Op is the operation that failed ("read", "write", "handshake", ...).
	Op string

	// Kind classifies the failure.
	Kind ErrorKind

	// Err is the underlying cause.
	Err error
}

// Error returns the error message.
func (e *OpError) Error() string {
	msg := e.Op + ": " + e.Kind.sentinel().Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *OpError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind.
func (e *OpError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// Timeout reports whether the error is a deadline expiry.
func (e *OpError) Timeout() bool {
	return e.Kind == KindTimeout
}

// Temporary reports whether the operation may be retried.
func (e *OpError) Temporary() bool {
	return e.Kind == KindTimeout
}

var _ net.Error = (*OpError)(nil)

// IsTimeout reports whether err is a transport timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsClosed reports whether err means the peer closed the stream cleanly
// before any byte of the current operation was transferred.
func IsClosed(err error) bool {
	return errors.Is(err, io.EOF)
}

// wrapError converts err into an *OpError for op. Errors that already are
// an *OpError keep their classification.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var opErr *OpError
	if errors.As(err, &opErr) {
		return err
	}
	kind := KindIO
	var netErr net.Error
	if errors.Is(err, os.ErrDeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = KindTimeout
	}
	return &OpError{Op: op, Kind: kind, Err: err}
}

// handshakeError wraps err as a handshake failure.
func handshakeError(err error) error {
	return &OpError{Op: "handshake", Kind: KindHandshake, Err: err}
}
