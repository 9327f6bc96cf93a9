package log

import (
	"crypto/tls"
	"fmt"
	"time"
)

// Event represents a lifecycle event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ResourceID identifies the resource or connection the event is about.
	ResourceID string `cbor:"2,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"3,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"4,keyasint"`

	// Label is the label of the manager that owns the resource.
	Label string `cbor:"5,keyasint,omitempty"`

	// RemoteAddr is the peer address (IP:port).
	RemoteAddr string `cbor:"6,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	StateChange *StateChangeEvent `cbor:"7,keyasint,omitempty"` // Resource/connection state
	Handshake   *HandshakeEvent   `cbor:"8,keyasint,omitempty"` // TLS negotiation
	Transfer    *TransferEvent    `cbor:"9,keyasint,omitempty"` // Byte totals
	Error       *ErrorEventData   `cbor:"10,keyasint,omitempty"`
}

// Layer indicates which layer captured the event.
type Layer uint8

const (
	// LayerTransport is the byte-stream layer.
	LayerTransport Layer = 0
	// LayerTLS is the TLS wrapper layer.
	LayerTLS Layer = 1
	// LayerManager is the resource manager.
	LayerManager Layer = 2
	// LayerServer is the accept loop and connection handling.
	LayerServer Layer = 3
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerTLS:
		return "TLS"
	case LayerManager:
		return "MANAGER"
	case LayerServer:
		return "SERVER"
	default:
		return "UNKNOWN"
	}
}

// ParseLayer parses a layer name as printed by String (case-sensitive).
func ParseLayer(s string) (Layer, error) {
	for l := LayerTransport; l <= LayerServer; l++ {
		if l.String() == s {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown layer %q", s)
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryState indicates a state change.
	CategoryState Category = 0
	// CategoryHandshake indicates a TLS handshake result.
	CategoryHandshake Category = 1
	// CategoryTransfer indicates byte totals for a closed connection.
	CategoryTransfer Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryState:
		return "STATE"
	case CategoryHandshake:
		return "HANDSHAKE"
	case CategoryTransfer:
		return "TRANSFER"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseCategory parses a category name as printed by String.
func ParseCategory(s string) (Category, error) {
	for c := CategoryState; c <= CategoryError; c++ {
		if c.String() == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown category %q", s)
}

// Role indicates which side of a TLS handshake the local endpoint played.
type Role uint8

const (
	// RoleServer indicates the local endpoint accepted the session.
	RoleServer Role = 0
	// RoleClient indicates the local endpoint initiated the session.
	RoleClient Role = 1
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleServer:
		return "SERVER"
	case RoleClient:
		return "CLIENT"
	default:
		return "UNKNOWN"
	}
}

// StateChangeEvent captures resource and connection lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityResource indicates a managed resource state change.
	StateEntityResource StateEntity = 0
	// StateEntityConnection indicates a connection state change.
	StateEntityConnection StateEntity = 1
	// StateEntityManager indicates the manager itself started or stopped.
	StateEntityManager StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityResource:
		return "RESOURCE"
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityManager:
		return "MANAGER"
	default:
		return "UNKNOWN"
	}
}

// HandshakeEvent captures the outcome of a TLS handshake.
type HandshakeEvent struct {
	// Role the local endpoint played.
	Role Role `cbor:"1,keyasint"`

	// ServerName is the SNI name requested by the client.
	ServerName string `cbor:"2,keyasint,omitempty"`

	// Version is the negotiated TLS version (0 on failure).
	Version uint16 `cbor:"3,keyasint,omitempty"`

	// CipherSuite is the negotiated cipher suite (0 on failure).
	CipherSuite uint16 `cbor:"4,keyasint,omitempty"`

	// NegotiatedProtocol is the ALPN protocol, if any.
	NegotiatedProtocol string `cbor:"5,keyasint,omitempty"`

	// Error is the failure reason. Empty on success.
	Error string `cbor:"6,keyasint,omitempty"`
}

// Succeeded reports whether the handshake completed.
func (h *HandshakeEvent) Succeeded() bool {
	return h.Error == ""
}

// VersionName returns the TLS version name, e.g. "TLS 1.3".
func (h *HandshakeEvent) VersionName() string {
	if h.Version == 0 {
		return ""
	}
	return tls.VersionName(h.Version)
}

// CipherSuiteName returns the IANA name of the cipher suite.
func (h *HandshakeEvent) CipherSuiteName() string {
	if h.CipherSuite == 0 {
		return ""
	}
	return tls.CipherSuiteName(h.CipherSuite)
}

// TransferEvent captures byte totals when a connection is closed.
type TransferEvent struct {
	// RecvBytes is the total number of bytes read from the peer.
	RecvBytes int64 `cbor:"1,keyasint"`

	// SendBytes is the total number of bytes written to the peer.
	SendBytes int64 `cbor:"2,keyasint"`

	// Duration is the connection lifetime. Stored as nanoseconds.
	Duration time.Duration `cbor:"3,keyasint"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}
