// Package transport provides the byte-stream layer that protocol sessions of
// the media server run on.
//
// The transport layer handles:
//   - Plaintext TCP streams with per-direction timeouts and byte counters
//   - Server-side TLS termination over any byte stream
//   - Client-side TLS with SNI and certificate re-signing for interception
//   - Outbound dialing with exponential backoff
//
// # Stack
//
//	┌────────────────────────────────┐
//	│  RTMP / HTTP-FLV / ... parsers │
//	├────────────────────────────────┤
//	│  ReadWriter (this package)     │
//	├────────────────────────────────┤
//	│  TLSServerConn / TLSClientConn │  (optional)
//	├────────────────────────────────┤
//	│  TCPConn                       │
//	└────────────────────────────────┘
//
// # Errors
//
// Every I/O failure is an *OpError. Callers classify it with errors.Is:
//
//	n, err := conn.ReadFully(buf)
//	switch {
//	case errors.Is(err, transport.ErrTimeout):
//		// deadline elapsed, may retry
//	case errors.Is(err, io.EOF):
//		// peer closed cleanly before the first byte
//	case errors.Is(err, transport.ErrIO):
//		// fatal to the connection
//	}
//
// TLS negotiation failures match ErrHandshake. A wrapper whose handshake
// failed is unusable and must be discarded.
//
// # Concurrency
//
// A transport is owned by exactly one connection goroutine. Only the byte
// counters may be read from other goroutines.
package transport
