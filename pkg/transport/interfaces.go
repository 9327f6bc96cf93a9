package transport

import (
	"crypto/tls"
	"time"
)

// Reader is the receive half of a byte stream.
type Reader interface {
	// Read reads up to len(p) bytes. A short count is not an error.
	Read(p []byte) (int, error)

	// ReadFully reads exactly len(p) bytes. If the stream closes before
	// the first byte the error wraps io.EOF; if it closes mid-read the
	// error wraps io.ErrUnexpectedEOF. A short count is never a success.
	ReadFully(p []byte) (int, error)

	// SetRecvTimeout sets the receive timeout. Zero disables it.
	SetRecvTimeout(d time.Duration)

	// RecvTimeout returns the receive timeout.
	RecvTimeout() time.Duration

	// RecvBytes returns the total number of bytes received.
	RecvBytes() int64
}

// Writer is the send half of a byte stream.
type Writer interface {
	// Write writes p.
	Write(p []byte) (int, error)

	// Writev writes the buffers in order as a single gathered write
	// where the underlying stream supports it.
	Writev(bufs [][]byte) (int64, error)

	// SetSendTimeout sets the send timeout. Zero disables it.
	SetSendTimeout(d time.Duration)

	// SendTimeout returns the send timeout.
	SendTimeout() time.Duration

	// SendBytes returns the total number of bytes sent.
	SendBytes() int64
}

// ReadWriter is the byte-stream capability protocol layers consume.
// Implemented by TCPConn, TLSServerConn and TLSClientConn.
type ReadWriter interface {
	Reader
	Writer
}

// TLSSession is implemented by the TLS wrappers once the handshake is done.
type TLSSession interface {
	// ConnectionState returns the negotiated TLS state.
	ConnectionState() tls.ConnectionState
}

// Compile-time interface satisfaction checks.
var (
	_ ReadWriter = (*TCPConn)(nil)
	_ deadliner  = (*TCPConn)(nil)
	_ ReadWriter = (*TLSServerConn)(nil)
	_ ReadWriter = (*TLSClientConn)(nil)
	_ TLSSession = (*TLSServerConn)(nil)
	_ TLSSession = (*TLSClientConn)(nil)
)
