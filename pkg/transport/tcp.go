package transport

import (
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
)

// TCPConn is a plaintext byte stream over one network connection.
//
// Timeouts apply per operation: each Read, ReadFully, Write or Writev call
// arms a fresh deadline from the configured timeout. An absolute deadline
// set with SetReadDeadline or SetWriteDeadline caps the armed one.
type TCPConn struct {
	conn net.Conn

	recvTimeout atomic.Int64
	sendTimeout atomic.Int64

	// Absolute deadlines in Unix nanoseconds; zero means none.
	readDeadline  atomic.Int64
	writeDeadline atomic.Int64

	recvBytes atomic.Int64
	sendBytes atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

// NewTCPConn wraps an accepted or dialed connection.
func NewTCPConn(conn net.Conn) *TCPConn {
	return &TCPConn{conn: conn}
}

// NetConn returns the wrapped connection.
func (c *TCPConn) NetConn() net.Conn {
	return c.conn
}

// LocalAddr returns the local network address.
func (c *TCPConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (c *TCPConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// SetNoDelay toggles TCP_NODELAY. It is a no-op for non-TCP connections.
func (c *TCPConn) SetNoDelay(noDelay bool) error {
	tc, ok := c.conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	return wrapError("set nodelay", tc.SetNoDelay(noDelay))
}

// SetRecvTimeout sets the receive timeout. Zero disables it.
func (c *TCPConn) SetRecvTimeout(d time.Duration) {
	c.recvTimeout.Store(int64(d))
}

// RecvTimeout returns the receive timeout.
func (c *TCPConn) RecvTimeout() time.Duration {
	return time.Duration(c.recvTimeout.Load())
}

// SetSendTimeout sets the send timeout. Zero disables it.
func (c *TCPConn) SetSendTimeout(d time.Duration) {
	c.sendTimeout.Store(int64(d))
}

// SendTimeout returns the send timeout.
func (c *TCPConn) SendTimeout() time.Duration {
	return time.Duration(c.sendTimeout.Load())
}

// SetDeadline sets both absolute deadlines. See SetReadDeadline.
func (c *TCPConn) SetDeadline(t time.Time) error {
	return multierr.Append(c.SetReadDeadline(t), c.SetWriteDeadline(t))
}

// SetReadDeadline sets an absolute deadline for reads that holds until it
// is changed, on top of the per-operation receive timeout. It also applies
// to a read already in progress. The zero time clears it.
func (c *TCPConn) SetReadDeadline(t time.Time) error {
	c.readDeadline.Store(unixNano(t))
	return wrapError("set read deadline", c.conn.SetReadDeadline(earliest(deadline(c.RecvTimeout()), t)))
}

// SetWriteDeadline is SetReadDeadline for writes.
func (c *TCPConn) SetWriteDeadline(t time.Time) error {
	c.writeDeadline.Store(unixNano(t))
	return wrapError("set write deadline", c.conn.SetWriteDeadline(earliest(deadline(c.SendTimeout()), t)))
}

// RecvBytes returns the total number of bytes received.
func (c *TCPConn) RecvBytes() int64 {
	return c.recvBytes.Load()
}

// SendBytes returns the total number of bytes sent.
func (c *TCPConn) SendBytes() int64 {
	return c.sendBytes.Load()
}

// Read reads up to len(p) bytes.
func (c *TCPConn) Read(p []byte) (int, error) {
	if err := c.armRead(); err != nil {
		return 0, wrapError("read", err)
	}
	n, err := c.conn.Read(p)
	c.recvBytes.Add(int64(n))
	return n, wrapError("read", err)
}

// ReadFully reads exactly len(p) bytes under a single receive deadline.
func (c *TCPConn) ReadFully(p []byte) (int, error) {
	if err := c.armRead(); err != nil {
		return 0, wrapError("read fully", err)
	}
	n, err := io.ReadFull(c.conn, p)
	c.recvBytes.Add(int64(n))
	return n, wrapError("read fully", err)
}

// Write writes p.
func (c *TCPConn) Write(p []byte) (int, error) {
	if err := c.armWrite(); err != nil {
		return 0, wrapError("write", err)
	}
	n, err := c.conn.Write(p)
	c.sendBytes.Add(int64(n))
	return n, wrapError("write", err)
}

// Writev writes bufs with a gathered write (writev on TCP sockets).
func (c *TCPConn) Writev(bufs [][]byte) (int64, error) {
	if err := c.armWrite(); err != nil {
		return 0, wrapError("writev", err)
	}
	// WriteTo consumes the slice it is called on; keep the caller's intact.
	b := append(net.Buffers(nil), bufs...)
	n, err := b.WriteTo(c.conn)
	c.sendBytes.Add(n)
	return n, wrapError("writev", err)
}

// Close closes the connection. It is safe to call Close multiple times.
func (c *TCPConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *TCPConn) armRead() error {
	return c.conn.SetReadDeadline(earliest(deadline(c.RecvTimeout()), fromUnixNano(c.readDeadline.Load())))
}

func (c *TCPConn) armWrite() error {
	return c.conn.SetWriteDeadline(earliest(deadline(c.SendTimeout()), fromUnixNano(c.writeDeadline.Load())))
}

// earliest returns the sooner of two deadlines, ignoring zero values.
func earliest(a, b time.Time) time.Time {
	switch {
	case a.IsZero():
		return b
	case b.IsZero() || a.Before(b):
		return a
	}
	return b
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// deadline converts a timeout into an absolute deadline. Zero means none.
func deadline(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}
