package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/streamhub/streamhub-go/pkg/resource"
	"github.com/streamhub/streamhub-go/pkg/transport"
)

// closeNotifyTimeout bounds the close_notify sent when a TLS connection is
// closed.
const closeNotifyTimeout = 250 * time.Millisecond

// nextFastID hands out fast ids process-wide, so servers sharing a manager
// never collide.
var nextFastID atomic.Uint64

// Conn is one accepted connection. It is a resource.Resource owned by the
// server's manager from registration until disposal.
//
// Conn implements transport.ReadWriter over the negotiated stream: the TLS
// session when the server terminates TLS, the plain TCP stream otherwise.
type Conn struct {
	id      string
	fastID  uint64
	remote  net.Addr
	local   net.Addr
	created time.Time

	tcp    *transport.TCPConn
	tls    *transport.TLSServerConn
	stream transport.ReadWriter

	ctx    context.Context
	cancel context.CancelFunc

	server  *Server
	expired atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

func newConn(s *Server, id string, tcp *transport.TCPConn, tlsConn *transport.TLSServerConn) *Conn {
	ctx, cancel := context.WithCancel(s.ctx)
	c := &Conn{
		id:      id,
		fastID:  nextFastID.Add(1),
		remote:  tcp.RemoteAddr(),
		local:   tcp.LocalAddr(),
		created: time.Now(),
		tcp:     tcp,
		tls:     tlsConn,
		stream:  tcp,
		ctx:     ctx,
		cancel:  cancel,
		server:  s,
	}
	if tlsConn != nil {
		c.stream = tlsConn
	}
	return c
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() string {
	return c.id
}

// FastID returns the numeric connection identifier.
func (c *Conn) FastID() uint64 {
	return c.fastID
}

// Name returns the remote address, which is unique among live connections.
func (c *Conn) Name() string {
	return c.remote.String()
}

// Desc describes the connection for logs.
func (c *Conn) Desc() string {
	kind := "tcp"
	if c.tls != nil {
		kind = "tls"
	}
	return fmt.Sprintf("%s conn %s from %s", kind, c.id, c.remote)
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.remote
}

// LocalAddr returns the local address.
func (c *Conn) LocalAddr() net.Addr {
	return c.local
}

// Created returns when the connection was accepted.
func (c *Conn) Created() time.Time {
	return c.created
}

// Context is cancelled when the connection is expired, closed, or its
// server stops.
func (c *Conn) Context() context.Context {
	return c.ctx
}

// Transport returns the underlying TCP stream.
func (c *Conn) Transport() *transport.TCPConn {
	return c.tcp
}

// TLS reports the negotiated TLS state. ok is false for plaintext
// connections.
func (c *Conn) TLS() (state tls.ConnectionState, ok bool) {
	if c.tls == nil {
		return tls.ConnectionState{}, false
	}
	return c.tls.ConnectionState(), true
}

// Expired reports whether Expire was called.
func (c *Conn) Expired() bool {
	return c.expired.Load()
}

// Expire terminates the connection: the context is cancelled and the
// socket closed so a blocked read returns. The serving goroutine then
// removes the connection from the manager. Expire does not block.
func (c *Conn) Expire() {
	if !c.expired.CompareAndSwap(false, true) {
		return
	}
	c.cancel()
	_ = c.tcp.Close()
	c.server.logConnState(c, "CONNECTED", "EXPIRED", "")
}

// Close releases the connection. It is called by the manager's disposal
// goroutine; handlers should return instead of calling it. A close_notify
// is sent first on TLS connections that were not expired.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		if c.tls != nil && !c.expired.Load() {
			c.closeNotify()
		}
		c.closeErr = c.tcp.Close()
		c.server.logTransfer(c)
	})
	return c.closeErr
}

// closeNotify sends close_notify, giving up after closeNotifyTimeout so a
// peer that stopped reading cannot stall disposal. The write deadline also
// cuts short a handler write holding the session's write lock.
func (c *Conn) closeNotify() {
	_ = c.tcp.SetWriteDeadline(time.Now().Add(closeNotifyTimeout))

	done := make(chan error, 1)
	go func() {
		done <- c.tls.Close()
	}()

	timer := time.NewTimer(closeNotifyTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			c.server.debugLog("close_notify failed", "conn", c.id, "error", err)
		}
	case <-timer.C:
		// Closing the socket afterwards unblocks the sender.
		c.server.debugLog("close_notify timed out", "conn", c.id)
	}
}

// Read reads up to len(p) bytes.
func (c *Conn) Read(p []byte) (int, error) { return c.stream.Read(p) }

// ReadFully reads exactly len(p) bytes.
func (c *Conn) ReadFully(p []byte) (int, error) { return c.stream.ReadFully(p) }

// Write writes p.
func (c *Conn) Write(p []byte) (int, error) { return c.stream.Write(p) }

// Writev writes the buffers in order.
func (c *Conn) Writev(bufs [][]byte) (int64, error) { return c.stream.Writev(bufs) }

// SetRecvTimeout sets the receive timeout. Zero disables it.
func (c *Conn) SetRecvTimeout(d time.Duration) { c.stream.SetRecvTimeout(d) }

// RecvTimeout returns the receive timeout.
func (c *Conn) RecvTimeout() time.Duration { return c.stream.RecvTimeout() }

// SetSendTimeout sets the send timeout. Zero disables it.
func (c *Conn) SetSendTimeout(d time.Duration) { c.stream.SetSendTimeout(d) }

// SendTimeout returns the send timeout.
func (c *Conn) SendTimeout() time.Duration { return c.stream.SendTimeout() }

// RecvBytes returns the bytes received on the socket.
func (c *Conn) RecvBytes() int64 { return c.stream.RecvBytes() }

// SendBytes returns the bytes sent on the socket.
func (c *Conn) SendBytes() int64 { return c.stream.SendBytes() }

// Compile-time interface satisfaction checks.
var (
	_ resource.Resource    = (*Conn)(nil)
	_ resource.Expirer     = (*Conn)(nil)
	_ transport.ReadWriter = (*Conn)(nil)
)
