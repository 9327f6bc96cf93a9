package transport

import (
	"context"
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"time"

	certpkg "github.com/streamhub/streamhub-go/pkg/cert"
	"github.com/streamhub/streamhub-go/pkg/log"
)

// TLSServerConn terminates TLS over a byte stream.
//
// The wrapped transport is borrowed: closing the wrapper sends close_notify
// but leaves the transport open for its owner to close. The one exception is
// a cancelled handshake context, which closes the transport so the blocked
// handshake returns.
type TLSServerConn struct {
	transport ReadWriter
	base      *TLSConfig

	conn  *tls.Conn
	state handshakeState

	// Logging support (optional)
	logger log.Logger
	connID string
}

// NewTLSServerConn wraps transport for server-side TLS.
func NewTLSServerConn(transport ReadWriter) *TLSServerConn {
	return &TLSServerConn{transport: transport}
}

// NewTLSServerConnWithConfig wraps transport and uses cfg (ALPN, client
// authentication) for the handshake. The certificate in cfg is replaced by
// the one passed to Handshake or HandshakeWithCert.
func NewTLSServerConnWithConfig(transport ReadWriter, cfg *TLSConfig) *TLSServerConn {
	return &TLSServerConn{transport: transport, base: cfg}
}

// SetLogger configures event logging for this wrapper.
// Pass nil to disable logging.
func (c *TLSServerConn) SetLogger(logger log.Logger, connID string) {
	c.logger = logger
	c.connID = connID
}

// Transport returns the wrapped byte stream.
func (c *TLSServerConn) Transport() ReadWriter {
	return c.transport
}

// Handshake loads a PEM-encoded key and certificate from disk and performs
// the server handshake.
func (c *TLSServerConn) Handshake(ctx context.Context, keyFile, certFile string) error {
	if c.state != handshakeNone {
		return handshakeError(ErrHandshakeAttempted)
	}
	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		c.state = handshakeFailed
		return handshakeError(fmt.Errorf("load key pair: %w", err))
	}
	return c.handshake(ctx, pair)
}

// HandshakeWithCert performs the server handshake with in-memory
// credentials, e.g. a certificate generated or re-signed at runtime.
func (c *TLSServerConn) HandshakeWithCert(ctx context.Context, cert *x509.Certificate, key crypto.PrivateKey) error {
	if c.state != handshakeNone {
		return handshakeError(ErrHandshakeAttempted)
	}
	if err := certpkg.VerifyKeyPair(cert, key); err != nil {
		c.state = handshakeFailed
		return handshakeError(err)
	}
	pair := tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  key,
		Leaf:        cert,
	}
	return c.handshake(ctx, pair)
}

func (c *TLSServerConn) handshake(ctx context.Context, pair tls.Certificate) error {
	cfg := TLSConfig{}
	if c.base != nil {
		cfg = *c.base
	}
	cfg.Certificate = pair

	tlsConfig, err := NewServerTLSConfig(&cfg)
	if err != nil {
		c.state = handshakeFailed
		return handshakeError(err)
	}

	conn := tls.Server(&streamConn{rw: c.transport}, tlsConfig)
	if err := conn.HandshakeContext(ctx); err != nil {
		c.state = handshakeFailed
		logHandshake(c.logger, c.connID, log.RoleServer, "", nil, err)
		return handshakeError(err)
	}

	c.conn = conn
	c.state = handshakeEstablished

	state := conn.ConnectionState()
	logHandshake(c.logger, c.connID, log.RoleServer, "", &state, nil)
	return nil
}

// ConnectionState returns the negotiated TLS state. It is the zero value
// before a successful handshake.
func (c *TLSServerConn) ConnectionState() tls.ConnectionState {
	if c.conn == nil {
		return tls.ConnectionState{}
	}
	return c.conn.ConnectionState()
}

// Read reads decrypted application data.
func (c *TLSServerConn) Read(p []byte) (int, error) {
	if c.conn == nil {
		return 0, &OpError{Op: "read", Kind: KindIO, Err: ErrNotEstablished}
	}
	n, err := c.conn.Read(p)
	return n, wrapError("read", err)
}

// ReadFully reads exactly len(p) bytes of decrypted application data.
func (c *TLSServerConn) ReadFully(p []byte) (int, error) {
	if c.conn == nil {
		return 0, &OpError{Op: "read fully", Kind: KindIO, Err: ErrNotEstablished}
	}
	n, err := io.ReadFull(c.conn, p)
	return n, wrapError("read fully", err)
}

// Write encrypts and writes p.
func (c *TLSServerConn) Write(p []byte) (int, error) {
	if c.conn == nil {
		return 0, &OpError{Op: "write", Kind: KindIO, Err: ErrNotEstablished}
	}
	n, err := c.conn.Write(p)
	return n, wrapError("write", err)
}

// Writev encrypts and writes the buffers in order.
func (c *TLSServerConn) Writev(bufs [][]byte) (int64, error) {
	if c.conn == nil {
		return 0, &OpError{Op: "writev", Kind: KindIO, Err: ErrNotEstablished}
	}
	return writeBuffers(c.conn, bufs)
}

// SetRecvTimeout proxies to the wrapped transport.
func (c *TLSServerConn) SetRecvTimeout(d time.Duration) { c.transport.SetRecvTimeout(d) }

// RecvTimeout proxies to the wrapped transport.
func (c *TLSServerConn) RecvTimeout() time.Duration { return c.transport.RecvTimeout() }

// SetSendTimeout proxies to the wrapped transport.
func (c *TLSServerConn) SetSendTimeout(d time.Duration) { c.transport.SetSendTimeout(d) }

// SendTimeout proxies to the wrapped transport.
func (c *TLSServerConn) SendTimeout() time.Duration { return c.transport.SendTimeout() }

// RecvBytes returns the ciphertext bytes received by the wrapped transport.
func (c *TLSServerConn) RecvBytes() int64 { return c.transport.RecvBytes() }

// SendBytes returns the ciphertext bytes sent by the wrapped transport.
func (c *TLSServerConn) SendBytes() int64 { return c.transport.SendBytes() }

// Close sends close_notify. The transport is not closed.
func (c *TLSServerConn) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.CloseWrite()
}

// writeBuffers writes bufs to a TLS session one record batch at a time.
func writeBuffers(conn *tls.Conn, bufs [][]byte) (int64, error) {
	var total int64
	for _, b := range bufs {
		if len(b) == 0 {
			continue
		}
		n, err := conn.Write(b)
		total += int64(n)
		if err != nil {
			return total, wrapError("writev", err)
		}
	}
	return total, nil
}
