package transport

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/multierr"

	"github.com/streamhub/streamhub-go/pkg/cert"
	"github.com/streamhub/streamhub-go/pkg/log"
)

// TLSClientConn performs outbound TLS over a dialed TCPConn.
//
// The wrapped transport is owned: Close closes it.
type TLSClientConn struct {
	transport *TCPConn
	config    TLSConfig

	conn  *tls.Conn
	state handshakeState

	// Logging support (optional)
	logger log.Logger
	connID string
}

// NewTLSClientConn wraps transport for client-side TLS. cfg may be nil, in
// which case servers are verified against the system roots.
func NewTLSClientConn(transport *TCPConn, cfg *TLSConfig) *TLSClientConn {
	c := &TLSClientConn{transport: transport}
	if cfg != nil {
		c.config = *cfg
	}
	return c
}

// SetLogger configures event logging for this wrapper.
// Pass nil to disable logging.
func (c *TLSClientConn) SetLogger(logger log.Logger, connID string) {
	c.logger = logger
	c.connID = connID
}

// SetServerName sets the SNI name presented during the handshake and
// verified against the server certificate. It must be called before
// Handshake.
func (c *TLSClientConn) SetServerName(name string) error {
	if c.state != handshakeNone {
		return ErrHandshakeAttempted
	}
	c.config.ServerName = name
	return nil
}

// ServerName returns the configured SNI name.
func (c *TLSClientConn) ServerName() string {
	return c.config.ServerName
}

// Handshake performs the client handshake.
func (c *TLSClientConn) Handshake(ctx context.Context) error {
	if c.state != handshakeNone {
		return handshakeError(ErrHandshakeAttempted)
	}

	tlsConfig, err := NewClientTLSConfig(&c.config)
	if err != nil {
		c.state = handshakeFailed
		return handshakeError(err)
	}
	if tlsConfig.ServerName == "" && !tlsConfig.InsecureSkipVerify {
		// Without a name the engine cannot verify the server; a bare
		// address still verifies against IP SANs.
		if host, ok := remoteHost(c.transport); ok {
			tlsConfig.ServerName = host
		}
	}

	conn := tls.Client(&streamConn{rw: c.transport}, tlsConfig)
	if err := conn.HandshakeContext(ctx); err != nil {
		c.state = handshakeFailed
		logHandshake(c.logger, c.connID, log.RoleClient, c.config.ServerName, nil, err)
		return handshakeError(err)
	}

	c.conn = conn
	c.state = handshakeEstablished

	state := conn.ConnectionState()
	logHandshake(c.logger, c.connID, log.RoleClient, c.config.ServerName, &state, nil)
	return nil
}

// ConnectionState returns the negotiated TLS state. It is the zero value
// before a successful handshake.
func (c *TLSClientConn) ConnectionState() tls.ConnectionState {
	if c.conn == nil {
		return tls.ConnectionState{}
	}
	return c.conn.ConnectionState()
}

// PeerCertificate returns the server's leaf certificate, or nil before a
// successful handshake.
func (c *TLSClientConn) PeerCertificate() *x509.Certificate {
	certs := c.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return nil
	}
	return certs[0]
}

// PrepareResignedEndpoint builds a certificate that mirrors the identity of
// remote (subject, SANs, validity, usages) but carries serverKey's public
// key and is self-signed by serverKey. When remote is nil the upstream
// certificate from the completed handshake is used.
//
// This is the opt-in interception path for an inspecting relay: present the
// result downstream with TLSServerConn.HandshakeWithCert while this wrapper
// keeps validating the real upstream. The certificate is only trusted by
// clients that trust serverKey (or the certificate itself); it does not
// chain to any public CA.
func (c *TLSClientConn) PrepareResignedEndpoint(remote *x509.Certificate, serverKey crypto.Signer) (tls.Certificate, error) {
	if remote == nil {
		remote = c.PeerCertificate()
	}
	if remote == nil {
		return tls.Certificate{}, fmt.Errorf("no remote certificate: %w", ErrNotEstablished)
	}
	resigned, err := cert.Resign(remote, serverKey, nil, nil)
	if err != nil {
		return tls.Certificate{}, err
	}
	return cert.TLSCertificate(resigned, serverKey), nil
}

// GenerateKeyPair generates an RSA key for PrepareResignedEndpoint.
func (c *TLSClientConn) GenerateKeyPair(bits int) (*rsa.PrivateKey, error) {
	return cert.GenerateRSAKey(bits)
}

// Read reads decrypted application data.
func (c *TLSClientConn) Read(p []byte) (int, error) {
	if c.conn == nil {
		return 0, &OpError{Op: "read", Kind: KindIO, Err: ErrNotEstablished}
	}
	n, err := c.conn.Read(p)
	return n, wrapError("read", err)
}

// ReadFully reads exactly len(p) bytes of decrypted application data.
func (c *TLSClientConn) ReadFully(p []byte) (int, error) {
	if c.conn == nil {
		return 0, &OpError{Op: "read fully", Kind: KindIO, Err: ErrNotEstablished}
	}
	n, err := io.ReadFull(c.conn, p)
	return n, wrapError("read fully", err)
}

// Write encrypts and writes p.
func (c *TLSClientConn) Write(p []byte) (int, error) {
	if c.conn == nil {
		return 0, &OpError{Op: "write", Kind: KindIO, Err: ErrNotEstablished}
	}
	n, err := c.conn.Write(p)
	return n, wrapError("write", err)
}

// Writev encrypts and writes the buffers in order.
func (c *TLSClientConn) Writev(bufs [][]byte) (int64, error) {
	if c.conn == nil {
		return 0, &OpError{Op: "writev", Kind: KindIO, Err: ErrNotEstablished}
	}
	return writeBuffers(c.conn, bufs)
}

// SetRecvTimeout proxies to the wrapped transport.
func (c *TLSClientConn) SetRecvTimeout(d time.Duration) { c.transport.SetRecvTimeout(d) }

// RecvTimeout proxies to the wrapped transport.
func (c *TLSClientConn) RecvTimeout() time.Duration { return c.transport.RecvTimeout() }

// SetSendTimeout proxies to the wrapped transport.
func (c *TLSClientConn) SetSendTimeout(d time.Duration) { c.transport.SetSendTimeout(d) }

// SendTimeout proxies to the wrapped transport.
func (c *TLSClientConn) SendTimeout() time.Duration { return c.transport.SendTimeout() }

// RecvBytes returns the ciphertext bytes received by the wrapped transport.
func (c *TLSClientConn) RecvBytes() int64 { return c.transport.RecvBytes() }

// SendBytes returns the ciphertext bytes sent by the wrapped transport.
func (c *TLSClientConn) SendBytes() int64 { return c.transport.SendBytes() }

// Close sends close_notify when a session is established and closes the
// owned transport.
func (c *TLSClientConn) Close() error {
	var err error
	if c.conn != nil {
		err = c.conn.CloseWrite()
	}
	return multierr.Append(err, c.transport.Close())
}

// remoteHost returns the host part of the transport's remote address.
func remoteHost(t *TCPConn) (string, bool) {
	addr := t.RemoteAddr()
	if addr == nil {
		return "", false
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil || host == "" {
		return "", false
	}
	return host, true
}
