package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/streamhub/streamhub-go/pkg/log"
)

// TLSConfig holds configuration for TLS wrappers.
type TLSConfig struct {
	// Certificate is the certificate this endpoint presents. Required for
	// servers, optional for clients.
	Certificate tls.Certificate

	// RootCAs is the pool used to verify servers. Nil uses the host's
	// system roots.
	RootCAs *x509.CertPool

	// ClientCAs is the pool used to verify client certificates when
	// RequireClientCert is set.
	ClientCAs *x509.CertPool

	// RequireClientCert requires and verifies a client certificate.
	RequireClientCert bool

	// ServerName is the SNI name a client presents and verifies.
	ServerName string

	// NextProtos is the ALPN protocol list, in preference order.
	NextProtos []string

	// InsecureSkipVerify disables certificate verification.
	// Only for testing - never use in production!
	InsecureSkipVerify bool

	// VerifyPeerCertificate is an optional callback for custom certificate verification.
	VerifyPeerCertificate func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error
}

// NewServerTLSConfig creates a TLS configuration for the server side.
func NewServerTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("TLSConfig is required")
	}
	if len(cfg.Certificate.Certificate) == 0 {
		return nil, fmt.Errorf("server certificate is required")
	}

	tlsConfig := &tls.Config{
		// Streaming clients (encoders, players) commonly stop at TLS 1.2
		MinVersion: tls.VersionTLS12,

		Certificates: []tls.Certificate{cfg.Certificate},
		NextProtos:   cfg.NextProtos,

		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},

		VerifyPeerCertificate: cfg.VerifyPeerCertificate,
	}

	if cfg.RequireClientCert {
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		tlsConfig.ClientCAs = cfg.ClientCAs
	}

	return tlsConfig, nil
}

// NewClientTLSConfig creates a TLS configuration for outbound connections.
func NewClientTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("TLSConfig is required")
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,

		RootCAs:    cfg.RootCAs,
		ServerName: cfg.ServerName,
		NextProtos: cfg.NextProtos,

		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},

		VerifyPeerCertificate: cfg.VerifyPeerCertificate,

		// For testing only
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	if len(cfg.Certificate.Certificate) > 0 {
		tlsConfig.Certificates = []tls.Certificate{cfg.Certificate}
	}

	return tlsConfig, nil
}

// handshakeState tracks the one-shot handshake of a TLS wrapper.
type handshakeState uint8

const (
	handshakeNone handshakeState = iota
	handshakeEstablished
	handshakeFailed
)

// logHandshake records the outcome of a handshake to the event logger.
func logHandshake(logger log.Logger, connID string, role log.Role, serverName string, state *tls.ConnectionState, err error) {
	if logger == nil {
		return
	}
	ev := &log.HandshakeEvent{
		Role:       role,
		ServerName: serverName,
	}
	if state != nil {
		ev.Version = state.Version
		ev.CipherSuite = state.CipherSuite
		ev.ServerName = state.ServerName
		ev.NegotiatedProtocol = state.NegotiatedProtocol
	}
	if err != nil {
		ev.Error = err.Error()
	}
	logger.Log(log.Event{
		Timestamp:  time.Now(),
		ResourceID: connID,
		Layer:      log.LayerTLS,
		Category:   log.CategoryHandshake,
		Handshake:  ev,
	})
}
