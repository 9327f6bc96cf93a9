package server

import (
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/streamhub/streamhub-go/pkg/log"
	"github.com/streamhub/streamhub-go/pkg/resource"
	"github.com/streamhub/streamhub-go/pkg/transport"
)

// DefaultHandshakeTimeout bounds the TLS handshake of an accepted connection.
const DefaultHandshakeTimeout = 10 * time.Second

// Errors returned by New and Start.
var (
	ErrNoManager      = errors.New("server: manager is required")
	ErrNoHandler      = errors.New("server: handler is required")
	ErrNoCredentials  = errors.New("server: TLS enabled without certificate")
	ErrAlreadyRunning = errors.New("server: already running")
)

// Handler serves one connection. It runs on the connection's goroutine and
// the connection is removed from the manager once it returns. ctx is the
// connection context.
type Handler interface {
	ServeConn(ctx context.Context, c *Conn) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, c *Conn) error

// ServeConn calls f(ctx, c).
func (f HandlerFunc) ServeConn(ctx context.Context, c *Conn) error {
	return f(ctx, c)
}

// TLSOptions enables TLS termination on accepted connections.
//
// Credentials come either from PEM files (KeyFile and CertFile) or from
// memory (Certificate and Key). Files win when both are set.
type TLSOptions struct {
	KeyFile  string
	CertFile string

	Certificate *x509.Certificate
	Key         crypto.PrivateKey

	// Config carries ALPN and client authentication settings (optional).
	Config *transport.TLSConfig

	// HandshakeTimeout bounds each handshake (default: 10s).
	HandshakeTimeout time.Duration
}

func (o *TLSOptions) fromFiles() bool {
	return o.KeyFile != "" && o.CertFile != ""
}

// Config configures a Server.
type Config struct {
	// Address to listen on (e.g., ":1935" or "127.0.0.1:0").
	Address string

	// TLS enables TLS termination. Nil serves plaintext.
	TLS *TLSOptions

	// RecvTimeout and SendTimeout apply to every accepted connection.
	RecvTimeout time.Duration
	SendTimeout time.Duration

	// NoDelay sets TCP_NODELAY on accepted sockets.
	NoDelay bool

	// MaxConns limits concurrent connections. 0 means unlimited.
	MaxConns int

	// Manager tracks accepted connections. Required.
	Manager *resource.Manager

	// Handler serves accepted connections. Required.
	Handler Handler

	// Logger for operational messages (optional).
	Logger *slog.Logger

	// EventLogger receives connection and handshake events (optional).
	EventLogger log.Logger
}

// Server accepts connections and hands them to a Handler.
type Server struct {
	config   Config
	listener net.Listener

	// Connections being served, for Stop.
	conns   map[*Conn]struct{}
	connsMu sync.RWMutex

	// Connections holding a MaxConns slot, counted from accept.
	slots atomic.Int64

	// State. mu orders Serve against Stop.
	mu      sync.Mutex
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a server.
func New(config Config) (*Server, error) {
	if config.Manager == nil {
		return nil, ErrNoManager
	}
	if config.Handler == nil {
		return nil, ErrNoHandler
	}
	if config.TLS != nil {
		opts := *config.TLS
		config.TLS = &opts
		if !opts.fromFiles() && (opts.Certificate == nil || opts.Key == nil) {
			return nil, ErrNoCredentials
		}
		if opts.HandshakeTimeout == 0 {
			opts.HandshakeTimeout = DefaultHandshakeTimeout
		}
	}

	return &Server{
		config: config,
		conns:  make(map[*Conn]struct{}),
	}, nil
}

// Start listens on the configured address and begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	if err := s.Serve(ctx, listener); err != nil {
		listener.Close()
		return err
	}
	return nil
}

// Serve begins accepting connections on an existing listener. The server
// takes ownership of it.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running.Load() {
		return ErrAlreadyRunning
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.listener = listener
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()

	s.debugLog("server listening", "addr", listener.Addr().String(), "tls", s.config.TLS != nil)
	return nil
}

// Stop closes the listener, expires every connection and waits until all
// connection goroutines have returned. Disposal of the connections is left
// to the manager.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running.CompareAndSwap(true, false) {
		s.mu.Unlock()
		return nil
	}

	s.cancel()

	var errs error
	if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = multierr.Append(errs, fmt.Errorf("close listener: %w", err))
	}
	s.mu.Unlock()

	for _, c := range s.Conns() {
		c.Expire()
	}

	s.wg.Wait()
	s.debugLog("server stopped")
	return errs
}

// Addr returns the server's listen address.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ConnectionCount returns the number of connections being served.
func (s *Server) ConnectionCount() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

// Conns returns a snapshot of the connections being served.
func (s *Server) Conns() []*Conn {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	out := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		out = append(out, c)
	}
	return out
}

// acceptLoop accepts incoming connections. Accept errors while running are
// retried with backoff.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	backoff := transport.NewBackoff(transport.BackoffConfig{
		Initial: 5 * time.Millisecond,
		Max:     time.Second,
	})

	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.errorLog("accept failed", "error", err)
			if backoff.Wait(s.ctx) != nil {
				return
			}
			continue
		}
		backoff.Reset()

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection processes a single connection.
func (s *Server) handleConnection(raw net.Conn) {
	defer s.wg.Done()

	connID := uuid.New().String()
	tcp := transport.NewTCPConn(raw)

	// The slot is held from accept, so connections still handshaking count
	// against the limit.
	if limit := s.config.MaxConns; limit > 0 {
		n := s.slots.Add(1)
		defer s.slots.Add(-1)
		if n > int64(limit) {
			s.logState(connID, raw.RemoteAddr(), "", "REJECTED", "connection limit reached")
			tcp.Close()
			return
		}
	}

	if err := tcp.SetNoDelay(s.config.NoDelay); err != nil {
		s.debugLog("set nodelay failed", "conn", connID, "error", err)
	}
	tcp.SetRecvTimeout(s.config.RecvTimeout)
	tcp.SetSendTimeout(s.config.SendTimeout)

	var tlsConn *transport.TLSServerConn
	if s.config.TLS != nil {
		var err error
		tlsConn, err = s.handshake(tcp, connID)
		if err != nil {
			tcp.Close()
			s.errorLog("TLS handshake failed", "conn", connID, "remote", raw.RemoteAddr().String(), "error", err)
			s.logError(connID, raw.RemoteAddr(), err, "handshake")
			return
		}
	}

	c := newConn(s, connID, tcp, tlsConn)
	if err := s.config.Manager.TryAdd(c); err != nil {
		s.errorLog("register connection failed", "conn", connID, "error", err)
		s.logError(connID, c.remote, err, "register")
		c.Close()
		return
	}

	s.connsMu.Lock()
	s.conns[c] = struct{}{}
	s.connsMu.Unlock()

	s.logConnState(c, "", "CONNECTED", "")

	// Stop may have taken its snapshot before this connection was tracked.
	if s.ctx.Err() != nil {
		c.Expire()
	}

	err := s.config.Handler.ServeConn(c.ctx, c)

	s.connsMu.Lock()
	delete(s.conns, c)
	s.connsMu.Unlock()

	reason := ""
	switch {
	case c.Expired():
		reason = "expired"
	case err != nil && !transport.IsClosed(err):
		reason = err.Error()
		s.debugLog("handler returned error", "conn", c.id, "error", err)
	}
	s.logConnState(c, "CONNECTED", "DISCONNECTED", reason)

	s.config.Manager.Remove(c)
}

// handshake performs the server side of TLS on tcp.
func (s *Server) handshake(tcp *transport.TCPConn, connID string) (*transport.TLSServerConn, error) {
	opts := s.config.TLS

	tlsConn := transport.NewTLSServerConnWithConfig(tcp, opts.Config)
	if s.config.EventLogger != nil {
		tlsConn.SetLogger(s.config.EventLogger, connID)
	}

	ctx, cancel := context.WithTimeout(s.ctx, opts.HandshakeTimeout)
	defer cancel()

	var err error
	if opts.fromFiles() {
		err = tlsConn.Handshake(ctx, opts.KeyFile, opts.CertFile)
	} else {
		err = tlsConn.HandshakeWithCert(ctx, opts.Certificate, opts.Key)
	}
	if err != nil {
		return nil, err
	}
	return tlsConn, nil
}

func (s *Server) label() string {
	return s.config.Manager.Label()
}

// logConnState records a connection state change.
func (s *Server) logConnState(c *Conn, from, to, reason string) {
	s.logState(c.id, c.remote, from, to, reason)
}

func (s *Server) logState(connID string, remote net.Addr, from, to, reason string) {
	if s.config.EventLogger == nil {
		return
	}
	s.config.EventLogger.Log(log.Event{
		Timestamp:  time.Now(),
		ResourceID: connID,
		Layer:      log.LayerServer,
		Category:   log.CategoryState,
		Label:      s.label(),
		RemoteAddr: addrString(remote),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: from,
			NewState: to,
			Reason:   reason,
		},
	})
}

// logTransfer records the byte totals of a closed connection.
func (s *Server) logTransfer(c *Conn) {
	if s.config.EventLogger == nil {
		return
	}
	s.config.EventLogger.Log(log.Event{
		Timestamp:  time.Now(),
		ResourceID: c.id,
		Layer:      log.LayerTransport,
		Category:   log.CategoryTransfer,
		Label:      s.label(),
		RemoteAddr: addrString(c.remote),
		Transfer: &log.TransferEvent{
			RecvBytes: c.tcp.RecvBytes(),
			SendBytes: c.tcp.SendBytes(),
			Duration:  time.Since(c.created),
		},
	})
}

func (s *Server) logError(connID string, remote net.Addr, err error, phase string) {
	if s.config.EventLogger == nil {
		return
	}
	s.config.EventLogger.Log(log.Event{
		Timestamp:  time.Now(),
		ResourceID: connID,
		Layer:      log.LayerServer,
		Category:   log.CategoryError,
		Label:      s.label(),
		RemoteAddr: addrString(remote),
		Error: &log.ErrorEventData{
			Layer:   log.LayerServer,
			Message: err.Error(),
			Context: phase,
		},
	})
}

func (s *Server) debugLog(msg string, args ...any) {
	if s.config.Logger != nil {
		s.config.Logger.Debug(msg, append([]any{"label", s.label()}, args...)...)
	}
}

func (s *Server) errorLog(msg string, args ...any) {
	if s.config.Logger != nil {
		s.config.Logger.Error(msg, append([]any{"label", s.label()}, args...)...)
	}
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
