// Command streamhub-server runs an echo service on the connection core.
//
// Every accepted connection is tracked by a resource manager, optionally
// TLS-terminated, and echoed back until the peer closes it or an operator
// kicks it from the console.
//
// Usage:
//
//	streamhub-server [flags]
//
// Flags:
//
//	-config string      Configuration file path (YAML)
//	-listen string      Listen address (default ":1935")
//	-tls                Enable TLS (self-signed unless key/cert files are set)
//	-tls-key string     PEM private key file
//	-tls-cert string    PEM certificate file
//	-event-log string   CBOR event log path
//	-log-level string   Log level: debug, info, warn, error (default "info")
//	-verbose            Log every resource state transition
//	-interactive        Start the admin console
//
// Flags override values from the configuration file.
//
// Examples:
//
//	# Plain echo service on the default port
//	streamhub-server
//
//	# TLS with a generated certificate and an event log
//	streamhub-server -tls -event-log /tmp/streamhub.evlog -interactive
//
//	# Production-like setup from a file
//	streamhub-server -config /etc/streamhub/server.yaml
package main

import (
	"context"
	"crypto/x509"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/streamhub/streamhub-go/cmd/streamhub-server/interactive"
	"github.com/streamhub/streamhub-go/internal/config"
	"github.com/streamhub/streamhub-go/pkg/cert"
	"github.com/streamhub/streamhub-go/pkg/log"
	"github.com/streamhub/streamhub-go/pkg/resource"
	"github.com/streamhub/streamhub-go/pkg/server"
)

// statsInterval is how often manager counters are logged at debug level.
const statsInterval = 30 * time.Second

var (
	configFile      = flag.String("config", "", "Configuration file path (YAML)")
	listen          = flag.String("listen", config.DefaultListen, "Listen address")
	enableTLS       = flag.Bool("tls", false, "Enable TLS (self-signed unless key/cert files are set)")
	tlsKey          = flag.String("tls-key", "", "PEM private key file")
	tlsCert         = flag.String("tls-cert", "", "PEM certificate file")
	eventLog        = flag.String("event-log", "", "CBOR event log path")
	logLevel        = flag.String("log-level", config.DefaultLogLevel, "Log level: debug, info, warn, error")
	verbose         = flag.Bool("verbose", false, "Log every resource state transition")
	interactiveMode = flag.Bool("interactive", false, "Start the admin console")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(2)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration file, if any, and applies the flags
// that were set explicitly on top of it.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.Listen = *listen
		case "tls":
			cfg.TLS.Enabled = *enableTLS
		case "tls-key":
			cfg.TLS.KeyFile = *tlsKey
		case "tls-cert":
			cfg.TLS.CertFile = *tlsCert
		case "event-log":
			cfg.EventLog = *eventLog
		case "log-level":
			cfg.LogLevel = *logLevel
		case "verbose":
			cfg.Manager.Verbose = *verbose
		case "interactive":
			cfg.Interactive = *interactiveMode
		}
	})

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(cfg *config.Config) error {
	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	// The console owns the terminal; log through it so lines do not
	// garble the prompt.
	var console *interactive.Console
	var logOut io.Writer = os.Stderr
	if cfg.Interactive {
		var err error
		if console, err = interactive.New(); err != nil {
			return err
		}
		defer console.Close()
		logOut = console.Stdout()
	}

	logger := setupLogging(cfg.SlogLevel(), logOut)
	events, closeEvents, err := setupEventLog(cfg.EventLog, logger)
	if err != nil {
		return err
	}
	defer closeEvents()

	tlsOpts, serverCert, err := buildTLS(cfg.TLS)
	if err != nil {
		return err
	}

	manager := resource.NewManager(resource.ManagerConfig{
		Label:           cfg.Manager.Label,
		Verbose:         cfg.Manager.Verbose,
		FastIDCacheSize: cfg.Manager.FastIDCacheSize,
		Logger:          logger,
		EventLogger:     events,
	})
	manager.Subscribe(&resource.HandlerFuncs{
		Disposing: func(r resource.Resource) {
			logger.Debug("connection disposed", "conn", r.Desc())
		},
	})

	srv, err := server.New(server.Config{
		Address:     cfg.Listen,
		TLS:         tlsOpts,
		RecvTimeout: cfg.RecvTimeout.Std(),
		SendTimeout: cfg.SendTimeout.Std(),
		NoDelay:     cfg.NoDelay,
		MaxConns:    cfg.MaxConns,
		Manager:     manager,
		Handler:     server.Echo(0),
		Logger:      logger,
		EventLogger: events,
	})
	if err != nil {
		return err
	}

	if err := manager.Start(ctx); err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return multierr.Append(err, manager.Stop())
	}
	logger.Info("streamhub-server listening", "addr", srv.Addr().String(), "tls", tlsOpts != nil, "label", manager.Label())
	if serverCert != nil {
		info := cert.GetCertificateInfo(serverCert)
		logger.Info("serving certificate", "subject", info.CommonName, "self_signed", info.SelfSigned, "not_after", info.NotAfter)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		if sigCtx.Err() != nil {
			logger.Info("received shutdown signal")
		}
		return nil
	})
	g.Go(func() error {
		logStats(gctx, logger, manager)
		return nil
	})
	if console != nil {
		console.Attach(manager, srv, serverCert)
		g.Go(func() error {
			console.Run(gctx, cancel)
			return nil
		})
	}
	waitErr := g.Wait()

	logger.Info("shutting down")
	return multierr.Combine(waitErr, srv.Stop(), manager.Stop())
}

// buildTLS returns the server TLS options and the certificate presented,
// generating a self-signed one when no files are configured.
func buildTLS(cfg config.TLSConfig) (*server.TLSOptions, *x509.Certificate, error) {
	if !cfg.Enabled {
		return nil, nil, nil
	}

	opts := &server.TLSOptions{HandshakeTimeout: cfg.HandshakeTimeout.Std()}
	if cfg.KeyFile != "" && cfg.CertFile != "" {
		serverCert, err := cert.ReadCertFile(cfg.CertFile)
		if err != nil {
			return nil, nil, fmt.Errorf("read certificate: %w", err)
		}
		opts.KeyFile = cfg.KeyFile
		opts.CertFile = cfg.CertFile
		return opts, serverCert, nil
	}

	kp, err := cert.GenerateKeyPair()
	if err != nil {
		return nil, nil, err
	}
	serverCert, err := cert.GenerateSelfSigned(cfg.SelfSignedCN, kp.PrivateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("generate self-signed certificate: %w", err)
	}
	opts.Certificate = serverCert
	opts.Key = kp.PrivateKey
	return opts, serverCert, nil
}

func setupLogging(level slog.Level, w io.Writer) *slog.Logger {
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// setupEventLog opens the event log. Events are mirrored to the debug log.
func setupEventLog(path string, logger *slog.Logger) (log.Logger, func(), error) {
	mirror := log.NewSlogAdapter(logger)
	if path == "" {
		return mirror, func() {}, nil
	}

	file, err := log.NewFileLogger(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open event log: %w", err)
	}
	closeFn := func() {
		if n := file.Dropped(); n > 0 {
			logger.Warn("event log dropped events", "count", n)
		}
		if err := file.Close(); err != nil {
			logger.Error("close event log", "error", err)
		}
	}
	return log.Tee(file, mirror), closeFn, nil
}

func logStats(ctx context.Context, logger *slog.Logger, manager *resource.Manager) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := manager.Stats()
			logger.Debug("manager stats",
				"label", s.Label,
				"active", s.Active,
				"zombies", s.Zombies,
				"added", s.Added,
				"disposed", s.Disposed,
				"dispose_errors", s.DisposeErrors)
		}
	}
}
