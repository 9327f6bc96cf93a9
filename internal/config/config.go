// Package config loads the streamhub-server configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultListen      = ":1935"
	DefaultLabel       = "streamhub"
	DefaultLogLevel    = "info"
	DefaultRecvTimeout = 30 * time.Second
	DefaultSendTimeout = 30 * time.Second
)

// Config holds the server configuration.
type Config struct {
	// Listen is the TCP listen address.
	Listen string `yaml:"listen"`

	TLS TLSConfig `yaml:"tls"`

	// RecvTimeout and SendTimeout apply to every connection. A negative
	// value disables the timeout.
	RecvTimeout Duration `yaml:"recv_timeout"`
	SendTimeout Duration `yaml:"send_timeout"`

	// NoDelay sets TCP_NODELAY on accepted sockets.
	NoDelay bool `yaml:"no_delay"`

	// MaxConns limits concurrent connections. 0 means unlimited.
	MaxConns int `yaml:"max_conns"`

	Manager ManagerConfig `yaml:"manager"`

	// EventLog is the path of the CBOR event log. Empty disables it.
	EventLog string `yaml:"event_log"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// Interactive starts the admin console on stdin.
	Interactive bool `yaml:"interactive"`
}

// TLSConfig enables TLS termination.
type TLSConfig struct {
	Enabled bool `yaml:"enabled"`

	// KeyFile and CertFile point to PEM files. When both are empty a
	// self-signed certificate for SelfSignedCN is generated at startup.
	KeyFile  string `yaml:"key_file"`
	CertFile string `yaml:"cert_file"`

	SelfSignedCN string `yaml:"self_signed_cn"`

	HandshakeTimeout Duration `yaml:"handshake_timeout"`
}

// ManagerConfig configures the resource manager.
type ManagerConfig struct {
	Label           string `yaml:"label"`
	Verbose         bool   `yaml:"verbose"`
	FastIDCacheSize int    `yaml:"fast_id_cache_size"`
}

// Duration is a time.Duration that unmarshals from strings like "30s".
type Duration time.Duration

// UnmarshalYAML accepts Go duration strings or integer seconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	if secs, err := strconv.Atoi(s); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration in Go syntax.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the duration as a time.Duration. Negative values map to 0,
// which disables a timeout.
func (d Duration) Std() time.Duration {
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}

// LoadError provides details about a configuration loading error.
type LoadError struct {
	// File is the path to the file that failed to load.
	File string

	// Line is the line number where the error occurred (0 if unknown).
	Line int

	// Message describes the error.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

func (e *LoadError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	if e.File == "" {
		return msg
	}
	if e.Line > 0 {
		return e.File + ":" + strconv.Itoa(e.Line) + ": " + msg
	}
	return e.File + ": " + msg
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// Parse parses a configuration from YAML bytes, applies defaults and
// validates the result. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// An empty document decodes to io.EOF and means "all defaults".
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		le := &LoadError{Message: "failed to parse YAML", Cause: err}
		var te *yaml.TypeError
		if errors.As(err, &te) && len(te.Errors) > 0 {
			le.Line = lineOf(te.Errors[0])
		}
		return nil, le
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, &LoadError{Message: "invalid configuration", Cause: err}
	}
	return cfg, nil
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{
			File:    path,
			Message: "failed to read file",
			Cause:   err,
		}
	}

	cfg, err := Parse(data)
	if err != nil {
		if le, ok := err.(*LoadError); ok {
			le.File = path
			return nil, le
		}
		return nil, &LoadError{File: path, Message: err.Error()}
	}
	return cfg, nil
}

// lineOf extracts the line number from a yaml.v3 message such as
// "line 3: field foo not found in type config.Config".
func lineOf(msg string) int {
	var line int
	if _, err := fmt.Sscanf(msg, "line %d:", &line); err != nil {
		return 0
	}
	return line
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.RecvTimeout == 0 {
		c.RecvTimeout = Duration(DefaultRecvTimeout)
	}
	if c.SendTimeout == 0 {
		c.SendTimeout = Duration(DefaultSendTimeout)
	}
	if c.Manager.Label == "" {
		c.Manager.Label = DefaultLabel
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.TLS.Enabled && c.TLS.KeyFile == "" && c.TLS.CertFile == "" && c.TLS.SelfSignedCN == "" {
		c.TLS.SelfSignedCN = "localhost"
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.MaxConns < 0 {
		return fmt.Errorf("max_conns must not be negative, got %d", c.MaxConns)
	}
	if (c.TLS.KeyFile == "") != (c.TLS.CertFile == "") {
		return fmt.Errorf("tls: key_file and cert_file must be set together")
	}
	if c.TLS.HandshakeTimeout < 0 {
		return fmt.Errorf("tls: handshake_timeout must not be negative")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	level, _ := ParseLevel(c.LogLevel)
	return level
}

// ParseLevel parses debug, info, warn or error.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
