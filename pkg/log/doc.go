// Package log provides structured lifecycle event capture for streamhub.
//
// This package defines the Logger interface and Event types for recording
// what happens to connections and managed resources: state transitions in
// the resource manager, TLS handshake outcomes, accept/expire decisions in
// the server and per-connection transfer totals. It is separate from
// operational logging (slog) - event capture provides a complete
// machine-readable trace for debugging and analysis.
//
// # Basic Usage
//
// Components accept an optional Logger:
//
//	// For development: log to console via slog
//	cfg.EventLogger = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	cfg.EventLogger, _ = log.NewFileLogger("/var/log/streamhub/server.evlog")
//
//	// Both
//	cfg.EventLogger = log.Tee(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
// Events are captured at multiple layers:
//   - Transport: byte totals when a connection closes (TransferEvent)
//   - TLS: handshake results (HandshakeEvent)
//   - Manager: resource state transitions (StateChangeEvent)
//   - Server: accept and expire decisions (StateChangeEvent)
//
// Errors at any layer use ErrorEventData.
//
// # File Format
//
// Log files use the .evlog extension: the CBOR self-describe tag
// (0xd9d9f7) followed by a stream of CBOR-encoded events. NewStreamReader
// reads the same format from a pipe. The streamhub-log CLI tool provides
// viewing, filtering and statistics.
package log
