package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes events to an slog.Logger.
// Useful for development when you want to see lifecycle events in console.
type SlogAdapter struct {
	logger *slog.Logger
	level  slog.Level
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given
// slog.Logger at Debug level.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger, level: slog.LevelDebug}
}

// WithLevel returns a copy of the adapter that logs at level.
func (a *SlogAdapter) WithLevel(level slog.Level) *SlogAdapter {
	return &SlogAdapter{logger: a.logger, level: level}
}

// Log writes the event to the slog logger.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("resource_id", event.ResourceID),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}

	if event.Label != "" {
		attrs = append(attrs, slog.String("label", event.Label))
	}
	if event.RemoteAddr != "" {
		attrs = append(attrs, slog.String("remote", event.RemoteAddr))
	}

	switch {
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Handshake != nil:
		h := event.Handshake
		attrs = append(attrs, slog.String("role", h.Role.String()))
		if h.ServerName != "" {
			attrs = append(attrs, slog.String("sni", h.ServerName))
		}
		if h.Succeeded() {
			attrs = append(attrs,
				slog.String("version", h.VersionName()),
				slog.String("cipher", h.CipherSuiteName()),
			)
			if h.NegotiatedProtocol != "" {
				attrs = append(attrs, slog.String("alpn", h.NegotiatedProtocol))
			}
		} else {
			attrs = append(attrs, slog.String("error", h.Error))
		}
	case event.Transfer != nil:
		attrs = append(attrs,
			slog.Int64("recv_bytes", event.Transfer.RecvBytes),
			slog.Int64("send_bytes", event.Transfer.SendBytes),
			slog.Duration("duration", event.Transfer.Duration),
		)
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
		)
		if event.Error.Context != "" {
			attrs = append(attrs, slog.String("error_context", event.Error.Context))
		}
	}

	a.logger.LogAttrs(context.Background(), a.level, "lifecycle", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
