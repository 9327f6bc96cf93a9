// Package commands implements the streamhub-log CLI commands.
package commands

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/streamhub/streamhub-go/pkg/log"
)

// RunView prints every event matching filter in human-readable form.
func RunView(path string, filter log.Filter, w io.Writer) error {
	reader, err := openLog(path, filter)
	if err != nil {
		return err
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(w, event)
	}
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	// Header line: timestamp [label/id] LAYER Type
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")

	var typeLabel string
	switch {
	case event.StateChange != nil:
		typeLabel = "State"
	case event.Handshake != nil:
		typeLabel = "Handshake"
	case event.Transfer != nil:
		typeLabel = "Transfer"
	case event.Error != nil:
		typeLabel = "Error"
	default:
		typeLabel = "Unknown"
	}

	fmt.Fprintf(w, "%s [%s] %s %s\n", ts, scope(event), event.Layer, typeLabel)
	if event.RemoteAddr != "" {
		fmt.Fprintf(w, "  Remote: %s\n", event.RemoteAddr)
	}

	switch {
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Handshake != nil:
		formatHandshakeDetails(w, event.Handshake)
	case event.Transfer != nil:
		formatTransferDetails(w, event.Transfer)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w)
}

// scope renders the label and shortened resource id of an event.
func scope(event log.Event) string {
	id := shortenID(event.ResourceID)
	switch {
	case event.Label == "":
		return id
	case id == "":
		return event.Label
	default:
		return event.Label + "/" + id
	}
}

// shortenID returns the first 8 characters of a resource ID.
func shortenID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity)
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatHandshakeDetails(w io.Writer, h *log.HandshakeEvent) {
	fmt.Fprintf(w, "  Role: %s\n", h.Role)
	if h.ServerName != "" {
		fmt.Fprintf(w, "  ServerName: %s\n", h.ServerName)
	}
	if !h.Succeeded() {
		fmt.Fprintf(w, "  Failed: %s\n", h.Error)
		return
	}
	fmt.Fprintf(w, "  Version: %s\n", h.VersionName())
	fmt.Fprintf(w, "  Cipher: %s\n", h.CipherSuiteName())
	if h.NegotiatedProtocol != "" {
		fmt.Fprintf(w, "  ALPN: %s\n", h.NegotiatedProtocol)
	}
}

func formatTransferDetails(w io.Writer, t *log.TransferEvent) {
	fmt.Fprintf(w, "  Received: %d bytes\n", t.RecvBytes)
	fmt.Fprintf(w, "  Sent: %d bytes\n", t.SendBytes)
	fmt.Fprintf(w, "  Duration: %s\n", formatDuration(t.Duration))
}

func formatErrorDetails(w io.Writer, e *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", e.Layer)
	fmt.Fprintf(w, "  Message: %s\n", e.Message)
	if e.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", e.Context)
	}
}

// formatDuration formats a duration in a human-friendly way.
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return fmt.Sprintf("%dns", d.Nanoseconds())
	case d < time.Millisecond:
		return fmt.Sprintf("%.1fus", float64(d.Nanoseconds())/1000)
	case d < time.Second:
		return fmt.Sprintf("%.1fms", float64(d.Nanoseconds())/1e6)
	default:
		return d.Round(time.Millisecond).String()
	}
}
