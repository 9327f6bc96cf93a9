package commands

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/streamhub/streamhub-go/pkg/log"
)

// Stats holds aggregate statistics about a log file.
type Stats struct {
	TotalEvents      int
	EventsByLayer    map[log.Layer]int
	EventsByCategory map[log.Category]int
	Resources        map[string]*ResourceStats
	Handshakes       int
	FailedHandshakes int
	RecvBytes        int64
	SendBytes        int64
	Errors           int
	TimeRange        struct {
		Start time.Time
		End   time.Time
	}
}

// ResourceStats holds statistics for a single resource.
type ResourceStats struct {
	FirstSeen  time.Time
	LastSeen   time.Time
	Events     int
	Label      string
	RemoteAddr string
	LastState  string
}

// RunStats analyzes the log file and prints statistics.
func RunStats(path string, w io.Writer) error {
	stats, err := collectStats(path)
	if err != nil {
		return err
	}
	printStats(w, stats)
	return nil
}

func collectStats(path string) (*Stats, error) {
	reader, err := openLog(path, log.Filter{})
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	stats := &Stats{
		EventsByLayer:    make(map[log.Layer]int),
		EventsByCategory: make(map[log.Category]int),
		Resources:        make(map[string]*ResourceStats),
	}

	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read event: %w", err)
		}

		stats.TotalEvents++
		stats.EventsByLayer[event.Layer]++
		stats.EventsByCategory[event.Category]++

		if stats.TimeRange.Start.IsZero() || event.Timestamp.Before(stats.TimeRange.Start) {
			stats.TimeRange.Start = event.Timestamp
		}
		if event.Timestamp.After(stats.TimeRange.End) {
			stats.TimeRange.End = event.Timestamp
		}

		switch {
		case event.Handshake != nil:
			stats.Handshakes++
			if !event.Handshake.Succeeded() {
				stats.FailedHandshakes++
			}
		case event.Transfer != nil:
			stats.RecvBytes += event.Transfer.RecvBytes
			stats.SendBytes += event.Transfer.SendBytes
		case event.Error != nil:
			stats.Errors++
		}

		// Manager start/stop events carry no resource id.
		if event.ResourceID == "" {
			continue
		}
		rs, ok := stats.Resources[event.ResourceID]
		if !ok {
			rs = &ResourceStats{
				FirstSeen: event.Timestamp,
				LastSeen:  event.Timestamp,
			}
			stats.Resources[event.ResourceID] = rs
		}
		rs.Events++
		if event.Timestamp.After(rs.LastSeen) {
			rs.LastSeen = event.Timestamp
		}
		if rs.Label == "" {
			rs.Label = event.Label
		}
		if rs.RemoteAddr == "" {
			rs.RemoteAddr = event.RemoteAddr
		}
		if event.StateChange != nil {
			rs.LastState = event.StateChange.NewState
		}
	}

	return stats, nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== streamhub Event Log Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerTransport, log.LayerTLS, log.LayerManager, log.LayerServer} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryState, log.CategoryHandshake, log.CategoryTransfer, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	if stats.Handshakes > 0 {
		fmt.Fprintf(w, "Handshakes: %d (%d failed)\n", stats.Handshakes, stats.FailedHandshakes)
	}
	if stats.EventsByCategory[log.CategoryTransfer] > 0 {
		fmt.Fprintf(w, "Bytes: %d received, %d sent\n", stats.RecvBytes, stats.SendBytes)
	}

	fmt.Fprintf(w, "Resources: %d\n", len(stats.Resources))
	if len(stats.Resources) > 0 {
		type resourceInfo struct {
			id    string
			stats *ResourceStats
		}
		resources := make([]resourceInfo, 0, len(stats.Resources))
		for id, rs := range stats.Resources {
			resources = append(resources, resourceInfo{id, rs})
		}
		sort.Slice(resources, func(i, j int) bool {
			return resources[i].stats.FirstSeen.Before(resources[j].stats.FirstSeen)
		})

		fmt.Fprintln(w)
		for _, r := range resources {
			duration := r.stats.LastSeen.Sub(r.stats.FirstSeen).Round(time.Millisecond)
			fmt.Fprintf(w, "  [%s] %d events, duration %s\n", shortenID(r.id), r.stats.Events, duration)
			if r.stats.Label != "" {
				fmt.Fprintf(w, "           Label: %s\n", r.stats.Label)
			}
			if r.stats.RemoteAddr != "" {
				fmt.Fprintf(w, "           Remote: %s\n", r.stats.RemoteAddr)
			}
			if r.stats.LastState != "" {
				fmt.Fprintf(w, "           Last state: %s\n", r.stats.LastState)
			}
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
