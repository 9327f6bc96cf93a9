// Command streamhub-log views and summarizes streamhub event log files.
//
// Event logs are written by streamhub-server when started with the
// -event-log flag.
//
// Usage:
//
//	streamhub-log <command> [flags] <file.evlog>
//
// Commands:
//
//	view     View log file in human-readable format
//	stats    Show statistics about the log file
//
// Examples:
//
//	# View all events
//	streamhub-log view server.evlog
//
//	# View only TLS handshakes
//	streamhub-log view -category HANDSHAKE server.evlog
//
//	# Follow a single connection
//	streamhub-log view -id 0b6a4c1e-... server.evlog
//
//	# Show statistics
//	streamhub-log stats server.evlog
//
//	# Read from a pipe
//	ssh media1 cat /var/log/streamhub.evlog | streamhub-log stats -
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/streamhub/streamhub-go/cmd/streamhub-log/commands"
)

const usage = `streamhub-log - streamhub Event Log Viewer

Usage:
  streamhub-log <command> [flags] <file.evlog>

Commands:
  view     View log file in human-readable format
  stats    Show statistics about the log file

A path of "-" reads the log from standard input.

Use "streamhub-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

func runView(args []string) {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `streamhub-log view - View log file in human-readable format

Usage:
  streamhub-log view [flags] <file.evlog>

Flags:
`)
		fs.PrintDefaults()
	}

	layer := fs.String("layer", "", "Filter by layer (TRANSPORT, TLS, MANAGER, SERVER)")
	category := fs.String("category", "", "Filter by category (STATE, HANDSHAKE, TRANSFER, ERROR)")
	id := fs.String("id", "", "Filter by resource ID")
	label := fs.String("label", "", "Filter by manager label")
	timeStart := fs.String("time-start", "", "Filter by start time (RFC3339)")
	timeEnd := fs.String("time-end", "", "Filter by end time (RFC3339)")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: log file path required")
		fs.Usage()
		os.Exit(1)
	}

	filter, err := commands.BuildFilter(commands.FilterOptions{
		ResourceID: *id,
		Label:      *label,
		Layer:      *layer,
		Category:   *category,
		TimeStart:  *timeStart,
		TimeEnd:    *timeEnd,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := commands.RunView(fs.Arg(0), filter, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `streamhub-log stats - Show statistics about the log file

Usage:
  streamhub-log stats <file.evlog>

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: log file path required")
		fs.Usage()
		os.Exit(1)
	}

	if err := commands.RunStats(fs.Arg(0), os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
