package commands

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/streamhub/streamhub-go/pkg/log"
)

// FilterOptions holds the raw filter flags of the view command.
type FilterOptions struct {
	ResourceID string
	Label      string
	Layer      string
	Category   string
	TimeStart  string
	TimeEnd    string
}

// BuildFilter converts command line options into a log.Filter.
// Layer and category names are case-insensitive.
func BuildFilter(opts FilterOptions) (log.Filter, error) {
	filter := log.Filter{
		ResourceID: opts.ResourceID,
		Label:      opts.Label,
	}

	if opts.Layer != "" {
		l, err := log.ParseLayer(strings.ToUpper(opts.Layer))
		if err != nil {
			return log.Filter{}, err
		}
		filter.Layer = &l
	}

	if opts.Category != "" {
		c, err := log.ParseCategory(strings.ToUpper(opts.Category))
		if err != nil {
			return log.Filter{}, err
		}
		filter.Category = &c
	}

	if opts.TimeStart != "" {
		t, err := time.Parse(time.RFC3339, opts.TimeStart)
		if err != nil {
			return log.Filter{}, fmt.Errorf("invalid time-start: %w", err)
		}
		filter.TimeStart = &t
	}

	if opts.TimeEnd != "" {
		t, err := time.Parse(time.RFC3339, opts.TimeEnd)
		if err != nil {
			return log.Filter{}, fmt.Errorf("invalid time-end: %w", err)
		}
		filter.TimeEnd = &t
	}

	return filter, nil
}

// Stdin is read when a command is given "-" as the log path.
var Stdin io.Reader = os.Stdin

// openLog opens path, or Stdin for "-".
func openLog(path string, filter log.Filter) (*log.Reader, error) {
	var (
		r   *log.Reader
		err error
	)
	if path == "-" {
		r, err = log.NewStreamReader(Stdin, filter)
	} else {
		r, err = log.NewFilteredReader(path, filter)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return r, nil
}
