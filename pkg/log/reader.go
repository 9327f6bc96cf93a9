package log

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Filter selects events. Zero-valued fields match everything.
type Filter struct {
	ResourceID string
	Label      string
	Layer      *Layer
	Category   *Category

	// TimeStart is inclusive, TimeEnd exclusive.
	TimeStart *time.Time
	TimeEnd   *time.Time
}

// Matches reports whether event satisfies every set criterion.
func (f *Filter) Matches(event Event) bool {
	switch {
	case f.ResourceID != "" && event.ResourceID != f.ResourceID:
		return false
	case f.Label != "" && event.Label != f.Label:
		return false
	case f.Layer != nil && event.Layer != *f.Layer:
		return false
	case f.Category != nil && event.Category != *f.Category:
		return false
	case f.TimeStart != nil && event.Timestamp.Before(*f.TimeStart):
		return false
	case f.TimeEnd != nil && !event.Timestamp.Before(*f.TimeEnd):
		return false
	}
	return true
}

// Reader iterates over the events of a log stream without loading it into
// memory.
type Reader struct {
	closer  io.Closer
	decoder *cbor.Decoder
	filter  Filter
}

// NewReader opens the log file at path.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader opens the log file at path and yields only events
// matching filter.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := newReader(f, filter)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// NewStreamReader reads events from src, such as a pipe. Close does not
// close src.
func NewStreamReader(src io.Reader, filter Filter) (*Reader, error) {
	return newReader(src, filter)
}

func newReader(src io.Reader, filter Filter) (*Reader, error) {
	br := bufio.NewReader(src)
	head, err := br.Peek(len(fileMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if bytes.Equal(head, fileMagic) {
		if _, err := br.Discard(len(fileMagic)); err != nil {
			return nil, err
		}
	}
	return &Reader{
		decoder: eventDecMode.NewDecoder(br),
		filter:  filter,
	}, nil
}

// Next returns the next matching event, or io.EOF at the end of the
// stream. A stream cut off in the middle of an event (a crashed writer)
// also ends with io.EOF.
func (r *Reader) Next() (Event, error) {
	for {
		var event Event
		if err := r.decoder.Decode(&event); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return Event{}, io.EOF
			}
			return Event{}, err
		}
		if r.filter.Matches(event) {
			return event, nil
		}
	}
}

// Close releases the underlying file, if the Reader opened one.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
