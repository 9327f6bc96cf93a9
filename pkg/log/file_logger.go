package log

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/fxamacker/cbor/v2"
)

// FileLogger appends CBOR-encoded events to a file.
// It is safe for concurrent use from multiple goroutines.
type FileLogger struct {
	mu      sync.Mutex
	file    *os.File
	encoder *cbor.Encoder
	closed  bool

	written atomic.Int64
	dropped atomic.Int64
}

// NewFileLogger opens path for appending, creating it with mode 0644 if
// needed. A new or empty file starts with the self-describe tag.
func NewFileLogger(path string) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err == nil && info.Size() == 0 {
		err = writeMagic(f)
	}
	if err != nil {
		f.Close()
		return nil, err
	}

	return &FileLogger{
		file:    f,
		encoder: eventEncMode.NewEncoder(f),
	}, nil
}

// Log appends event to the file. Events that cannot be written, including
// every event after Close, are counted by Dropped instead.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		l.dropped.Add(1)
		return
	}
	if err := l.encoder.Encode(event); err != nil {
		l.dropped.Add(1)
		return
	}
	l.written.Add(1)
}

// Written returns the number of events appended since the logger opened.
func (l *FileLogger) Written() int64 {
	return l.written.Load()
}

// Dropped returns the number of events that could not be written.
func (l *FileLogger) Dropped() int64 {
	return l.dropped.Load()
}

// Sync flushes the file to stable storage. It is a no-op after Close.
func (l *FileLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	return l.file.Sync()
}

// Close closes the file. Calling Close more than once is safe.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}

var _ Logger = (*FileLogger)(nil)
