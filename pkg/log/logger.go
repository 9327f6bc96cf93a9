package log

// Logger receives lifecycle events.
//
// Log is called from connection goroutines and the manager's disposal
// loop, possibly concurrently; implementations must be thread-safe and
// should not block.
type Logger interface {
	Log(event Event)
}

// LoggerFunc adapts a function to the Logger interface.
type LoggerFunc func(Event)

// Log calls f(event).
func (f LoggerFunc) Log(event Event) { f(event) }

// NoopLogger discards all events.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// Tee returns a Logger that forwards every event to each of loggers in
// order. Nil and NoopLogger entries are dropped; with nothing left Tee
// returns NoopLogger, and a single remaining logger is returned as is.
func Tee(loggers ...Logger) Logger {
	var sinks tee
	for _, l := range loggers {
		switch v := l.(type) {
		case nil, NoopLogger:
		case tee:
			sinks = append(sinks, v...)
		default:
			sinks = append(sinks, v)
		}
	}
	switch len(sinks) {
	case 0:
		return NoopLogger{}
	case 1:
		return sinks[0]
	default:
		return sinks
	}
}

type tee []Logger

func (t tee) Log(event Event) {
	for _, l := range t {
		l.Log(event)
	}
}

var (
	_ Logger = NoopLogger{}
	_ Logger = LoggerFunc(nil)
	_ Logger = tee(nil)
)
