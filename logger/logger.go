package logger

// Logger is the minimal structured logging surface the engine needs.
// Keyvals are alternating key/value pairs.
type Logger interface {
	Error(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Debug(msg string, keyvals ...any)
}

// Null returns a logger that discards everything. It is the engine default
// so the resolution hot path stays silent unless a logger is installed.
func Null() Logger { return nullLogger{} }

type nullLogger struct{}

func (nullLogger) Error(string, ...any) {}
func (nullLogger) Info(string, ...any)  {}
func (nullLogger) Debug(string, ...any) {}
