package logger

import "chordring/internal/ringid"

// Field is a structured key/value pair attached to a log entry.
type Field struct {
	Key string
	Val any
}

// Logger is the minimal structured logging interface the ring, server and
// client packages depend on, so they stay agnostic of the concrete
// logging backend.
type Logger interface {
	Named(name string) Logger
	With(fields ...Field) Logger
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// F builds a Field concisely.
func F(key string, val any) Field { return Field{Key: key, Val: val} }

// FNode serializes a ringid.Node into a readable structured field.
func FNode(key string, n ringid.Node) Field {
	return Field{
		Key: key,
		Val: map[string]any{
			"id":   n.ID.String(),
			"addr": n.Addr,
		},
	}
}

// NopLogger is a Logger implementation that discards everything, used in
// tests and as the zero-value default.
type NopLogger struct{}

func (l *NopLogger) Named(name string) Logger          { return l }
func (l *NopLogger) With(fields ...Field) Logger       { return l }
func (l *NopLogger) Debug(msg string, fields ...Field) {}
func (l *NopLogger) Info(msg string, fields ...Field)  {}
func (l *NopLogger) Warn(msg string, fields ...Field)  {}
func (l *NopLogger) Error(msg string, fields ...Field) {}
