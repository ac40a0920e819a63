package mqttclient

import (
	"sync/atomic"

	"github.com/go-logr/logr"
)

var _ Logger = (*LogrLogger)(nil)

// LogrLogger adapts a logr.Logger to Logger. Debug maps to V(1); logr has no
// warning level, so warnings are Info entries carrying level=warn. An error
// value under LogFieldError becomes the logr error argument.
type LogrLogger struct {
	sink  logr.Logger
	level *atomic.Int32
}

// NewLogrLogger wraps l with the given threshold.
func NewLogrLogger(l logr.Logger, level LogLevel) *LogrLogger {
	out := &LogrLogger{sink: l, level: new(atomic.Int32)}
	out.level.Store(int32(level))
	return out
}

func (g *LogrLogger) Debug(msg string, fields LogFields) {
	if g.enabled(LogLevelDebug) {
		g.sink.V(1).Info(msg, keysAndValues(fields)...)
	}
}

func (g *LogrLogger) Info(msg string, fields LogFields) {
	if g.enabled(LogLevelInfo) {
		g.sink.Info(msg, keysAndValues(fields)...)
	}
}

func (g *LogrLogger) Warn(msg string, fields LogFields) {
	if g.enabled(LogLevelWarn) {
		g.sink.Info(msg, append(keysAndValues(fields), "level", "warn")...)
	}
}

func (g *LogrLogger) Error(msg string, fields LogFields) {
	if !g.enabled(LogLevelError) {
		return
	}

	err, _ := fields[LogFieldError].(error)
	if err != nil {
		rest := make(LogFields, len(fields))
		for k, v := range fields {
			if k != LogFieldError {
				rest[k] = v
			}
		}
		fields = rest
	}
	g.sink.Error(err, msg, keysAndValues(fields)...)
}

func (g *LogrLogger) WithFields(fields LogFields) Logger {
	return &LogrLogger{sink: g.sink.WithValues(keysAndValues(fields)...), level: g.level}
}

func (g *LogrLogger) Level() LogLevel { return LogLevel(g.level.Load()) }

func (g *LogrLogger) SetLevel(level LogLevel) { g.level.Store(int32(level)) }

// Logr returns the underlying logger.
func (g *LogrLogger) Logr() logr.Logger { return g.sink }

func (g *LogrLogger) enabled(level LogLevel) bool {
	return level >= g.Level()
}

func keysAndValues(fields LogFields) []any {
	out := make([]any, 0, 2*len(fields))
	for _, k := range fields.sortedKeys() {
		out = append(out, k, fields[k])
	}
	return out
}
