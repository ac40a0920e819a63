package mqttclient

import (
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var _ Logger = (*ZapLogger)(nil)

// ZapLogger adapts a *zap.Logger to Logger. The adapter level is checked
// before the zap core level, so both must allow a message for it to be written.
type ZapLogger struct {
	core  *zap.Logger
	level *atomic.Int32
}

// NewZapLogger wraps core. A nil core yields a no-op zap logger.
func NewZapLogger(core *zap.Logger) *ZapLogger {
	if core == nil {
		core = zap.NewNop()
	}
	l := &ZapLogger{core: core, level: new(atomic.Int32)}
	l.level.Store(int32(levelFromZap(core.Level())))
	return l
}

func (z *ZapLogger) Debug(msg string, fields LogFields) {
	if z.enabled(LogLevelDebug) {
		z.core.Debug(msg, zapFields(fields)...)
	}
}

func (z *ZapLogger) Info(msg string, fields LogFields) {
	if z.enabled(LogLevelInfo) {
		z.core.Info(msg, zapFields(fields)...)
	}
}

func (z *ZapLogger) Warn(msg string, fields LogFields) {
	if z.enabled(LogLevelWarn) {
		z.core.Warn(msg, zapFields(fields)...)
	}
}

func (z *ZapLogger) Error(msg string, fields LogFields) {
	if z.enabled(LogLevelError) {
		z.core.Error(msg, zapFields(fields)...)
	}
}

// WithFields returns a logger that adds fields to every entry.
func (z *ZapLogger) WithFields(fields LogFields) Logger {
	return &ZapLogger{core: z.core.With(zapFields(fields)...), level: z.level}
}

func (z *ZapLogger) Level() LogLevel { return LogLevel(z.level.Load()) }

func (z *ZapLogger) SetLevel(level LogLevel) { z.level.Store(int32(level)) }

// Zap returns the underlying logger.
func (z *ZapLogger) Zap() *zap.Logger { return z.core }

func (z *ZapLogger) enabled(level LogLevel) bool {
	return level >= z.Level()
}

func zapFields(fields LogFields) []zap.Field {
	if len(fields) == 0 {
		return nil
	}

	out := make([]zap.Field, 0, len(fields))
	for _, k := range fields.sortedKeys() {
		if err, ok := fields[k].(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, fields[k]))
	}
	return out
}

func levelFromZap(l zapcore.Level) LogLevel {
	switch {
	case l <= zapcore.DebugLevel:
		return LogLevelDebug
	case l == zapcore.InfoLevel:
		return LogLevelInfo
	case l == zapcore.WarnLevel:
		return LogLevelWarn
	case l == zapcore.InvalidLevel:
		return LogLevelNone
	default:
		return LogLevelError
	}
}
