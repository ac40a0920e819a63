package mqttclient

import (
	"fmt"
	"io"
	"log"
	"maps"
	"os"
	"slices"
	"strings"
	"sync/atomic"
)

// LogLevel orders log output. Messages below the logger level are dropped.
type LogLevel int32

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
	LogLevelNone // disables output
)

var logLevelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "NONE"}

func (l LogLevel) String() string {
	if l < LogLevelDebug || l > LogLevelNone {
		return "UNKNOWN"
	}
	return logLevelNames[l]
}

// ParseLogLevel parses a level name, case-insensitively.
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LogLevelDebug, nil
	case "INFO", "":
		return LogLevelInfo, nil
	case "WARN", "WARNING":
		return LogLevelWarn, nil
	case "ERROR":
		return LogLevelError, nil
	case "NONE", "OFF":
		return LogLevelNone, nil
	default:
		return LogLevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// LogFields represents key-value pairs for structured logging.
type LogFields map[string]any

// merge returns a new map holding base overlaid with extra.
func (f LogFields) merge(extra LogFields) LogFields {
	out := make(LogFields, len(f)+len(extra))
	maps.Copy(out, f)
	maps.Copy(out, extra)
	return out
}

// sortedKeys returns the keys in lexical order so output is stable.
func (f LogFields) sortedKeys() []string {
	return slices.Sorted(maps.Keys(f))
}

// Logger is the structured logger a connection writes to. WithFields
// returns a child carrying extra fields; a child shares its parent's level.
type Logger interface {
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Warn(msg string, fields LogFields)
	Error(msg string, fields LogFields)
	WithFields(fields LogFields) Logger
	Level() LogLevel
	SetLevel(level LogLevel)
}

// NoOpLogger discards everything. It is the default.
type NoOpLogger struct {
	level atomic.Int32
}

func NewNoOpLogger() *NoOpLogger {
	n := &NoOpLogger{}
	n.level.Store(int32(LogLevelNone))
	return n
}

func (n *NoOpLogger) Debug(string, LogFields)     {}
func (n *NoOpLogger) Info(string, LogFields)      {}
func (n *NoOpLogger) Warn(string, LogFields)      {}
func (n *NoOpLogger) Error(string, LogFields)     {}
func (n *NoOpLogger) WithFields(LogFields) Logger { return n }
func (n *NoOpLogger) Level() LogLevel             { return LogLevel(n.level.Load()) }
func (n *NoOpLogger) SetLevel(level LogLevel)     { n.level.Store(int32(level)) }

// StdLogger writes "[LEVEL] msg key=value ..." lines through the standard
// log package. Loggers derived with WithFields share the level.
type StdLogger struct {
	logger *log.Logger
	level  *atomic.Int32
	fields LogFields
}

// NewStdLogger creates a logger writing to w, or to stderr when w is nil.
func NewStdLogger(w io.Writer, level LogLevel) *StdLogger {
	if w == nil {
		w = os.Stderr
	}
	l := &StdLogger{
		logger: log.New(w, "", log.LstdFlags),
		level:  new(atomic.Int32),
	}
	l.level.Store(int32(level))
	return l
}

func (s *StdLogger) Debug(msg string, fields LogFields) { s.log(LogLevelDebug, msg, fields) }
func (s *StdLogger) Info(msg string, fields LogFields)  { s.log(LogLevelInfo, msg, fields) }
func (s *StdLogger) Warn(msg string, fields LogFields)  { s.log(LogLevelWarn, msg, fields) }
func (s *StdLogger) Error(msg string, fields LogFields) { s.log(LogLevelError, msg, fields) }

func (s *StdLogger) WithFields(fields LogFields) Logger {
	return &StdLogger{
		logger: s.logger,
		level:  s.level,
		fields: s.fields.merge(fields),
	}
}

func (s *StdLogger) Level() LogLevel         { return LogLevel(s.level.Load()) }
func (s *StdLogger) SetLevel(level LogLevel) { s.level.Store(int32(level)) }

func (s *StdLogger) log(level LogLevel, msg string, fields LogFields) {
	if level < s.Level() {
		return
	}

	all := s.fields.merge(fields)

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", level, msg)
	for _, k := range all.sortedKeys() {
		fmt.Fprintf(&b, " %s=%v", k, all[k])
	}

	s.logger.Print(b.String())
}

// Standard field names used by the connection engine.
const (
	LogFieldClientID   = "client_id"
	LogFieldHost       = "host"
	LogFieldTopic      = "topic"
	LogFieldPacketID   = "packet_id"
	LogFieldPacketType = "packet_type"
	LogFieldQoS        = "qos"
	LogFieldReturnCode = "return_code"
	LogFieldState      = "state"
	LogFieldAttempt    = "attempt"
	LogFieldError      = "error"
	LogFieldRemoteAddr = "remote_addr"
	LogFieldDuration   = "duration"
	LogFieldBytes      = "bytes"
)
