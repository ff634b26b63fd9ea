package rtshare

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel orders log output from least (panic) to most (trace) verbose
type LogLevel int32

const (
	LogLevelUnknown LogLevel = iota
	// LogLevelPanic messages are emitted and then panic
	LogLevelPanic
	// LogLevelFatal messages are emitted and then exit the process
	LogLevelFatal
	LogLevelError
	LogLevelWarning
	LogLevelInfo
	LogLevelDebug
	// LogLevelTrace adds hex dumps of every relayed chunk
	LogLevelTrace
)

var levelNames = [...]string{
	LogLevelUnknown: "unknown",
	LogLevelPanic:   "panic",
	LogLevelFatal:   "fatal",
	LogLevelError:   "error",
	LogLevelWarning: "warning",
	LogLevelInfo:    "info",
	LogLevelDebug:   "debug",
	LogLevelTrace:   "trace",
}

var levelsByName = func() map[string]LogLevel {
	m := map[string]LogLevel{"warn": LogLevelWarning}
	for lvl, name := range levelNames {
		m[name] = LogLevel(lvl)
	}
	return m
}()

// StringToLogLevel looks up a level by name, ignoring case. "warn" is accepted for
// "warning". Unknown names give LogLevelUnknown.
func StringToLogLevel(s string) LogLevel {
	return levelsByName[strings.ToLower(strings.TrimSpace(s))]
}

func (x LogLevel) String() string {
	if x < 0 || int(x) >= len(levelNames) {
		return levelNames[LogLevelUnknown]
	}
	return levelNames[x]
}

// FromString sets x from a level name
func (x *LogLevel) FromString(s string) error {
	lvl := StringToLogLevel(s)
	if lvl == LogLevelUnknown {
		return fmt.Errorf("unknown log level: %q", s)
	}
	*x = lvl
	return nil
}

// UnmarshalText lets a LogLevel be read from yaml and flags
func (x *LogLevel) UnmarshalText(text []byte) error {
	return x.FromString(string(text))
}

func (x LogLevel) MarshalText() ([]byte, error) {
	return []byte(x.String()), nil
}

func (x LogLevel) zapLevel() zapcore.Level {
	switch x {
	case LogLevelPanic:
		return zapcore.PanicLevel
	case LogLevelFatal:
		return zapcore.FatalLevel
	case LogLevelError:
		return zapcore.ErrorLevel
	case LogLevelWarning:
		return zapcore.WarnLevel
	case LogLevelInfo:
		return zapcore.InfoLevel
	}
	return zapcore.DebugLevel
}

// Logger writes leveled, prefixed messages. Every component forks its own Logger
// from its parent's so that a line reads like "rmitap: proxy 10.0.0.5:1099:
// session 1a2b3c4d: inbound: closed".
type Logger interface {
	// Logf emits at the given level if it is enabled. Panic and fatal levels are
	// always emitted and then panic or exit.
	Logf(logLevel LogLevel, f string, args ...any)

	ELogf(f string, args ...any)
	WLogf(f string, args ...any)
	ILogf(f string, args ...any)
	DLogf(f string, args ...any)
	TLogf(f string, args ...any)
	Panicf(f string, args ...any)
	Fatalf(f string, args ...any)

	// Errorf builds an error whose message carries the prefix. %w is honored.
	Errorf(f string, args ...any) error

	// Sprintf formats a message with the prefix prepended
	Sprintf(f string, args ...any) string

	// The *LogErrorf variants build an error as Errorf does and also log its
	// message at their level
	ELogErrorf(f string, args ...any) error
	WLogErrorf(f string, args ...any) error
	ILogErrorf(f string, args ...any) error
	DLogErrorf(f string, args ...any) error
	TLogErrorf(f string, args ...any) error

	// Fork returns a Logger whose prefix extends this one's with the formatted
	// string. The fork writes to the same output and shares the level.
	Fork(prefix string, args ...any) Logger

	// Prefix is the prefix without the trailing ": "
	Prefix() string

	GetLogLevel() LogLevel
	SetLogLevel(logLevel LogLevel)

	// Sync flushes buffered output
	Sync() error
}

// BasicLogger is the zap-backed Logger. Filtering by level happens here; the
// underlying zap core sees only what passes.
type BasicLogger struct {
	prefix string
	lead   string // prepended to messages: "" or prefix + ": "
	flead  string // lead with '%' escaped, for use inside a format string
	zl     *zap.Logger
	level  *atomic.Int32
}

func newBasicLogger(zl *zap.Logger, prefix string, level *atomic.Int32) *BasicLogger {
	l := &BasicLogger{prefix: prefix, zl: zl, level: level}
	if prefix != "" {
		l.lead = prefix + ": "
		l.flead = strings.ReplaceAll(l.lead, "%", "%%")
	}
	return l
}

// NewZapLogger wraps zl. zl should let debug entries through; logLevel does the filtering.
func NewZapLogger(zl *zap.Logger, prefix string, logLevel LogLevel) Logger {
	return newBasicLogger(zl.WithOptions(zap.AddCallerSkip(2)), prefix, atomic.NewInt32(int32(logLevel)))
}

// NewLogger returns a Logger that writes human readable lines to stderr
func NewLogger(prefix string, logLevel LogLevel) Logger {
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeTime = zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05")
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(os.Stderr), zapcore.DebugLevel)
	return NewZapLogger(zap.New(core), prefix, logLevel)
}

func (l *BasicLogger) enabled(lvl LogLevel) bool {
	return lvl <= LogLevelFatal || lvl <= LogLevel(l.level.Load())
}

func (l *BasicLogger) write(lvl LogLevel, msg string) {
	if ce := l.zl.Check(lvl.zapLevel(), msg); ce != nil {
		ce.Write()
	}
}

func (l *BasicLogger) Logf(lvl LogLevel, f string, args ...any) {
	if l.enabled(lvl) {
		l.write(lvl, l.Sprintf(f, args...))
	}
}

func (l *BasicLogger) logErr(lvl LogLevel, f string, args ...any) error {
	err := l.Errorf(f, args...)
	if l.enabled(lvl) {
		l.write(lvl, err.Error())
	}
	return err
}

func (l *BasicLogger) ELogf(f string, args ...any) {
	l.Logf(LogLevelError, f, args...)
}

func (l *BasicLogger) WLogf(f string, args ...any) {
	l.Logf(LogLevelWarning, f, args...)
}

func (l *BasicLogger) ILogf(f string, args ...any) {
	l.Logf(LogLevelInfo, f, args...)
}

func (l *BasicLogger) DLogf(f string, args ...any) {
	l.Logf(LogLevelDebug, f, args...)
}

func (l *BasicLogger) TLogf(f string, args ...any) {
	l.Logf(LogLevelTrace, f, args...)
}

func (l *BasicLogger) Panicf(f string, args ...any) {
	l.Logf(LogLevelPanic, f, args...)
}

func (l *BasicLogger) Fatalf(f string, args ...any) {
	l.Logf(LogLevelFatal, f, args...)
}

func (l *BasicLogger) ELogErrorf(f string, args ...any) error {
	return l.logErr(LogLevelError, f, args...)
}

func (l *BasicLogger) WLogErrorf(f string, args ...any) error {
	return l.logErr(LogLevelWarning, f, args...)
}

func (l *BasicLogger) ILogErrorf(f string, args ...any) error {
	return l.logErr(LogLevelInfo, f, args...)
}

func (l *BasicLogger) DLogErrorf(f string, args ...any) error {
	return l.logErr(LogLevelDebug, f, args...)
}

func (l *BasicLogger) TLogErrorf(f string, args ...any) error {
	return l.logErr(LogLevelTrace, f, args...)
}

func (l *BasicLogger) Errorf(f string, args ...any) error {
	return fmt.Errorf(l.flead+f, args...)
}

func (l *BasicLogger) Sprintf(f string, args ...any) string {
	return l.lead + fmt.Sprintf(f, args...)
}

func (l *BasicLogger) Fork(prefix string, args ...any) Logger {
	p := fmt.Sprintf(prefix, args...)
	return newBasicLogger(l.zl, l.lead+p, l.level)
}

func (l *BasicLogger) Prefix() string {
	return l.prefix
}

func (l *BasicLogger) GetLogLevel() LogLevel {
	return LogLevel(l.level.Load())
}

// SetLogLevel changes the level for this logger, its parent and every fork
func (l *BasicLogger) SetLogLevel(logLevel LogLevel) {
	l.level.Store(int32(logLevel))
}

func (l *BasicLogger) Sync() error {
	return l.zl.Sync()
}
