package logging

import "fmt"

// Log levels accepted by LogLevelf
const (
	DebugLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

type Logger interface {
	LogLevelf(level int, format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// LogFuncs are the backend sinks a Logger forwards to. Nil funcs are skipped.
type LogFuncs struct {
	Debugf func(format string, args ...interface{})
	Infof  func(format string, args ...interface{})
	Warnf  func(format string, args ...interface{})
	Errorf func(format string, args ...interface{})
}

type logger struct {
	prefix string
	funcs  LogFuncs
}

// NewLogger returns a Logger that prepends prefix to every message
func NewLogger(prefix string, funcs LogFuncs) Logger {
	return &logger{
		prefix: prefix,
		funcs:  funcs,
	}
}

// WithPrefix derives a logger with an additional prefix segment.
// Loggers not created by NewLogger are returned unchanged.
func WithPrefix(l Logger, prefix string) Logger {
	base, ok := l.(*logger)
	if !ok {
		return l
	}
	return &logger{
		prefix: base.prefix + prefix,
		funcs:  base.funcs,
	}
}

// LogLevelf calls the backend sink directly so every method sits one frame above it
func (l *logger) LogLevelf(level int, format string, args ...interface{}) {
	var sink func(format string, args ...interface{})
	switch level {
	case DebugLevel:
		sink = l.funcs.Debugf
	case InfoLevel:
		sink = l.funcs.Infof
	case WarnLevel:
		sink = l.funcs.Warnf
	case ErrorLevel:
		sink = l.funcs.Errorf
	default:
		sink = l.funcs.Infof
		format = fmt.Sprintf("[level %d] ", level) + format
	}
	if sink != nil {
		sink(l.prefix+format, args...)
	}
}

func (l *logger) Debugf(format string, args ...interface{}) {
	if l.funcs.Debugf != nil {
		l.funcs.Debugf(l.prefix+format, args...)
	}
}

func (l *logger) Infof(format string, args ...interface{}) {
	if l.funcs.Infof != nil {
		l.funcs.Infof(l.prefix+format, args...)
	}
}

func (l *logger) Warnf(format string, args ...interface{}) {
	if l.funcs.Warnf != nil {
		l.funcs.Warnf(l.prefix+format, args...)
	}
}

func (l *logger) Errorf(format string, args ...interface{}) {
	if l.funcs.Errorf != nil {
		l.funcs.Errorf(l.prefix+format, args...)
	}
}

// NewNopLogger discards everything
func NewNopLogger() Logger {
	return NewLogger("", LogFuncs{})
}
