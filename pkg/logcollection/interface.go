package logcollection

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// StructuredLogger emits child output lines with zap fields
type StructuredLogger interface {
	Log(level zapcore.Level, msg string, fields ...zap.Field)

	// WithProcess tags every entry with the app name
	WithProcess(processID string) StructuredLogger
}

// LogCollectionService captures the output streams of supervised apps
type LogCollectionService interface {
	// RegisterProcess prepares collection for one launch and opens its log files
	RegisterProcess(processID string, processConfig ProcessLogConfig) error

	// CollectFromStream reads stream line by line in the background until EOF
	CollectFromStream(processID string, stream io.Reader, streamType StreamType) error

	// UnregisterProcess waits for the process streams to drain and closes its log files
	UnregisterProcess(processID string) error
}

// StreamType identifies the source stream
type StreamType string

const (
	StdoutStream StreamType = "stdout"
	StderrStream StreamType = "stderr"
)

// ProcessLogConfig holds the optional per-app log files. Empty paths disable the file;
// both streams may share one path.
type ProcessLogConfig struct {
	OutFile   string
	ErrorFile string
}

// Zap field keys carried by every collected line
const (
	AppField    = "app"
	StreamField = "stream"
)

type zapStructuredLogger struct {
	base *zap.Logger
}

// NewStructuredLogger wraps a zap logger; nil discards everything
func NewStructuredLogger(base *zap.Logger) StructuredLogger {
	if base == nil {
		base = zap.NewNop()
	}
	return &zapStructuredLogger{base: base}
}

func (l *zapStructuredLogger) Log(level zapcore.Level, msg string, fields ...zap.Field) {
	l.base.Log(level, msg, fields...)
}

func (l *zapStructuredLogger) WithProcess(processID string) StructuredLogger {
	return &zapStructuredLogger{base: l.base.With(zap.String(AppField, processID))}
}
