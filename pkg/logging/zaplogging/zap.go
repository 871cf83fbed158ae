package zaplogging

import (
	"fmt"
	"strings"

	"github.com/core-tools/hsu-supervisor-go/pkg/errors"
	"github.com/core-tools/hsu-supervisor-go/pkg/logging"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Options struct {
	Level  string // debug, info, warn, error
	Format string // console or json
}

// ZapLogger adapts a zap SugaredLogger to logging.LogFuncs
type ZapLogger struct {
	base  *zap.Logger
	sugar *zap.SugaredLogger
}

func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(level) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, errors.NewValidationError(
			fmt.Sprintf("invalid log level: %s", level),
			nil,
		).WithContext("valid_levels", "debug, info, warn, error")
	}
}

func NewZapLogger(options Options) (*ZapLogger, error) {
	level, err := ParseLevel(options.Level)
	if err != nil {
		return nil, err
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(level)
	config.Sampling = nil
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	switch options.Format {
	case "", "console":
		config.Encoding = "console"
		config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	case "json":
		config.Encoding = "json"
	default:
		return nil, errors.NewValidationError(
			fmt.Sprintf("invalid log format: %s", options.Format),
			nil,
		).WithContext("valid_formats", "console, json")
	}

	// Callers sit one wrapper frame above zap: logging.Logger or the structured log collector
	base, err := config.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, errors.NewInternalError("failed to build zap logger", err)
	}

	return &ZapLogger{
		base:  base,
		sugar: base.Sugar(),
	}, nil
}

// NewZapLoggerFromCore is used by tests to capture output with an observer core
func NewZapLoggerFromCore(core zapcore.Core) *ZapLogger {
	base := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	return &ZapLogger{
		base:  base,
		sugar: base.Sugar(),
	}
}

// Logger exposes the structured logger for field-based output
func (z *ZapLogger) Logger() *zap.Logger {
	return z.base
}

func (z *ZapLogger) LogFuncs() logging.LogFuncs {
	return logging.LogFuncs{
		Debugf: z.sugar.Debugf,
		Infof:  z.sugar.Infof,
		Warnf:  z.sugar.Warnf,
		Errorf: z.sugar.Errorf,
	}
}

func (z *ZapLogger) Sync() error {
	return z.sugar.Sync()
}
