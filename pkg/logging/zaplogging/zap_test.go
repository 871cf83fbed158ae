package zaplogging

import (
	"path/filepath"
	"testing"

	"github.com/core-tools/hsu-supervisor-go/pkg/errors"
	"github.com/core-tools/hsu-supervisor-go/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input       string
		expected    zapcore.Level
		expectError bool
	}{
		{"", zapcore.InfoLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"INFO", zapcore.InfoLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"verbose", zapcore.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := ParseLevel(tt.input)
			if tt.expectError {
				assert.True(t, errors.IsValidationError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, level)
		})
	}
}

func TestNewZapLogger_InvalidFormat(t *testing.T) {
	_, err := NewZapLogger(Options{Level: "info", Format: "xml"})
	assert.True(t, errors.IsValidationError(err))
}

func TestZapLogger_PrefixedMessages(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	zl := NewZapLoggerFromCore(core)

	logger := logging.NewLogger("module: appsup, ", zl.LogFuncs())
	logger.Infof("started %s", "dev-news-bot")
	logger.Warnf("restarting %d", 3)
	logging.WithPrefix(logger, "app: bot, ").Errorf("failed")

	entries := logs.AllUntimed()
	require.Len(t, entries, 3)
	assert.Equal(t, "module: appsup, started dev-news-bot", entries[0].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "module: appsup, app: bot, failed", entries[2].Message)
}

func TestZapLogger_ReportsCallSite(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	zl := NewZapLoggerFromCore(core)

	logger := logging.NewLogger("", zl.LogFuncs())
	logger.Infof("direct")
	logger.LogLevelf(logging.WarnLevel, "by level")
	zl.Logger().Info("structured")

	entries := logs.AllUntimed()
	require.Len(t, entries, 3)
	for _, entry := range entries[:2] {
		require.True(t, entry.Caller.Defined, entry.Message)
		assert.Equal(t, "zap_test.go", filepath.Base(entry.Caller.File), entry.Message)
	}
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
}
