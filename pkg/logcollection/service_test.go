package logcollection

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/core-tools/hsu-supervisor-go/pkg/errors"
	"github.com/core-tools/hsu-supervisor-go/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedService() (LogCollectionService, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewLogCollectionService(NewStructuredLogger(zap.New(core)), logging.NewNopLogger()), logs
}

func TestCollectFromStream_EmitsFields(t *testing.T) {
	service, logs := newObservedService()
	require.NoError(t, service.RegisterProcess("bot", ProcessLogConfig{}))

	require.NoError(t, service.CollectFromStream("bot", strings.NewReader("ready\r\nserving\n"), StdoutStream))
	require.NoError(t, service.CollectFromStream("bot", strings.NewReader("deprecated call"), StderrStream))
	require.NoError(t, service.UnregisterProcess("bot"))

	assert.Equal(t, 3, logs.Len())

	ready := logs.FilterMessage("ready").All()
	require.Len(t, ready, 1)
	assert.Equal(t, zapcore.InfoLevel, ready[0].Level)
	assert.Equal(t, map[string]interface{}{AppField: "bot", StreamField: "stdout"}, ready[0].ContextMap())

	stderr := logs.FilterField(zap.String(StreamField, "stderr")).All()
	require.Len(t, stderr, 1)
	assert.Equal(t, "deprecated call", stderr[0].Message)
	assert.Equal(t, zapcore.WarnLevel, stderr[0].Level)
}

func TestRegisterProcess_WritesLogFiles(t *testing.T) {
	dir := t.TempDir()
	shared := filepath.Join(dir, "logs", "bot.log")

	service, _ := newObservedService()
	require.NoError(t, service.RegisterProcess("bot", ProcessLogConfig{OutFile: shared, ErrorFile: shared}))
	require.NoError(t, service.CollectFromStream("bot", strings.NewReader("one\ntwo\n"), StdoutStream))
	require.NoError(t, service.UnregisterProcess("bot"))

	// Appends on the next run
	require.NoError(t, service.RegisterProcess("bot", ProcessLogConfig{OutFile: shared, ErrorFile: shared}))
	require.NoError(t, service.CollectFromStream("bot", strings.NewReader("three\n"), StderrStream))
	require.NoError(t, service.UnregisterProcess("bot"))

	data, err := os.ReadFile(shared)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\nthree\n", string(data))
}

func TestRegisterProcess_Errors(t *testing.T) {
	service, _ := newObservedService()

	require.NoError(t, service.RegisterProcess("bot", ProcessLogConfig{}))
	err := service.RegisterProcess("bot", ProcessLogConfig{})
	assert.True(t, errors.IsConflictError(err))
	require.NoError(t, service.UnregisterProcess("bot"))

	err = service.UnregisterProcess("bot")
	assert.True(t, errors.IsNotFoundError(err))

	err = service.CollectFromStream("ghost", strings.NewReader("x\n"), StdoutStream)
	assert.True(t, errors.IsNotFoundError(err))

	// A regular file where a directory is needed
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	err = service.RegisterProcess("bot", ProcessLogConfig{OutFile: filepath.Join(blocker, "out.log")})
	assert.True(t, errors.IsIOError(err))

	// A failed registration leaves nothing behind
	require.NoError(t, service.RegisterProcess("bot", ProcessLogConfig{}))
}

func TestCollectFromStream_LongLineKeepsDraining(t *testing.T) {
	service, logs := newObservedService()
	require.NoError(t, service.RegisterProcess("bot", ProcessLogConfig{}))

	long := strings.Repeat("x", maxLineLength+10)
	require.NoError(t, service.CollectFromStream("bot", strings.NewReader("before\n"+long+"\nafter\n"), StdoutStream))
	require.NoError(t, service.UnregisterProcess("bot"))

	assert.Equal(t, 1, logs.FilterMessage("before").Len())
}
