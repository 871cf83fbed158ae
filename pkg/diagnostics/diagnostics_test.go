package diagnostics

import (
	"context"
	"os"
	"testing"

	"github.com/core-tools/hsu-supervisor-go/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectProcess_Self(t *testing.T) {
	snapshot, err := CollectProcess(context.Background(), os.Getpid())
	require.NoError(t, err)

	assert.Equal(t, os.Getpid(), snapshot.PID)
	assert.Greater(t, snapshot.RSSBytes, uint64(0))
	assert.Greater(t, snapshot.Threads, int32(0))
	assert.GreaterOrEqual(t, snapshot.CPUPercent, 0.0)
}

func TestCollectProcess_InvalidPID(t *testing.T) {
	_, err := CollectProcess(context.Background(), 0)
	assert.True(t, errors.IsValidationError(err))
}

func TestCollectHost(t *testing.T) {
	snapshot, err := CollectHost(context.Background())
	require.NoError(t, err)

	assert.Greater(t, snapshot.CPUs, 0)
	assert.Greater(t, snapshot.MemoryUsedBytes, uint64(0))
}
