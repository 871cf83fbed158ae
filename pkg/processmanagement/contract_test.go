package processmanagement

import (
	"context"
	"testing"

	"github.com/core-tools/hsu-supervisor-go/pkg/domain"
	"github.com/core-tools/hsu-supervisor-go/pkg/ecosystem"
	"github.com/core-tools/hsu-supervisor-go/pkg/errors"
	"github.com/core-tools/hsu-supervisor-go/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticRuns struct {
	runs []domain.Run
}

func (s *staticRuns) ListRuns(ctx context.Context, app string, limit int) ([]domain.Run, error) {
	return s.runs, nil
}

func TestDomainHandler(t *testing.T) {
	ctx := context.Background()
	manager := NewProcessManager(ProcessManagerOptions{}, logging.NewNopLogger())
	defer manager.Stop(ctx)

	require.NoError(t, manager.AddApp(ecosystem.AppConfig{Name: "bot", Cwd: t.TempDir(), Script: "bot.py"}))

	runs := &staticRuns{runs: []domain.Run{{ID: "run-1", App: "bot"}}}
	handler := NewDomainHandler(manager, runs)

	err := handler.Ping(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsConflictError(err))

	require.NoError(t, manager.Start(ctx))
	require.NoError(t, handler.Ping(ctx))

	apps, err := handler.ListApps(ctx)
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, "bot", apps[0].Name)
	assert.Equal(t, "registered", apps[0].State)
	assert.True(t, apps[0].Autorestart)
	assert.Equal(t, ecosystem.DefaultMaxRestarts, apps[0].MaxRestarts)

	_, err = handler.GetApp(ctx, "missing")
	assert.True(t, errors.IsNotFoundError(err))

	got, err := handler.ListRuns(ctx, "bot", 10)
	require.NoError(t, err)
	assert.Equal(t, runs.runs, got)

	_, err = handler.ListRuns(ctx, "missing", 10)
	assert.True(t, errors.IsNotFoundError(err))

	err = handler.StopApp(ctx, "bot")
	assert.True(t, errors.IsConflictError(err))
}

func TestDomainHandler_HistoryDisabled(t *testing.T) {
	manager := NewProcessManager(ProcessManagerOptions{}, logging.NewNopLogger())
	handler := NewDomainHandler(manager, nil)

	_, err := handler.ListRuns(context.Background(), "bot", 10)
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}
