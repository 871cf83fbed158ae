package processmanagement

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/core-tools/hsu-supervisor-go/pkg/history"
	"github.com/core-tools/hsu-supervisor-go/pkg/logging"
	"github.com/core-tools/hsu-supervisor-go/pkg/metrics"
	"github.com/core-tools/hsu-supervisor-go/pkg/processmanagement/processstatemachine"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func metricValue(t *testing.T, registry *prometheus.Registry, name, app string) (float64, bool) {
	t.Helper()

	families, err := registry.Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() != "app" || label.GetValue() != app {
					continue
				}
				if metric.GetCounter() != nil {
					return metric.GetCounter().GetValue(), true
				}
				return metric.GetGauge().GetValue(), true
			}
		}
	}
	return 0, false
}

func TestMetricsObserver(t *testing.T) {
	m := metrics.New()
	m.RegisterApp("bot")
	observer := NewMetricsObserver(m)

	observer.Observe(Event{Type: EventLaunched, App: "bot", Reason: ReasonStart})
	observer.Observe(Event{Type: EventExited, App: "bot", Uptime: 2 * time.Second})
	observer.Observe(Event{Type: EventStateChanged, App: "bot", State: processstatemachine.ProcessStateWaitingRestart, RestartCount: 1})
	observer.Observe(Event{Type: EventLaunched, App: "bot", Reason: ReasonAutorestart})

	value, ok := metricValue(t, m.Registry(), "appsup_app_launches_total", "bot")
	require.True(t, ok)
	assert.Equal(t, 2.0, value)

	value, _ = metricValue(t, m.Registry(), "appsup_app_restarts_total", "bot")
	assert.Equal(t, 1.0, value)

	value, _ = metricValue(t, m.Registry(), "appsup_app_restart_count", "bot")
	assert.Equal(t, 1.0, value)

	value, _ = metricValue(t, m.Registry(), "appsup_app_last_uptime_seconds", "bot")
	assert.Equal(t, 2.0, value)

	observer.Observe(Event{Type: EventStateChanged, App: "bot", State: processstatemachine.ProcessStateFailed, RestartCount: 4})
	value, _ = metricValue(t, m.Registry(), "appsup_app_failed", "bot")
	assert.Equal(t, 1.0, value)

	observer.Observe(Event{Type: EventLaunchFailed, App: "bot"})
	value, _ = metricValue(t, m.Registry(), "appsup_app_launch_errors_total", "bot")
	assert.Equal(t, 1.0, value)

	observer.Observe(Event{Type: EventRemoved, App: "bot"})
	_, ok = metricValue(t, m.Registry(), "appsup_app_up", "bot")
	assert.False(t, ok)
}

func TestHistoryObserver(t *testing.T) {
	ctx := context.Background()
	store, err := history.Open(ctx, filepath.Join(t.TempDir(), "state.db"), logging.NewNopLogger())
	require.NoError(t, err)
	defer store.Close()

	observer := NewHistoryObserver(store, logging.NewNopLogger())

	runID := uuid.NewString()
	startedAt := time.Now().Add(-3 * time.Second)
	observer.Observe(Event{Type: EventLaunched, App: "bot", RunID: runID, PID: 4242, Time: startedAt, Reason: ReasonStart})
	observer.Observe(Event{Type: EventExited, App: "bot", RunID: runID, Time: time.Now(), ExitCode: 1, Uptime: 3 * time.Second, Reason: ReasonExited})

	// A failed write is logged, never propagated
	observer.Observe(Event{Type: EventExited, App: "bot", RunID: "unknown-run", Time: time.Now(), Reason: ReasonExited})

	runs, err := store.ListRuns(ctx, "bot", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0].ID)
	assert.Equal(t, 4242, runs[0].PID)
	require.NotNil(t, runs[0].ExitCode)
	assert.Equal(t, 1, *runs[0].ExitCode)
	require.NotNil(t, runs[0].UptimeMs)
	assert.Equal(t, int64(3000), *runs[0].UptimeMs)
	assert.Equal(t, ReasonExited, runs[0].Reason)
}
