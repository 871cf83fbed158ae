package restartpolicy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTracker_OnExit(t *testing.T) {
	type step struct {
		uptime   time.Duration
		expected Decision
	}

	tests := []struct {
		name   string
		policy Policy
		steps  []step
	}{
		{
			name:   "crash loop reaches failed after max_restarts",
			policy: Policy{Autorestart: true, MaxRestarts: 2, MinUptime: 10 * time.Second},
			steps: []step{
				{time.Second, Decision{Relaunch: true, RestartCount: 1}},
				{time.Second, Decision{Relaunch: true, RestartCount: 2}},
				{time.Second, Decision{Failed: true, RestartCount: 3}},
				{time.Minute, Decision{Failed: true, RestartCount: 3}},
			},
		},
		{
			name:   "stable run resets the counter",
			policy: Policy{Autorestart: true, MaxRestarts: 1, MinUptime: 10 * time.Second},
			steps: []step{
				{time.Second, Decision{Relaunch: true, RestartCount: 1}},
				{10 * time.Second, Decision{Relaunch: true, RestartCount: 0, Reset: true}},
				{time.Second, Decision{Relaunch: true, RestartCount: 1}},
				{time.Second, Decision{Failed: true, RestartCount: 2}},
			},
		},
		{
			name:   "max_restarts zero allows only stable relaunches",
			policy: Policy{Autorestart: true, MaxRestarts: 0, MinUptime: time.Second},
			steps: []step{
				{time.Minute, Decision{Relaunch: true, RestartCount: 0, Reset: true}},
				{time.Millisecond, Decision{Failed: true, RestartCount: 1}},
			},
		},
		{
			name:   "autorestart disabled never relaunches",
			policy: Policy{Autorestart: false, MaxRestarts: 10, MinUptime: 10 * time.Second},
			steps: []step{
				{time.Second, Decision{}},
				{time.Second, Decision{}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := NewTracker(tt.policy)
			for i, s := range tt.steps {
				assert.Equal(t, s.expected, tracker.OnExit(s.uptime), "step %d", i)
			}
		})
	}
}

func TestTracker_OnWatchTrigger(t *testing.T) {
	t.Run("same counter semantics with autorestart", func(t *testing.T) {
		tracker := NewTracker(Policy{Autorestart: true, MaxRestarts: 1, MinUptime: 10 * time.Second})

		assert.Equal(t, Decision{Relaunch: true, RestartCount: 1}, tracker.OnWatchTrigger(time.Second))
		assert.Equal(t, Decision{Failed: true, RestartCount: 2}, tracker.OnWatchTrigger(time.Second))
		assert.True(t, tracker.Failed())

		assert.Equal(t, Decision{Failed: true, RestartCount: 2}, tracker.OnWatchTrigger(time.Minute))
	})

	t.Run("unconditional without autorestart", func(t *testing.T) {
		tracker := NewTracker(Policy{Autorestart: false, MaxRestarts: 0, MinUptime: time.Hour})
		for i := 0; i < 5; i++ {
			assert.Equal(t, Decision{Relaunch: true}, tracker.OnWatchTrigger(time.Millisecond))
		}
		assert.Equal(t, 0, tracker.RestartCount())
	})
}

func TestTracker_Reset(t *testing.T) {
	tracker := NewTracker(Policy{Autorestart: true, MaxRestarts: 0, MinUptime: time.Second})

	decision := tracker.OnExit(0)
	assert.True(t, decision.Failed)
	assert.True(t, tracker.Failed())

	tracker.Reset()
	assert.False(t, tracker.Failed())
	assert.Equal(t, 0, tracker.RestartCount())

	assert.Equal(t, Decision{Relaunch: true, RestartCount: 0, Reset: true}, tracker.OnExit(2*time.Second))
}

func TestNewTracker_ClampsNegativeCap(t *testing.T) {
	tracker := NewTracker(Policy{Autorestart: true, MaxRestarts: -3})
	assert.Equal(t, 0, tracker.Policy().MaxRestarts)
}
