package processstatemachine

import (
	"fmt"
	"testing"

	"github.com/core-tools/hsu-supervisor-go/pkg/errors"
	"github.com/core-tools/hsu-supervisor-go/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStateMachine(t *testing.T, path ...ProcessState) *ProcessStateMachine {
	t.Helper()
	sm := NewProcessStateMachine("app", logging.NewNopLogger())
	for _, state := range path {
		require.NoError(t, sm.Transition(state, "test", nil))
	}
	return sm
}

func TestProcessStateMachine_Lifecycle(t *testing.T) {
	sm := newTestStateMachine(t)
	assert.Equal(t, ProcessStateUnknown, sm.GetCurrentState())

	steps := []ProcessState{
		ProcessStateRegistered,
		ProcessStateStarting,
		ProcessStateRunning,
		ProcessStateWaitingRestart,
		ProcessStateStarting,
		ProcessStateRunning,
		ProcessStateFailed,
		ProcessStateStarting,
		ProcessStateRunning,
		ProcessStateStopping,
		ProcessStateStopped,
	}
	for _, state := range steps {
		require.NoError(t, sm.Transition(state, "test", nil), "transition to %s", state)
	}

	history := sm.GetTransitionHistory()
	require.Len(t, history, len(steps))
	assert.Equal(t, ProcessStateUnknown, history[0].From)
	assert.Equal(t, ProcessStateStopped, history[len(history)-1].To)
}

func TestProcessStateMachine_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name string
		path []ProcessState
		to   ProcessState
	}{
		{"unknown to running", nil, ProcessStateRunning},
		{"registered to stopped", []ProcessState{ProcessStateRegistered}, ProcessStateStopped},
		{"failed to running", []ProcessState{ProcessStateRegistered, ProcessStateStarting, ProcessStateFailed}, ProcessStateRunning},
		{"stopped to waiting_restart", []ProcessState{ProcessStateRegistered, ProcessStateStarting, ProcessStateRunning, ProcessStateStopped}, ProcessStateWaitingRestart},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := newTestStateMachine(t, tt.path...)
			before := sm.GetCurrentState()

			err := sm.Transition(tt.to, "test", nil)
			require.Error(t, err)
			assert.True(t, errors.IsValidationError(err))
			assert.Equal(t, before, sm.GetCurrentState())
		})
	}
}

func TestProcessStateMachine_IsOperationAllowed(t *testing.T) {
	registered := []ProcessState{ProcessStateRegistered}
	running := []ProcessState{ProcessStateRegistered, ProcessStateStarting, ProcessStateRunning}
	waiting := append(append([]ProcessState{}, running...), ProcessStateWaitingRestart)
	failed := append(append([]ProcessState{}, running...), ProcessStateFailed)
	stopping := append(append([]ProcessState{}, running...), ProcessStateStopping)

	tests := []struct {
		path      []ProcessState
		operation string
		allowed   bool
	}{
		{nil, OperationAdd, true},
		{registered, OperationAdd, false},
		{registered, OperationStart, true},
		{registered, OperationStop, false},
		{registered, OperationRemove, true},
		{running, OperationStart, false},
		{running, OperationStop, true},
		{running, OperationRestart, true},
		{running, OperationReset, true},
		{running, OperationRemove, false},
		{waiting, OperationStop, true},
		{waiting, OperationStart, false},
		{failed, OperationStart, true},
		{failed, OperationReset, true},
		{failed, OperationStop, false},
		{failed, OperationRemove, true},
		{stopping, OperationRestart, false},
		{stopping, OperationReset, false},
		{running, "bogus", false},
	}

	for _, tt := range tests {
		sm := newTestStateMachine(t, tt.path...)
		name := fmt.Sprintf("%s in %s", tt.operation, sm.GetCurrentState())
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, sm.IsOperationAllowed(tt.operation))

			err := sm.ValidateOperation(tt.operation)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.IsConflictError(err))
			}
		})
	}
}

func TestProcessStateMachine_HistoryIsBounded(t *testing.T) {
	sm := newTestStateMachine(t, ProcessStateRegistered, ProcessStateStarting, ProcessStateRunning)
	for i := 0; i < maxTransitionHistory; i++ {
		require.NoError(t, sm.Transition(ProcessStateWaitingRestart, "exit", nil))
		require.NoError(t, sm.Transition(ProcessStateStarting, "autorestart", nil))
		require.NoError(t, sm.Transition(ProcessStateRunning, "autorestart", nil))
	}

	info := sm.GetStateInfo()
	assert.Equal(t, maxTransitionHistory, info.TransitionCount)
	assert.Equal(t, ProcessStateRunning, info.CurrentState)
	require.NotNil(t, info.LastTransition)
	assert.Equal(t, ProcessStateStarting, info.LastTransition.From)
	assert.ElementsMatch(t, []ProcessState{ProcessStateStopping, ProcessStateWaitingRestart, ProcessStateFailed, ProcessStateStopped}, info.ValidNextStates)
}
