package processstatemachine

import (
	"fmt"
	"sync"
	"time"

	"github.com/core-tools/hsu-supervisor-go/pkg/errors"
	"github.com/core-tools/hsu-supervisor-go/pkg/logging"
)

// ProcessState represents the current state of an app in its lifecycle
type ProcessState string

const (
	// ProcessStateUnknown is the initial state before registration
	ProcessStateUnknown ProcessState = "unknown"

	// ProcessStateRegistered means the app was loaded but never launched
	ProcessStateRegistered ProcessState = "registered"

	ProcessStateStarting ProcessState = "starting"
	ProcessStateRunning  ProcessState = "running"
	ProcessStateStopping ProcessState = "stopping"

	// ProcessStateStopped means the app was stopped by the operator or exited without autorestart
	ProcessStateStopped ProcessState = "stopped"

	// ProcessStateWaitingRestart means the app exited and a relaunch is scheduled
	ProcessStateWaitingRestart ProcessState = "waiting_restart"

	// ProcessStateFailed is terminal until the operator starts, restarts or resets the app
	ProcessStateFailed ProcessState = "failed"
)

// Operations checked by IsOperationAllowed
const (
	OperationAdd     = "add"
	OperationStart   = "start"
	OperationStop    = "stop"
	OperationRestart = "restart"
	OperationReset   = "reset"
	OperationRemove  = "remove"
)

// ProcessStateTransition represents a state transition with metadata
type ProcessStateTransition struct {
	From      ProcessState
	To        ProcessState
	Operation string
	Timestamp time.Time
	Error     error
}

const maxTransitionHistory = 100

// ProcessStateMachine manages app state transitions with validation
type ProcessStateMachine struct {
	appName          string
	currentState     ProcessState
	transitions      []ProcessStateTransition
	validTransitions map[ProcessState][]ProcessState
	mutex            sync.RWMutex
	logger           logging.Logger
}

func NewProcessStateMachine(appName string, logger logging.Logger) *ProcessStateMachine {
	sm := &ProcessStateMachine{
		appName:      appName,
		currentState: ProcessStateUnknown,
		transitions:  make([]ProcessStateTransition, 0),
		logger:       logger,
	}

	sm.validTransitions = map[ProcessState][]ProcessState{
		ProcessStateUnknown: {
			ProcessStateRegistered, // AddApp
		},
		ProcessStateRegistered: {
			ProcessStateStarting, // StartApp
		},
		ProcessStateStarting: {
			ProcessStateRunning,        // launch success
			ProcessStateWaitingRestart, // launch failure, relaunch scheduled
			ProcessStateFailed,         // launch failure, no relaunch
		},
		ProcessStateRunning: {
			ProcessStateStopping,       // StopApp, RestartApp, watch trigger, shutdown
			ProcessStateWaitingRestart, // exit with autorestart
			ProcessStateFailed,         // exit beyond max_restarts
			ProcessStateStopped,        // exit without autorestart
		},
		ProcessStateStopping: {
			ProcessStateStopped,  // stop complete
			ProcessStateStarting, // restart or watch relaunch
			ProcessStateFailed,   // watch trigger beyond max_restarts
		},
		ProcessStateStopped: {
			ProcessStateStarting,
		},
		ProcessStateWaitingRestart: {
			ProcessStateStarting, // delay elapsed, restart or reset
			ProcessStateStopped,  // StopApp or shutdown while waiting
		},
		ProcessStateFailed: {
			ProcessStateStarting, // StartApp, RestartApp or ResetApp
		},
	}

	return sm
}

// GetCurrentState returns the current state (thread-safe)
func (sm *ProcessStateMachine) GetCurrentState() ProcessState {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.currentState
}

// CanTransition checks if a state transition is valid (thread-safe)
func (sm *ProcessStateMachine) CanTransition(to ProcessState) bool {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.canTransitionUnsafe(to)
}

// Transition changes the app state with validation (thread-safe)
func (sm *ProcessStateMachine) Transition(to ProcessState, operation string, err error) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if !sm.canTransitionUnsafe(to) {
		return errors.NewValidationError(
			fmt.Sprintf("invalid state transition from '%s' to '%s'", sm.currentState, to),
			nil,
		).WithContext("app", sm.appName).
			WithContext("from_state", string(sm.currentState)).
			WithContext("to_state", string(to)).
			WithContext("operation", operation)
	}

	from := sm.currentState
	sm.transitions = append(sm.transitions, ProcessStateTransition{
		From:      from,
		To:        to,
		Operation: operation,
		Timestamp: time.Now(),
		Error:     err,
	})
	if len(sm.transitions) > maxTransitionHistory {
		sm.transitions = sm.transitions[len(sm.transitions)-maxTransitionHistory:]
	}
	sm.currentState = to

	if err != nil {
		sm.logger.Warnf("App state transition with error, app: %s, %s->%s, operation: %s, error: %v",
			sm.appName, from, to, operation, err)
	} else {
		sm.logger.Infof("App state transition, app: %s, %s->%s, operation: %s",
			sm.appName, from, to, operation)
	}

	return nil
}

func (sm *ProcessStateMachine) canTransitionUnsafe(to ProcessState) bool {
	for _, validState := range sm.validTransitions[sm.currentState] {
		if validState == to {
			return true
		}
	}
	return false
}

// GetTransitionHistory returns the most recent transitions, oldest first (thread-safe)
func (sm *ProcessStateMachine) GetTransitionHistory() []ProcessStateTransition {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	history := make([]ProcessStateTransition, len(sm.transitions))
	copy(history, sm.transitions)
	return history
}

// ProcessStateInfo provides comprehensive information about app state
type ProcessStateInfo struct {
	AppName         string
	CurrentState    ProcessState
	LastTransition  *ProcessStateTransition
	TransitionCount int
	ValidNextStates []ProcessState
}

func (sm *ProcessStateMachine) GetStateInfo() ProcessStateInfo {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	var lastTransition *ProcessStateTransition
	if len(sm.transitions) > 0 {
		last := sm.transitions[len(sm.transitions)-1]
		lastTransition = &last
	}

	validStates := sm.validTransitions[sm.currentState]
	nextStates := make([]ProcessState, len(validStates))
	copy(nextStates, validStates)

	return ProcessStateInfo{
		AppName:         sm.appName,
		CurrentState:    sm.currentState,
		LastTransition:  lastTransition,
		TransitionCount: len(sm.transitions),
		ValidNextStates: nextStates,
	}
}

// IsOperationAllowed checks if an operator operation is allowed in the current state
func (sm *ProcessStateMachine) IsOperationAllowed(operation string) bool {
	currentState := sm.GetCurrentState()

	switch operation {
	case OperationAdd:
		return currentState == ProcessStateUnknown
	case OperationStart:
		return currentState == ProcessStateRegistered ||
			currentState == ProcessStateStopped ||
			currentState == ProcessStateFailed
	case OperationStop:
		return currentState == ProcessStateRunning ||
			currentState == ProcessStateWaitingRestart
	case OperationRestart, OperationReset:
		return currentState != ProcessStateUnknown &&
			currentState != ProcessStateStarting &&
			currentState != ProcessStateStopping
	case OperationRemove:
		return currentState == ProcessStateUnknown ||
			currentState == ProcessStateRegistered ||
			currentState == ProcessStateStopped ||
			currentState == ProcessStateFailed
	default:
		return false
	}
}

// ValidateOperation checks if an operation can be performed and returns a conflict error if not
func (sm *ProcessStateMachine) ValidateOperation(operation string) error {
	if sm.IsOperationAllowed(operation) {
		return nil
	}

	currentState := sm.GetCurrentState()
	return errors.NewConflictError(
		fmt.Sprintf("operation '%s' not allowed in current state '%s'", operation, currentState),
		nil,
	).WithContext("app", sm.appName).WithContext("current_state", string(currentState)).WithContext("operation", operation)
}
