package processmanagement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/core-tools/hsu-supervisor-go/pkg/domain"
	"github.com/core-tools/hsu-supervisor-go/pkg/ecosystem"
	"github.com/core-tools/hsu-supervisor-go/pkg/errors"
	"github.com/core-tools/hsu-supervisor-go/pkg/logcollection"
	"github.com/core-tools/hsu-supervisor-go/pkg/logging"
	"github.com/core-tools/hsu-supervisor-go/pkg/process"
	"github.com/core-tools/hsu-supervisor-go/pkg/processmanagement/processstatemachine"
	"github.com/core-tools/hsu-supervisor-go/pkg/restartpolicy"
	"github.com/core-tools/hsu-supervisor-go/pkg/watch"

	"github.com/google/uuid"
)

type commandKind int

const (
	commandStart commandKind = iota
	commandStop
	commandRestart
	commandReset
	commandShutdown
)

func (k commandKind) String() string {
	switch k {
	case commandStart:
		return "start"
	case commandStop:
		return "stop"
	case commandRestart:
		return "restart"
	case commandReset:
		return "reset"
	case commandShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("command(%d)", int(k))
	}
}

type command struct {
	kind  commandKind
	ctx   context.Context
	reply chan error
}

type appSupervisorOptions struct {
	watchDebounce time.Duration
	backoffSeed   int64
	observers     []Observer
	logCollection logcollection.LogCollectionService
}

// appSupervisor runs one app. Everything below the commands channel is owned by
// the supervision goroutine; other goroutines only read the snapshot.
type appSupervisor struct {
	name         string
	config       ecosystem.AppConfig
	execution    process.ExecutionConfig
	stateMachine *processstatemachine.ProcessStateMachine
	options      appSupervisorOptions
	logger       logging.Logger

	commands  chan command
	loopDone  chan struct{}
	startOnce sync.Once

	tracker      *restartpolicy.Tracker
	backoff      *restartpolicy.Backoff
	handle       *process.Handle
	runID        string
	restartTimer *time.Timer
	watcher      *watch.Watcher

	mutex    sync.RWMutex
	snapshot appSnapshot
}

type appSnapshot struct {
	pid          int
	runID        string
	startedAt    time.Time
	restartCount int
	restarts     int
	lastExit     *domain.ExitInfo
	lastError    string
}

func newAppSupervisor(config ecosystem.AppConfig, options appSupervisorOptions, logger logging.Logger) *appSupervisor {
	return &appSupervisor{
		name:         config.Name,
		config:       config,
		execution:    executionConfig(config),
		stateMachine: processstatemachine.NewProcessStateMachine(config.Name, logger),
		options:      options,
		logger:       logger,
		commands:     make(chan command),
		loopDone:     make(chan struct{}),
		tracker: restartpolicy.NewTracker(restartpolicy.Policy{
			Autorestart: config.AutorestartEnabled(),
			MaxRestarts: config.MaxRestartsValue(),
			MinUptime:   config.MinUptimeValue(),
		}),
		backoff: restartpolicy.NewBackoff(config.Name, options.backoffSeed, backoffConfig(config)),
	}
}

func executionConfig(config ecosystem.AppConfig) process.ExecutionConfig {
	return process.ExecutionConfig{
		WorkingDirectory: config.Cwd,
		Script:           config.Script,
		Interpreter:      config.Interpreter,
		InterpreterArgs:  config.InterpreterArgs,
		Args:             config.Args,
		Env:              config.Env,
	}
}

func backoffConfig(config ecosystem.AppConfig) restartpolicy.BackoffConfig {
	if config.ExpBackoffRestartDelay > 0 {
		return restartpolicy.ExponentialDelay(config.ExpBackoffRestartDelay.Duration())
	}
	return restartpolicy.FixedDelay(config.RestartDelay.Duration())
}

// start launches the supervision goroutine. The app itself stays in its current state.
func (s *appSupervisor) start() {
	s.startOnce.Do(func() {
		if s.config.Watch {
			s.startWatcher()
		}
		go s.run()
	})
}

func (s *appSupervisor) startWatcher() {
	watcher, err := watch.New(watch.Options{
		Root:     s.config.Cwd,
		Ignore:   s.config.IgnoreWatch,
		Debounce: s.options.watchDebounce,
	}, s.logger)
	if err != nil {
		s.logger.Errorf("Failed to start file watcher, app: %s, error: %v", s.name, err)
		s.setLastError(err)
		return
	}
	s.watcher = watcher
}

func (s *appSupervisor) run() {
	defer close(s.loopDone)

	var changes <-chan watch.Change
	if s.watcher != nil {
		changes = s.watcher.Changes()
	}

	for {
		var exited <-chan struct{}
		if s.handle != nil {
			exited = s.handle.Done()
		}
		var restartDue <-chan time.Time
		if s.restartTimer != nil {
			restartDue = s.restartTimer.C
		}

		select {
		case cmd := <-s.commands:
			err := s.handleCommand(cmd)
			cmd.reply <- err
			if cmd.kind == commandShutdown {
				return
			}

		case <-exited:
			s.handleExit()

		case <-restartDue:
			s.restartTimer = nil
			if err := s.launch(ReasonAutorestart); err != nil {
				s.logger.Errorf("Failed to relaunch app %s: %v", s.name, err)
			}

		case change := <-changes:
			s.handleChange(change)
		}
	}
}

// send delivers a command to the supervision goroutine and waits for its result
func (s *appSupervisor) send(ctx context.Context, kind commandKind) error {
	reply := make(chan error, 1)

	select {
	case s.commands <- command{kind: kind, ctx: ctx, reply: reply}:
	case <-s.loopDone:
		return errors.NewConflictError("app supervisor is not running", nil).WithContext("app", s.name)
	case <-ctx.Done():
		return errors.NewCancelledError(fmt.Sprintf("%s cancelled", kind), ctx.Err()).WithContext("app", s.name)
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return errors.NewCancelledError(fmt.Sprintf("%s cancelled", kind), ctx.Err()).WithContext("app", s.name)
	}
}

func (s *appSupervisor) handleCommand(cmd command) error {
	s.logger.Debugf("App %s received %s command", s.name, cmd.kind)

	switch cmd.kind {
	case commandStart:
		if err := s.stateMachine.ValidateOperation(processstatemachine.OperationStart); err != nil {
			return err
		}
		if s.currentState() == processstatemachine.ProcessStateFailed {
			s.resetCounters()
		}
		return s.launch(ReasonStart)

	case commandStop:
		if err := s.stateMachine.ValidateOperation(processstatemachine.OperationStop); err != nil {
			return err
		}
		return s.stop(cmd.ctx, ReasonStopped, "stop")

	case commandRestart:
		if err := s.stateMachine.ValidateOperation(processstatemachine.OperationRestart); err != nil {
			return err
		}
		switch s.currentState() {
		case processstatemachine.ProcessStateRunning:
			if err := s.transition(processstatemachine.ProcessStateStopping, "restart", nil); err != nil {
				return err
			}
			if err := s.stopProcess(cmd.ctx, ReasonRestart); err != nil {
				s.transition(processstatemachine.ProcessStateStopped, "restart", err)
				return err
			}
		case processstatemachine.ProcessStateWaitingRestart:
			s.cancelRestartTimer()
		case processstatemachine.ProcessStateFailed:
			s.resetCounters()
		}
		return s.launch(ReasonRestart)

	case commandReset:
		if err := s.stateMachine.ValidateOperation(processstatemachine.OperationReset); err != nil {
			return err
		}
		s.resetCounters()
		if s.currentState() == processstatemachine.ProcessStateRunning {
			return nil
		}
		s.cancelRestartTimer()
		return s.launch(ReasonReset)

	case commandShutdown:
		return s.shutdown(cmd.ctx)

	default:
		return errors.NewInternalError("unknown command", nil).WithContext("command", cmd.kind.String())
	}
}

// launch starts a new process. A launch failure is handled like an immediate crash.
func (s *appSupervisor) launch(reason string) error {
	if err := s.transition(processstatemachine.ProcessStateStarting, reason, nil); err != nil {
		return err
	}

	if err := s.options.logCollection.RegisterProcess(s.name, logConfig(s.config)); err != nil {
		return s.launchFailed(reason, err)
	}

	handle, err := process.Start(s.execution, s.name, s.options.logCollection, s.logger)
	if err != nil {
		s.unregisterLogs()
		return s.launchFailed(reason, err)
	}

	s.handle = handle
	s.runID = uuid.NewString()

	s.updateSnapshot(func(snapshot *appSnapshot) {
		snapshot.pid = handle.PID()
		snapshot.runID = s.runID
		snapshot.startedAt = handle.StartedAt()
		snapshot.lastError = ""
		if reason != ReasonStart {
			snapshot.restarts++
		}
	})

	if err := s.transition(processstatemachine.ProcessStateRunning, reason, nil); err != nil {
		s.logger.Errorf("Failed to transition app %s to running state: %v", s.name, err)
	}

	s.logger.Infof("App %s launched, PID: %d, run: %s, reason: %s, restart count: %d",
		s.name, handle.PID(), s.runID, reason, s.tracker.RestartCount())
	s.notify(Event{
		Type:         EventLaunched,
		Time:         handle.StartedAt(),
		RunID:        s.runID,
		PID:          handle.PID(),
		Reason:       reason,
		RestartCount: s.tracker.RestartCount(),
	})

	return nil
}

func (s *appSupervisor) launchFailed(reason string, err error) error {
	s.logger.Errorf("Failed to launch app %s: %v", s.name, err)
	s.setLastError(err)
	s.notify(Event{Type: EventLaunchFailed, Reason: reason, Err: err})

	s.applyDecision(s.tracker.OnExit(0), "launch", err)
	return errors.NewProcessError("failed to launch app", err).WithContext("app", s.name)
}

func logConfig(config ecosystem.AppConfig) logcollection.ProcessLogConfig {
	return logcollection.ProcessLogConfig{
		OutFile:   config.OutFilePath(),
		ErrorFile: config.ErrorFilePath(),
	}
}

// unregisterLogs blocks until the output of the last run is written out
func (s *appSupervisor) unregisterLogs() {
	if err := s.options.logCollection.UnregisterProcess(s.name); err != nil {
		s.logger.Warnf("Failed to finish log collection of app %s: %v", s.name, err)
	}
}

// applyDecision moves the app out of running or starting after an exit or a failed launch
func (s *appSupervisor) applyDecision(decision restartpolicy.Decision, operation string, cause error) {
	switch {
	case decision.Relaunch:
		if decision.Reset {
			s.backoff.Reset()
		}
		delay := s.backoff.Next()
		if err := s.transition(processstatemachine.ProcessStateWaitingRestart, operation, cause); err != nil {
			s.logger.Errorf("Failed to schedule restart of app %s: %v", s.name, err)
			return
		}
		s.logger.Infof("App %s will restart in %v, restart count: %d/%d",
			s.name, delay, decision.RestartCount, s.tracker.Policy().MaxRestarts)
		s.restartTimer = time.NewTimer(delay)

	case decision.Failed:
		s.logger.Errorf("App %s exceeded max_restarts (%d), restart count: %d, not restarting until reset",
			s.name, s.tracker.Policy().MaxRestarts, decision.RestartCount)
		if err := s.transition(processstatemachine.ProcessStateFailed, operation, cause); err != nil {
			s.logger.Errorf("Failed to mark app %s failed: %v", s.name, err)
		}

	default:
		// No autorestart: a failed launch is terminal, a normal exit is just stopped
		to := processstatemachine.ProcessStateStopped
		if cause != nil {
			to = processstatemachine.ProcessStateFailed
		}
		if err := s.transition(to, operation, cause); err != nil {
			s.logger.Errorf("Failed to transition app %s to %s: %v", s.name, to, err)
		}
	}
}

func (s *appSupervisor) handleExit() {
	status := s.handle.Status()
	s.recordExit(status, ReasonExited)

	if s.currentState() != processstatemachine.ProcessStateRunning {
		// A process that outlived a failed stop finally went away
		return
	}

	s.logger.Warnf("App %s exited, code: %d, signal: %q, uptime: %v", s.name, status.ExitCode, status.Signal, status.Uptime)
	s.applyDecision(s.tracker.OnExit(status.Uptime), "exit", nil)
}

func (s *appSupervisor) handleChange(change watch.Change) {
	if s.currentState() != processstatemachine.ProcessStateRunning {
		s.logger.Debugf("App %s is %s, ignoring %d changed files", s.name, s.currentState(), len(change.Paths))
		return
	}

	uptime := time.Since(s.handle.StartedAt())
	decision := s.tracker.OnWatchTrigger(uptime)
	s.logger.Infof("App %s: %d files changed (first: %s), relaunching", s.name, len(change.Paths), change.Paths[0])

	if err := s.transition(processstatemachine.ProcessStateStopping, ReasonWatch, nil); err != nil {
		return
	}
	if err := s.stopProcess(context.Background(), ReasonWatch); err != nil {
		s.logger.Errorf("Failed to stop app %s for watch relaunch: %v", s.name, err)
		s.transition(processstatemachine.ProcessStateStopped, ReasonWatch, err)
		return
	}

	if decision.Failed {
		s.logger.Errorf("App %s exceeded max_restarts (%d) through watch relaunches, not restarting until reset",
			s.name, s.tracker.Policy().MaxRestarts)
		s.transition(processstatemachine.ProcessStateFailed, ReasonWatch, nil)
		return
	}
	if decision.Reset {
		s.backoff.Reset()
	}
	if err := s.launch(ReasonWatch); err != nil {
		s.logger.Errorf("Failed to relaunch app %s after file change: %v", s.name, err)
	}
}

// stop ends a running or waiting app and leaves it stopped
func (s *appSupervisor) stop(ctx context.Context, reason, operation string) error {
	switch s.currentState() {
	case processstatemachine.ProcessStateWaitingRestart:
		s.cancelRestartTimer()
		return s.transition(processstatemachine.ProcessStateStopped, operation, nil)

	case processstatemachine.ProcessStateRunning:
		if err := s.transition(processstatemachine.ProcessStateStopping, operation, nil); err != nil {
			return err
		}
		stopErr := s.stopProcess(ctx, reason)
		if err := s.transition(processstatemachine.ProcessStateStopped, operation, stopErr); err != nil {
			return err
		}
		return stopErr

	default:
		return nil
	}
}

// stopProcess terminates the current process with the app's kill_timeout
func (s *appSupervisor) stopProcess(ctx context.Context, reason string) error {
	handle := s.handle
	if handle == nil {
		return nil
	}

	if err := handle.Stop(ctx, s.config.KillTimeoutValue()); err != nil {
		s.setLastError(err)
		if !handle.Exited() {
			// Keep the handle so the exit is still observed
			return errors.NewProcessError("failed to stop app", err).WithContext("app", s.name).WithContext("pid", handle.PID())
		}
	}

	s.recordExit(handle.Status(), reason)
	return nil
}

func (s *appSupervisor) shutdown(ctx context.Context) error {
	defer func() {
		if s.watcher != nil {
			if err := s.watcher.Close(); err != nil {
				s.logger.Warnf("Failed to close file watcher, app: %s, error: %v", s.name, err)
			}
			s.watcher = nil
		}
	}()

	return s.stop(ctx, ReasonShutdown, "shutdown")
}

func (s *appSupervisor) recordExit(status process.ExitStatus, reason string) {
	s.handle = nil
	s.unregisterLogs()
	runID := s.runID
	s.runID = ""

	exitInfo := &domain.ExitInfo{
		ExitCode:      status.ExitCode,
		Signal:        status.Signal,
		ExitedAt:      status.ExitedAt,
		UptimeSeconds: status.Uptime.Seconds(),
		Reason:        reason,
	}
	s.updateSnapshot(func(snapshot *appSnapshot) {
		snapshot.pid = 0
		snapshot.runID = ""
		snapshot.startedAt = time.Time{}
		snapshot.lastExit = exitInfo
	})

	s.notify(Event{
		Type:         EventExited,
		Time:         status.ExitedAt,
		RunID:        runID,
		Reason:       reason,
		RestartCount: s.tracker.RestartCount(),
		ExitCode:     status.ExitCode,
		Signal:       status.Signal,
		Uptime:       status.Uptime,
		Err:          status.Err,
	})
}

func (s *appSupervisor) resetCounters() {
	s.tracker.Reset()
	s.backoff.Reset()
	s.updateSnapshot(func(snapshot *appSnapshot) {
		snapshot.restartCount = 0
	})
	s.notify(Event{Type: EventStateChanged, State: s.currentState()})
	s.logger.Infof("App %s restart counter reset", s.name)
}

func (s *appSupervisor) cancelRestartTimer() {
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
}

func (s *appSupervisor) transition(to processstatemachine.ProcessState, operation string, cause error) error {
	if err := s.stateMachine.Transition(to, operation, cause); err != nil {
		return errors.NewInternalError("invalid app state transition", err).WithContext("app", s.name)
	}

	restartCount := s.tracker.RestartCount()
	s.updateSnapshot(func(snapshot *appSnapshot) {
		snapshot.restartCount = restartCount
	})
	s.notify(Event{Type: EventStateChanged, State: to, Reason: operation, RestartCount: restartCount, Err: cause})
	return nil
}

func (s *appSupervisor) notify(event Event) {
	event.App = s.name
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	for _, observer := range s.options.observers {
		observer.Observe(event)
	}
}

func (s *appSupervisor) currentState() processstatemachine.ProcessState {
	return s.stateMachine.GetCurrentState()
}

func (s *appSupervisor) setLastError(err error) {
	s.updateSnapshot(func(snapshot *appSnapshot) {
		snapshot.lastError = err.Error()
	})
}

func (s *appSupervisor) updateSnapshot(update func(snapshot *appSnapshot)) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	update(&s.snapshot)
}

// status builds the public view of the app. Safe to call from any goroutine.
func (s *appSupervisor) status() domain.AppStatus {
	s.mutex.RLock()
	snapshot := s.snapshot
	s.mutex.RUnlock()

	status := domain.AppStatus{
		Name:         s.name,
		State:        string(s.currentState()),
		PID:          snapshot.pid,
		RunID:        snapshot.runID,
		RestartCount: snapshot.restartCount,
		Restarts:     snapshot.restarts,
		Autorestart:  s.config.AutorestartEnabled(),
		Watch:        s.config.Watch,
		MaxRestarts:  s.config.MaxRestartsValue(),
		MinUptime:    ecosystem.Duration(s.config.MinUptimeValue()).String(),
		LastError:    snapshot.lastError,
	}

	if !snapshot.startedAt.IsZero() {
		startedAt := snapshot.startedAt
		status.StartedAt = &startedAt
		status.UptimeSeconds = time.Since(startedAt).Seconds()
	}
	if snapshot.lastExit != nil {
		lastExit := *snapshot.lastExit
		status.LastExit = &lastExit
	}

	return status
}
