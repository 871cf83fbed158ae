package processmanagement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/core-tools/hsu-supervisor-go/pkg/diagnostics"
	"github.com/core-tools/hsu-supervisor-go/pkg/domain"
	"github.com/core-tools/hsu-supervisor-go/pkg/ecosystem"
	"github.com/core-tools/hsu-supervisor-go/pkg/errors"
	"github.com/core-tools/hsu-supervisor-go/pkg/logcollection"
	"github.com/core-tools/hsu-supervisor-go/pkg/logging"
	"github.com/core-tools/hsu-supervisor-go/pkg/processmanagement/processstatemachine"
	"github.com/core-tools/hsu-supervisor-go/pkg/watch"
)

type AppRegistry interface {
	AddApp(app ecosystem.AppConfig) error
	RemoveApp(ctx context.Context, name string) error
}

type AppLifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	StartApp(ctx context.Context, name string) error
	StopApp(ctx context.Context, name string) error
	RestartApp(ctx context.Context, name string) error
	ResetApp(ctx context.Context, name string) error
	GetManagerState() ProcessManagerState
	GetAppStatus(ctx context.Context, name string) (domain.AppStatus, error)
	ListApps(ctx context.Context) []domain.AppStatus
	GetAppStateInfo(name string) (processstatemachine.ProcessStateInfo, error)
	IsAppOperationAllowed(name string, operation string) (bool, error)
}

type ProcessManager interface {
	AppRegistry
	AppLifecycle
}

type ProcessManagerOptions struct {
	ForceShutdownTimeout time.Duration
	WatchDebounce        time.Duration

	// BackoffSeed seeds restart delay jitter; zero uses the current time
	BackoffSeed int64

	Observers []Observer

	// CollectResources adds gopsutil resource usage to app status
	CollectResources bool

	// LogCollection receives app output; nil discards it
	LogCollection logcollection.LogCollectionService
}

const defaultForceShutdownTimeout = 30 * time.Second

// ProcessManagerState represents the current state of the process manager
type ProcessManagerState string

const (
	// ProcessManagerStateNotStarted is the initial state before Start is called
	ProcessManagerStateNotStarted ProcessManagerState = "not_started"

	// ProcessManagerStateRunning means the manager accepts app operations
	ProcessManagerStateRunning ProcessManagerState = "running"

	ProcessManagerStateStopping ProcessManagerState = "stopping"
	ProcessManagerStateStopped  ProcessManagerState = "stopped"
)

type processManager struct {
	options ProcessManagerOptions
	apps    map[string]*appSupervisor
	order   []string // declaration order
	state   ProcessManagerState
	mutex   sync.Mutex
	logger  logging.Logger
}

func NewProcessManager(options ProcessManagerOptions, logger logging.Logger) ProcessManager {
	if options.BackoffSeed == 0 {
		options.BackoffSeed = time.Now().UnixNano()
	}
	if options.WatchDebounce <= 0 {
		options.WatchDebounce = watch.DefaultDebounce
	}
	if options.LogCollection == nil {
		options.LogCollection = logcollection.NewLogCollectionService(nil, logger)
	}

	return &processManager{
		options: options,
		logger:  logger,
		apps:    make(map[string]*appSupervisor),
		state:   ProcessManagerStateNotStarted,
	}
}

func (pm *processManager) AddApp(app ecosystem.AppConfig) error {
	if err := ecosystem.ValidateAppName(app.Name); err != nil {
		return errors.NewValidationError("invalid app name", err).WithContext("app", app.Name)
	}

	ecosystem.ApplyAppDefaults(&app, "")
	if err := ecosystem.ValidateAppConfig(app); err != nil {
		return errors.NewValidationError("invalid app configuration", err).WithContext("app", app.Name)
	}

	pm.logger.Infof("Adding app, name: %s, script: %s, cwd: %s, autorestart: %t, max_restarts: %d, min_uptime: %s, watch: %t",
		app.Name, app.Script, app.Cwd, app.AutorestartEnabled(), app.MaxRestartsValue(), app.MinUptimeValue(), app.Watch)

	pm.mutex.Lock()
	defer pm.mutex.Unlock()

	if pm.state == ProcessManagerStateStopping || pm.state == ProcessManagerStateStopped {
		return errors.NewConflictError("process manager is shutting down", nil).WithContext("app", app.Name)
	}
	if _, exists := pm.apps[app.Name]; exists {
		return errors.NewConflictError("app already exists", nil).WithContext("app", app.Name)
	}

	supervisor := newAppSupervisor(app, appSupervisorOptions{
		watchDebounce: pm.options.WatchDebounce,
		backoffSeed:   pm.options.BackoffSeed,
		observers:     pm.options.Observers,
		logCollection: pm.options.LogCollection,
	}, pm.logger)

	if err := supervisor.stateMachine.ValidateOperation(processstatemachine.OperationAdd); err != nil {
		return err
	}
	if err := supervisor.transition(processstatemachine.ProcessStateRegistered, processstatemachine.OperationAdd, nil); err != nil {
		return errors.NewInternalError("failed to transition app to registered state", err).WithContext("app", app.Name)
	}

	supervisor.start()

	pm.apps[app.Name] = supervisor
	pm.order = append(pm.order, app.Name)

	pm.logger.Infof("App added successfully, name: %s, state: %s", app.Name, supervisor.currentState())
	return nil
}

func (pm *processManager) RemoveApp(ctx context.Context, name string) error {
	if err := ecosystem.ValidateAppName(name); err != nil {
		return errors.NewValidationError("invalid app name", err).WithContext("app", name)
	}

	pm.logger.Infof("Removing app, name: %s", name)

	supervisor, _, exists := pm.getAppAndManagerState(name)
	if !exists {
		return errors.NewNotFoundError("app not found", nil).WithContext("app", name)
	}

	currentState := supervisor.currentState()
	if !supervisor.stateMachine.IsOperationAllowed(processstatemachine.OperationRemove) {
		return errors.NewConflictError(
			fmt.Sprintf("cannot remove app in state '%s': app must be stopped before removal", currentState),
			nil,
		).WithContext("app", name).
			WithContext("current_state", string(currentState)).
			WithContext("suggested_action", "call StopApp first")
	}

	if err := supervisor.send(ctx, commandShutdown); err != nil {
		return err
	}

	pm.mutex.Lock()
	defer pm.mutex.Unlock()

	if _, exists := pm.apps[name]; !exists {
		return errors.NewNotFoundError("app not found", nil).WithContext("app", name)
	}
	delete(pm.apps, name)
	for i, appName := range pm.order {
		if appName == name {
			pm.order = append(pm.order[:i], pm.order[i+1:]...)
			break
		}
	}

	supervisor.notify(Event{Type: EventRemoved})

	pm.logger.Infof("App removed successfully, name: %s", name)
	return nil
}

func (pm *processManager) StartApp(ctx context.Context, name string) error {
	return pm.appOperation(ctx, name, commandStart)
}

func (pm *processManager) StopApp(ctx context.Context, name string) error {
	return pm.appOperation(ctx, name, commandStop)
}

func (pm *processManager) RestartApp(ctx context.Context, name string) error {
	return pm.appOperation(ctx, name, commandRestart)
}

// ResetApp clears the restart counter and the failed state, then relaunches the
// app unless it is already running
func (pm *processManager) ResetApp(ctx context.Context, name string) error {
	return pm.appOperation(ctx, name, commandReset)
}

func (pm *processManager) appOperation(ctx context.Context, name string, kind commandKind) error {
	if ctx == nil {
		return errors.NewValidationError("context cannot be nil", nil)
	}
	if err := ecosystem.ValidateAppName(name); err != nil {
		return errors.NewValidationError("invalid app name", err).WithContext("app", name)
	}

	supervisor, managerState, exists := pm.getAppAndManagerState(name)
	if !exists {
		return errors.NewNotFoundError("app not found", nil).WithContext("app", name)
	}

	if managerState != ProcessManagerStateRunning {
		return errors.NewConflictError(
			fmt.Sprintf("process manager must be running to %s apps, current state: %s", kind, managerState),
			nil,
		).WithContext("app", name).WithContext("state", string(managerState))
	}

	pm.logger.Infof("App operation requested, name: %s, operation: %s", name, kind)

	if err := supervisor.send(ctx, kind); err != nil {
		if ctx.Err() != nil && !errors.IsCancelledError(err) {
			return errors.NewCancelledError(fmt.Sprintf("app %s was cancelled", kind), ctx.Err()).WithContext("app", name)
		}
		return err
	}

	pm.logger.Infof("App operation completed, name: %s, operation: %s, state: %s", name, kind, supervisor.currentState())
	return nil
}

func (pm *processManager) Start(ctx context.Context) error {
	pm.logger.Infof("Starting process manager...")

	pm.mutex.Lock()
	defer pm.mutex.Unlock()

	if pm.state != ProcessManagerStateNotStarted {
		return errors.NewConflictError("process manager already started", nil).WithContext("state", string(pm.state))
	}
	pm.state = ProcessManagerStateRunning

	pm.logger.Infof("Process manager started, apps: %d", len(pm.apps))
	return nil
}

// Stop shuts every app down in parallel and waits for them, bounded by ForceShutdownTimeout
func (pm *processManager) Stop(ctx context.Context) error {
	pm.logger.Infof("Stopping process manager...")

	pm.setManagerState(ProcessManagerStateStopping)

	if ctx == nil {
		ctx = context.Background()
	}

	forceShutdownTimeout := pm.options.ForceShutdownTimeout
	if forceShutdownTimeout <= 0 {
		forceShutdownTimeout = defaultForceShutdownTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, forceShutdownTimeout)
	defer cancel()

	err := pm.shutdownApps(ctx)

	pm.setManagerState(ProcessManagerStateStopped)

	pm.logger.Infof("Process manager stopped")

	return err
}

func (pm *processManager) shutdownApps(ctx context.Context) error {
	supervisors := pm.getAllApps()

	pm.logger.Infof("Shutting down %d apps...", len(supervisors))

	var (
		wg              sync.WaitGroup
		mutex           sync.Mutex
		errorCollection = errors.NewErrorCollection()
	)
	for _, supervisor := range supervisors {
		wg.Add(1)
		go func(supervisor *appSupervisor) {
			defer wg.Done()

			if err := supervisor.send(ctx, commandShutdown); err != nil {
				pm.logger.Errorf("Failed to shut down app, name: %s, error: %v", supervisor.name, err)

				mutex.Lock()
				errorCollection.Add(errors.NewProcessError("failed to shut down app", err).WithContext("app", supervisor.name))
				mutex.Unlock()
			}
		}(supervisor)
	}
	wg.Wait()

	if errorCollection.HasErrors() {
		pm.logger.Errorf("Some apps failed to shut down: %v", errorCollection.Error())
	}

	pm.logger.Infof("Apps shut down")

	return errorCollection.ToError()
}

func (pm *processManager) GetManagerState() ProcessManagerState {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()
	return pm.state
}

// GetAppStatus returns a point-in-time view of one app, with resource usage when enabled
func (pm *processManager) GetAppStatus(ctx context.Context, name string) (domain.AppStatus, error) {
	if err := ecosystem.ValidateAppName(name); err != nil {
		return domain.AppStatus{}, errors.NewValidationError("invalid app name", err).WithContext("app", name)
	}

	supervisor, _, exists := pm.getAppAndManagerState(name)
	if !exists {
		return domain.AppStatus{}, errors.NewNotFoundError("app not found", nil).WithContext("app", name)
	}

	return pm.appStatus(ctx, supervisor), nil
}

// ListApps returns all apps in declaration order
func (pm *processManager) ListApps(ctx context.Context) []domain.AppStatus {
	supervisors := pm.getAllApps()

	statuses := make([]domain.AppStatus, 0, len(supervisors))
	for _, supervisor := range supervisors {
		statuses = append(statuses, pm.appStatus(ctx, supervisor))
	}
	return statuses
}

func (pm *processManager) appStatus(ctx context.Context, supervisor *appSupervisor) domain.AppStatus {
	status := supervisor.status()
	if !pm.options.CollectResources || status.PID == 0 {
		return status
	}

	snapshot, err := diagnostics.CollectProcess(ctx, status.PID)
	if err != nil {
		pm.logger.Debugf("Failed to collect resources, app: %s, pid: %d, error: %v", status.Name, status.PID, err)
		return status
	}
	status.Resources = &domain.Resources{
		RSSBytes:   snapshot.RSSBytes,
		CPUPercent: snapshot.CPUPercent,
		Threads:    snapshot.Threads,
	}
	return status
}

func (pm *processManager) GetAppStateInfo(name string) (processstatemachine.ProcessStateInfo, error) {
	if err := ecosystem.ValidateAppName(name); err != nil {
		return processstatemachine.ProcessStateInfo{}, errors.NewValidationError("invalid app name", err).WithContext("app", name)
	}

	supervisor, _, exists := pm.getAppAndManagerState(name)
	if !exists {
		return processstatemachine.ProcessStateInfo{}, errors.NewNotFoundError("app not found", nil).WithContext("app", name)
	}

	return supervisor.stateMachine.GetStateInfo(), nil
}

func (pm *processManager) IsAppOperationAllowed(name string, operation string) (bool, error) {
	if err := ecosystem.ValidateAppName(name); err != nil {
		return false, errors.NewValidationError("invalid app name", err).WithContext("app", name)
	}

	supervisor, _, exists := pm.getAppAndManagerState(name)
	if !exists {
		return false, errors.NewNotFoundError("app not found", nil).WithContext("app", name)
	}

	return supervisor.stateMachine.IsOperationAllowed(operation), nil
}

// getAllApps returns the supervisors in declaration order under lock
func (pm *processManager) getAllApps() []*appSupervisor {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()

	supervisors := make([]*appSupervisor, 0, len(pm.order))
	for _, name := range pm.order {
		supervisors = append(supervisors, pm.apps[name])
	}
	return supervisors
}

// getAppAndManagerState returns supervisor, manager state and existence under lock
func (pm *processManager) getAppAndManagerState(name string) (*appSupervisor, ProcessManagerState, bool) {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()

	supervisor, exists := pm.apps[name]
	return supervisor, pm.state, exists
}

func (pm *processManager) setManagerState(state ProcessManagerState) {
	pm.mutex.Lock()
	pm.state = state
	pm.mutex.Unlock()
}
