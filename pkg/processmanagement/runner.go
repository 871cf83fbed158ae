package processmanagement

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/core-tools/hsu-supervisor-go/pkg/control"
	"github.com/core-tools/hsu-supervisor-go/pkg/ecosystem"
	"github.com/core-tools/hsu-supervisor-go/pkg/errors"
	"github.com/core-tools/hsu-supervisor-go/pkg/history"
	"github.com/core-tools/hsu-supervisor-go/pkg/logcollection"
	"github.com/core-tools/hsu-supervisor-go/pkg/logging"
	"github.com/core-tools/hsu-supervisor-go/pkg/metrics"
)

type RunOptions struct {
	ConfigFile    string
	ListenAddress string

	// StateDB is the SQLite run history path; empty disables history
	StateDB string

	// RunDuration stops the supervisor after the given time; zero runs until signalled
	RunDuration          time.Duration
	ForceShutdownTimeout time.Duration
	WatchDebounce        time.Duration

	// CheckPaths verifies cwd, script and interpreter on disk before starting
	CheckPaths bool

	// AppOutput receives app stdout and stderr lines; nil discards them
	AppOutput logcollection.StructuredLogger
}

const controlShutdownTimeout = 5 * time.Second

// Run loads the ecosystem file, supervises every declared app and serves the
// control API until SIGINT/SIGTERM or RunDuration elapses
func Run(options RunOptions, logger logging.Logger) error {
	logger.Infof("Supervisor runner starting...")

	logger.Infof("Platform: OS=%s, Arch=%s, CPUs=%d, Go=%s",
		runtime.GOOS, runtime.GOARCH, runtime.NumCPU(), runtime.Version())

	componentCtx := context.Background()
	operationCtx := componentCtx

	if options.RunDuration > 0 {
		logger.Infof("Using RUN DURATION of %v", options.RunDuration)
		var cancel context.CancelFunc
		operationCtx, cancel = context.WithTimeout(componentCtx, options.RunDuration)
		defer cancel()
	}

	logger.Infof("Using CONFIGURATION FILE: %s", options.ConfigFile)

	config, err := ecosystem.ValidateConfigFile(options.ConfigFile, options.CheckPaths)
	if err != nil {
		return err
	}

	summary := ecosystem.GetConfigSummary(config)
	logger.Infof("Configuration loaded successfully, apps: %d, autorestart: %d, watched: %d",
		summary.TotalApps, summary.AutorestartApps, summary.WatchedApps)

	appMetrics := metrics.New()
	observers := []Observer{NewMetricsObserver(appMetrics)}

	var runs RunLister
	if options.StateDB != "" {
		store, err := history.Open(componentCtx, options.StateDB, logger)
		if err != nil {
			return errors.NewIOError("failed to open run history", err).WithContext("state_db", options.StateDB)
		}
		defer store.Close()

		if interrupted, err := store.MarkInterrupted(componentCtx, time.Now()); err != nil {
			logger.Warnf("Failed to close runs left open by a previous supervisor: %v", err)
		} else if interrupted > 0 {
			logger.Infof("Marked %d runs from a previous supervisor as interrupted", interrupted)
		}

		observers = append(observers, NewHistoryObserver(store, logger))
		runs = store
		logger.Infof("Run history is ENABLED, database: %s", options.StateDB)
	} else {
		logger.Infof("Run history is DISABLED")
	}

	processManager := NewProcessManager(ProcessManagerOptions{
		ForceShutdownTimeout: options.ForceShutdownTimeout,
		WatchDebounce:        options.WatchDebounce,
		Observers:            observers,
		CollectResources:     true,
		LogCollection:        logcollection.NewLogCollectionService(options.AppOutput, logger),
	}, logger)

	// Registration phase
	for _, app := range config.Apps {
		appMetrics.RegisterApp(app.Name)
		if err := processManager.AddApp(app); err != nil {
			return errors.NewValidationError(fmt.Sprintf("failed to add app: %s", app.Name), err).WithContext("app", app.Name)
		}
	}

	router := control.NewRouter(NewDomainHandler(processManager, runs), appMetrics.Handler(), logger)
	server, err := control.NewServer(control.ServerOptions{Address: options.ListenAddress}, router, logger)
	if err != nil {
		if stopErr := processManager.Stop(context.Background()); stopErr != nil {
			logger.Warnf("Failed to stop process manager after control API failure: %v", stopErr)
		}
		return err
	}

	if err := processManager.Start(operationCtx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), controlShutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warnf("Control API shutdown: %v", shutdownErr)
		}
		if stopErr := processManager.Stop(context.Background()); stopErr != nil {
			logger.Warnf("Failed to stop process manager: %v", stopErr)
		}
		return err
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.Serve()
	}()

	logger.Infof("Enabling signal handling...")

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig, os.Interrupt)
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}
	defer signal.Stop(sig)

	logger.Infof("Supervisor is ready, starting apps...")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()

		// Lifecycle phase; a failing app does not prevent the others from starting
		for _, app := range config.Apps {
			if err := processManager.StartApp(componentCtx, app.Name); err != nil {
				logger.Errorf("Failed to start app %s: %v", app.Name, err)
				continue
			}
			logger.Infof("Started app: %s", app.Name)
		}

		logger.Infof("All apps started, supervisor is fully operational")
	}()

	var runErr error
	select {
	case receivedSignal := <-sig:
		logger.Infof("Supervisor runner received signal: %v", receivedSignal)
	case <-operationCtx.Done():
		logger.Infof("Supervisor runner reached its run duration")
	case err := <-serverDone:
		logger.Errorf("Control API stopped unexpectedly: %v", err)
		runErr = err
	}

	logger.Infof("Waiting for apps start to finish...")
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), controlShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("Control API shutdown: %v", err)
	}

	// Reset context to background to enable graceful shutdown
	if err := processManager.Stop(context.Background()); err != nil {
		logger.Errorf("Supervisor stopped with errors: %v", err)
		if runErr == nil {
			runErr = err
		}
	}

	logger.Infof("Supervisor runner stopped")

	return runErr
}
