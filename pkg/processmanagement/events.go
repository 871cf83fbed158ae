package processmanagement

import (
	"context"
	"time"

	"github.com/core-tools/hsu-supervisor-go/pkg/domain"
	"github.com/core-tools/hsu-supervisor-go/pkg/history"
	"github.com/core-tools/hsu-supervisor-go/pkg/logging"
	"github.com/core-tools/hsu-supervisor-go/pkg/metrics"
	"github.com/core-tools/hsu-supervisor-go/pkg/processmanagement/processstatemachine"
)

type EventType string

const (
	EventLaunched     EventType = "launched"
	EventLaunchFailed EventType = "launch_failed"
	EventExited       EventType = "exited"
	EventStateChanged EventType = "state_changed"
	EventRemoved      EventType = "removed"
)

// Launch reasons
const (
	ReasonStart       = "start"
	ReasonAutorestart = "autorestart"
	ReasonWatch       = "watch"
	ReasonRestart     = "restart"
	ReasonReset       = "reset"
)

// Exit reasons, besides ReasonWatch and ReasonRestart
const (
	ReasonExited   = "exited"
	ReasonStopped  = "stopped"
	ReasonShutdown = "shutdown"
)

// Event is emitted by an app's supervision goroutine. Observers are called
// synchronously from that goroutine, in order.
type Event struct {
	Type         EventType
	App          string
	Time         time.Time
	RunID        string
	PID          int
	Reason       string
	State        processstatemachine.ProcessState
	RestartCount int
	ExitCode     int
	Signal       string
	Uptime       time.Duration
	Err          error
}

type Observer interface {
	Observe(event Event)
}

type ObserverFunc func(event Event)

func (f ObserverFunc) Observe(event Event) {
	f(event)
}

type metricsObserver struct {
	metrics *metrics.Metrics
}

// NewMetricsObserver feeds supervision events into Prometheus collectors
func NewMetricsObserver(m *metrics.Metrics) Observer {
	return &metricsObserver{metrics: m}
}

func (o *metricsObserver) Observe(event Event) {
	switch event.Type {
	case EventLaunched:
		o.metrics.RecordLaunch(event.App, event.Reason != ReasonStart)
	case EventLaunchFailed:
		o.metrics.RecordLaunchError(event.App)
	case EventExited:
		o.metrics.RecordExit(event.App, event.Uptime)
	case EventStateChanged:
		o.metrics.SetRestartCount(event.App, event.RestartCount)
		o.metrics.SetFailed(event.App, event.State == processstatemachine.ProcessStateFailed)
	case EventRemoved:
		o.metrics.UnregisterApp(event.App)
	}
}

const historyWriteTimeout = 5 * time.Second

type historyObserver struct {
	store  *history.Store
	logger logging.Logger
}

// NewHistoryObserver records every launch and exit in the run history store.
// Write failures are logged and never affect supervision.
func NewHistoryObserver(store *history.Store, logger logging.Logger) Observer {
	return &historyObserver{
		store:  store,
		logger: logger,
	}
}

func (o *historyObserver) Observe(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()

	switch event.Type {
	case EventLaunched:
		err := o.store.RecordStart(ctx, domain.Run{
			ID:           event.RunID,
			App:          event.App,
			PID:          event.PID,
			StartedAt:    event.Time,
			RestartCount: event.RestartCount,
			Reason:       event.Reason,
		})
		if err != nil {
			o.logger.Warnf("Failed to record run start, app: %s, run: %s, error: %v", event.App, event.RunID, err)
		}
	case EventExited:
		err := o.store.RecordExit(ctx, event.RunID, event.Time, event.ExitCode, event.Uptime, event.Reason)
		if err != nil {
			o.logger.Warnf("Failed to record run exit, app: %s, run: %s, error: %v", event.App, event.RunID, err)
		}
	}
}
