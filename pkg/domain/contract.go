package domain

import (
	"context"
	"time"
)

// Contract is the operator surface of a running supervisor. The control server
// exposes it over HTTP and the control client implements it on the other side.
type Contract interface {
	Ping(ctx context.Context) error
	ListApps(ctx context.Context) ([]AppStatus, error)
	GetApp(ctx context.Context, name string) (AppStatus, error)
	StartApp(ctx context.Context, name string) error
	StopApp(ctx context.Context, name string) error
	RestartApp(ctx context.Context, name string) error
	ResetApp(ctx context.Context, name string) error
	ListRuns(ctx context.Context, name string, limit int) ([]Run, error)
}

// AppStatus is a point-in-time view of one supervised app
type AppStatus struct {
	Name          string     `json:"name"`
	State         string     `json:"state"`
	PID           int        `json:"pid,omitempty"`
	RunID         string     `json:"run_id,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	UptimeSeconds float64    `json:"uptime_seconds,omitempty"`

	// RestartCount is the consecutive-restart counter checked against MaxRestarts
	RestartCount int `json:"restart_count"`
	// Restarts counts every relaunch since the supervisor started
	Restarts int `json:"restarts"`

	Autorestart bool   `json:"autorestart"`
	Watch       bool   `json:"watch"`
	MaxRestarts int    `json:"max_restarts"`
	MinUptime   string `json:"min_uptime"`

	LastExit  *ExitInfo  `json:"last_exit,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	Resources *Resources `json:"resources,omitempty"`
}

type ExitInfo struct {
	ExitCode      int       `json:"exit_code"`
	Signal        string    `json:"signal,omitempty"`
	ExitedAt      time.Time `json:"exited_at"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	Reason        string    `json:"reason"`
}

type Resources struct {
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
	Threads    int32   `json:"threads"`
}

// Run is one launch of an app as kept by the run history
type Run struct {
	ID           string     `json:"id" db:"id"`
	App          string     `json:"app" db:"app"`
	PID          int        `json:"pid" db:"pid"`
	StartedAt    time.Time  `json:"started_at" db:"started_at"`
	ExitedAt     *time.Time `json:"exited_at,omitempty" db:"exited_at"`
	ExitCode     *int       `json:"exit_code,omitempty" db:"exit_code"`
	UptimeMs     *int64     `json:"uptime_ms,omitempty" db:"uptime_ms"`
	RestartCount int        `json:"restart_count" db:"restart_count"`
	Reason       string     `json:"reason,omitempty" db:"reason"`
}
