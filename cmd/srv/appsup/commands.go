package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/core-tools/hsu-supervisor-go/pkg/control"
	"github.com/core-tools/hsu-supervisor-go/pkg/domain"
	"github.com/core-tools/hsu-supervisor-go/pkg/ecosystem"
	"github.com/core-tools/hsu-supervisor-go/pkg/errors"
	"github.com/core-tools/hsu-supervisor-go/pkg/processmanagement"

	"github.com/olekukonko/tablewriter"
)

type ConfigOption struct {
	Config string `long:"config" short:"c" env:"APPSUP_CONFIG" required:"true" description:"Ecosystem file (.yaml, .yml, .json, .js, .cjs)"`
}

type ListenOption struct {
	Listen string `long:"listen" env:"APPSUP_LISTEN" default:"127.0.0.1:9615" description:"Control API address"`
}

type runCommand struct {
	global *globalOptions

	ConfigOption
	ListenOption
	StateDB              string        `long:"state-db" env:"APPSUP_STATE_DB" description:"SQLite run history path (disabled when empty)"`
	RunDuration          int           `long:"run-duration" description:"Duration in seconds to run (debug feature)"`
	ForceShutdownTimeout time.Duration `long:"force-shutdown-timeout" default:"30s" description:"Upper bound for stopping all apps"`
	WatchDebounce        time.Duration `long:"watch-debounce" default:"500ms" description:"Quiet period before a file change relaunches an app"`
	CheckPaths           bool          `long:"check-paths" description:"Verify cwd, script and interpreter before starting"`
}

func (c *runCommand) Execute(args []string) error {
	logger, appOutput, flush, err := c.global.newLoggers("appsup")
	if err != nil {
		return err
	}
	defer flush()

	err = processmanagement.Run(processmanagement.RunOptions{
		ConfigFile:           c.Config,
		ListenAddress:        c.Listen,
		StateDB:              c.StateDB,
		RunDuration:          time.Duration(c.RunDuration) * time.Second,
		ForceShutdownTimeout: c.ForceShutdownTimeout,
		WatchDebounce:        c.WatchDebounce,
		CheckPaths:           c.CheckPaths,
		AppOutput:            appOutput,
	}, logger)
	if err != nil {
		logger.Errorf("Failed to run: %v", err)
	}
	return err
}

type validateCommand struct {
	ConfigOption
	CheckPaths bool `long:"check-paths" description:"Also verify cwd, script and interpreter on disk"`
}

func (c *validateCommand) Execute(args []string) error {
	config, err := ecosystem.ValidateConfigFile(c.Config, c.CheckPaths)
	if err != nil {
		return err
	}
	fmt.Printf("%s: OK, %d apps\n", c.Config, len(config.Apps))
	return nil
}

type showCommand struct {
	ConfigOption
}

func (c *showCommand) Execute(args []string) error {
	config, err := ecosystem.ValidateConfigFile(c.Config, false)
	if err != nil {
		return err
	}
	return renderConfigSummary(os.Stdout, ecosystem.GetConfigSummary(config))
}

type convertCommand struct {
	ConfigOption
	Output string `long:"output" short:"o" required:"true" description:"Output file, format chosen by extension"`
}

func (c *convertCommand) Execute(args []string) error {
	config, err := ecosystem.ValidateConfigFile(c.Config, false)
	if err != nil {
		return err
	}
	if err := ecosystem.WriteConfigFile(config, c.Output); err != nil {
		return err
	}
	fmt.Printf("Wrote %d apps to %s\n", len(config.Apps), c.Output)
	return nil
}

type statusCommand struct {
	global *globalOptions

	ListenOption
	Wait int `long:"wait" default:"1" description:"Connection attempts before giving up"`
}

func (c *statusCommand) Execute(args []string) error {
	logger, flush, err := c.global.newLogger("appsup-cli")
	if err != nil {
		return err
	}
	defer flush()

	ctx := context.Background()
	client := control.NewClient(control.ClientOptions{Address: c.Listen}, logger)

	err = domain.RetryPing(ctx, client, domain.RetryPingOptions{
		RetryAttempts: c.Wait,
		RetryInterval: 500 * time.Millisecond,
	}, logger)
	if err != nil {
		return err
	}

	apps, err := client.ListApps(ctx)
	if err != nil {
		return err
	}
	return renderAppStatuses(os.Stdout, apps)
}

type runsCommand struct {
	global *globalOptions

	ListenOption
	Limit int `long:"limit" default:"20" description:"Maximum number of runs"`
	Args  struct {
		Name string `positional-arg-name:"NAME" required:"true"`
	} `positional-args:"true"`
}

func (c *runsCommand) Execute(args []string) error {
	logger, flush, err := c.global.newLogger("appsup-cli")
	if err != nil {
		return err
	}
	defer flush()

	client := control.NewClient(control.ClientOptions{Address: c.Listen}, logger)
	runs, err := client.ListRuns(context.Background(), c.Args.Name, c.Limit)
	if err != nil {
		return err
	}
	return renderRuns(os.Stdout, runs)
}

type appAction string

const (
	actionStart   appAction = "start"
	actionStop    appAction = "stop"
	actionRestart appAction = "restart"
	actionReset   appAction = "reset"
)

type appCommand struct {
	global *globalOptions
	action appAction

	ListenOption
	Args struct {
		Name string `positional-arg-name:"NAME" required:"true"`
	} `positional-args:"true"`
}

func (c *appCommand) Execute(args []string) error {
	logger, flush, err := c.global.newLogger("appsup-cli")
	if err != nil {
		return err
	}
	defer flush()

	ctx := context.Background()
	client := control.NewClient(control.ClientOptions{Address: c.Listen}, logger)

	if err := runAppAction(ctx, client, c.action, c.Args.Name); err != nil {
		return err
	}

	app, err := client.GetApp(ctx, c.Args.Name)
	if err != nil {
		return err
	}
	return renderAppStatuses(os.Stdout, []domain.AppStatus{app})
}

func runAppAction(ctx context.Context, client domain.Contract, action appAction, name string) error {
	switch action {
	case actionStart:
		return client.StartApp(ctx, name)
	case actionStop:
		return client.StopApp(ctx, name)
	case actionRestart:
		return client.RestartApp(ctx, name)
	case actionReset:
		return client.ResetApp(ctx, name)
	default:
		return errors.NewValidationError(fmt.Sprintf("unknown action: %s", action), nil)
	}
}

func renderConfigSummary(w io.Writer, summary ecosystem.ConfigSummary) error {
	table := tablewriter.NewWriter(w)
	table.Header("Name", "Cwd", "Command", "Autorestart", "Max restarts", "Min uptime", "Watch")
	for _, app := range summary.Apps {
		err := table.Append(
			app.Name,
			app.Cwd,
			app.Command,
			strconv.FormatBool(app.Autorestart),
			strconv.Itoa(app.MaxRestarts),
			app.MinUptime,
			strconv.FormatBool(app.Watch),
		)
		if err != nil {
			return err
		}
	}
	return table.Render()
}

func renderAppStatuses(w io.Writer, apps []domain.AppStatus) error {
	table := tablewriter.NewWriter(w)
	table.Header("Name", "State", "PID", "Uptime", "Restarts", "Restart count", "Last exit", "Memory", "CPU")
	for _, app := range apps {
		err := table.Append(
			app.Name,
			app.State,
			formatPID(app.PID),
			formatSeconds(app.UptimeSeconds),
			strconv.Itoa(app.Restarts),
			fmt.Sprintf("%d/%d", app.RestartCount, app.MaxRestarts),
			formatExit(app.LastExit),
			formatMemory(app.Resources),
			formatCPU(app.Resources),
		)
		if err != nil {
			return err
		}
	}
	return table.Render()
}

func renderRuns(w io.Writer, runs []domain.Run) error {
	table := tablewriter.NewWriter(w)
	table.Header("Run", "PID", "Started", "Exited", "Exit code", "Uptime", "Restart count", "Reason")
	for _, run := range runs {
		exited, exitCode, uptime := "-", "-", "-"
		if run.ExitedAt != nil {
			exited = run.ExitedAt.Local().Format(time.DateTime)
		}
		if run.ExitCode != nil {
			exitCode = strconv.Itoa(*run.ExitCode)
		}
		if run.UptimeMs != nil {
			uptime = (time.Duration(*run.UptimeMs) * time.Millisecond).String()
		}

		err := table.Append(
			run.ID,
			strconv.Itoa(run.PID),
			run.StartedAt.Local().Format(time.DateTime),
			exited,
			exitCode,
			uptime,
			strconv.Itoa(run.RestartCount),
			run.Reason,
		)
		if err != nil {
			return err
		}
	}
	return table.Render()
}

func formatPID(pid int) string {
	if pid == 0 {
		return "-"
	}
	return strconv.Itoa(pid)
}

func formatSeconds(seconds float64) string {
	if seconds <= 0 {
		return "-"
	}
	return time.Duration(seconds * float64(time.Second)).Round(time.Second).String()
}

func formatExit(exit *domain.ExitInfo) string {
	if exit == nil {
		return "-"
	}
	parts := []string{exit.Reason}
	if exit.Signal != "" {
		parts = append(parts, "signal "+exit.Signal)
	} else {
		parts = append(parts, "code "+strconv.Itoa(exit.ExitCode))
	}
	return strings.Join(parts, ", ")
}

func formatMemory(resources *domain.Resources) string {
	if resources == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f MB", float64(resources.RSSBytes)/(1024*1024))
}

func formatCPU(resources *domain.Resources) string {
	if resources == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", resources.CPUPercent)
}
