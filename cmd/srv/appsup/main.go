package main

import (
	"fmt"
	"os"

	"github.com/core-tools/hsu-supervisor-go/pkg/logcollection"
	"github.com/core-tools/hsu-supervisor-go/pkg/logging"
	"github.com/core-tools/hsu-supervisor-go/pkg/logging/zaplogging"

	flags "github.com/jessevdk/go-flags"
)

type globalOptions struct {
	LogLevel  string `long:"log-level" env:"APPSUP_LOG_LEVEL" default:"info" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Log level"`
	LogFormat string `long:"log-format" env:"APPSUP_LOG_FORMAT" default:"console" choice:"console" choice:"json" description:"Log output format"`
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s , ", module)
}

// newLogger builds the zap backed logger; the returned func flushes it
func (o *globalOptions) newLogger(module string) (logging.Logger, func(), error) {
	logger, _, flush, err := o.newLoggers(module)
	return logger, flush, err
}

// newLoggers also returns the structured logger that app output goes through.
// Both share one zap core.
func (o *globalOptions) newLoggers(module string) (logging.Logger, logcollection.StructuredLogger, func(), error) {
	zapLogger, err := zaplogging.NewZapLogger(zaplogging.Options{
		Level:  o.LogLevel,
		Format: o.LogFormat,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	logger := logging.NewLogger(logPrefix(module), zapLogger.LogFuncs())
	appOutput := logcollection.NewStructuredLogger(zapLogger.Logger())
	return logger, appOutput, func() { _ = zapLogger.Sync() }, nil
}

func main() {
	var global globalOptions
	parser := flags.NewParser(&global, flags.Default)
	parser.ShortDescription = "Application supervisor"
	parser.LongDescription = "Launches, monitors and restarts the apps declared in an ecosystem file."

	commands := []struct {
		name, short, long string
		data              interface{}
	}{
		{"run", "Run the supervisor", "Load the ecosystem file and supervise every app until interrupted.", &runCommand{global: &global}},
		{"validate", "Validate an ecosystem file", "Parse and validate an ecosystem file without launching anything.", &validateCommand{}},
		{"show", "Show the apps of an ecosystem file", "Print a table of the apps declared in an ecosystem file.", &showCommand{}},
		{"convert", "Convert an ecosystem file", "Rewrite an ecosystem file as YAML, JSON or JS, chosen by the output extension.", &convertCommand{}},
		{"status", "Show the status of a running supervisor", "Query the control API of a running supervisor.", &statusCommand{global: &global}},
		{"runs", "Show the run history of an app", "List recent launches of an app from a supervisor started with --state-db.", &runsCommand{global: &global}},
		{"start", "Start an app", "Start a registered, stopped or failed app.", &appCommand{global: &global, action: actionStart}},
		{"stop", "Stop an app", "Stop a running app or cancel its pending restart.", &appCommand{global: &global, action: actionStop}},
		{"restart", "Restart an app", "Stop the app if it runs and launch it again.", &appCommand{global: &global, action: actionRestart}},
		{"reset", "Reset an app", "Clear the restart counter and the failed state, then launch the app unless it runs.", &appCommand{global: &global, action: actionReset}},
	}
	for _, command := range commands {
		if _, err := parser.AddCommand(command.name, command.short, command.long, command.data); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to register command %s: %v\n", command.name, err)
			os.Exit(1)
		}
	}

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
