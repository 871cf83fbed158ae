package ecosystem

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/core-tools/hsu-supervisor-go/pkg/errors"
)

// EcosystemConfig represents the top-level configuration file structure
type EcosystemConfig struct {
	Apps []AppConfig `yaml:"apps" json:"apps"`
}

// AppConfig describes one supervised process
type AppConfig struct {
	Name   string  `yaml:"name" json:"name"`
	Cwd    string  `yaml:"cwd,omitempty" json:"cwd,omitempty"`
	Script string  `yaml:"script" json:"script"`
	Args   ArgList `yaml:"args,omitempty" json:"args,omitempty"`

	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	// Interpreter overrides extension-based resolution; "none" executes the script directly
	Interpreter     string  `yaml:"interpreter,omitempty" json:"interpreter,omitempty"`
	InterpreterArgs ArgList `yaml:"interpreter_args,omitempty" json:"interpreter_args,omitempty"`

	Autorestart *bool     `yaml:"autorestart,omitempty" json:"autorestart,omitempty"`   // Pointer to distinguish unset from false
	MaxRestarts *int      `yaml:"max_restarts,omitempty" json:"max_restarts,omitempty"` // Pointer because 0 is meaningful
	MinUptime   *Duration `yaml:"min_uptime,omitempty" json:"min_uptime,omitempty"`     // Pointer because 0 is meaningful

	RestartDelay           Duration  `yaml:"restart_delay,omitempty" json:"restart_delay,omitempty"`
	ExpBackoffRestartDelay Duration  `yaml:"exp_backoff_restart_delay,omitempty" json:"exp_backoff_restart_delay,omitempty"`
	KillTimeout            *Duration `yaml:"kill_timeout,omitempty" json:"kill_timeout,omitempty"` // 0 kills without a grace period

	Watch       bool     `yaml:"watch" json:"watch"`
	IgnoreWatch []string `yaml:"ignore_watch,omitempty" json:"ignore_watch,omitempty"`

	// Output also goes to these files, relative to cwd; both may name one file
	OutFile   string `yaml:"out_file,omitempty" json:"out_file,omitempty"`
	ErrorFile string `yaml:"error_file,omitempty" json:"error_file,omitempty"`
}

const (
	DefaultMaxRestarts = 16
	DefaultMinUptime   = Duration(1 * time.Second)
	DefaultKillTimeout = Duration(1600 * time.Millisecond)

	// InterpreterNone runs the script as an executable
	InterpreterNone = "none"
)

// AutorestartEnabled reports the effective autorestart flag (true when unset)
func (a AppConfig) AutorestartEnabled() bool {
	return a.Autorestart == nil || *a.Autorestart
}

// MaxRestartsValue reports the effective restart cap
func (a AppConfig) MaxRestartsValue() int {
	if a.MaxRestarts == nil {
		return DefaultMaxRestarts
	}
	return *a.MaxRestarts
}

// MinUptimeValue reports the effective minimum uptime
func (a AppConfig) MinUptimeValue() time.Duration {
	if a.MinUptime == nil {
		return DefaultMinUptime.Duration()
	}
	return a.MinUptime.Duration()
}

// KillTimeoutValue reports the effective grace period between the termination signal and the kill
func (a AppConfig) KillTimeoutValue() time.Duration {
	if a.KillTimeout == nil {
		return DefaultKillTimeout.Duration()
	}
	return a.KillTimeout.Duration()
}

// OutFilePath resolves out_file against the working directory; empty when unset
func (a AppConfig) OutFilePath() string {
	return a.resolvePath(a.OutFile)
}

// ErrorFilePath resolves error_file against the working directory; empty when unset
func (a AppConfig) ErrorFilePath() string {
	return a.resolvePath(a.ErrorFile)
}

func (a AppConfig) resolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) || a.Cwd == "" {
		return path
	}
	return filepath.Join(a.Cwd, path)
}

// ScriptPath resolves the script relative to the working directory
func (a AppConfig) ScriptPath() string {
	if filepath.IsAbs(a.Script) || a.Cwd == "" {
		return a.Script
	}
	return filepath.Join(a.Cwd, a.Script)
}

// InterpreterPath resolves an interpreter given as a relative path (".venv/bin/python")
// against the working directory. Bare names are left for PATH lookup.
func (a AppConfig) InterpreterPath() string {
	if a.Interpreter == "" || a.Interpreter == InterpreterNone {
		return a.Interpreter
	}
	if filepath.IsAbs(a.Interpreter) || !strings.ContainsRune(a.Interpreter, filepath.Separator) || a.Cwd == "" {
		return a.Interpreter
	}
	return filepath.Join(a.Cwd, a.Interpreter)
}

// LoadConfigFromFile loads an ecosystem file. The format is chosen by extension.
// Relative or missing cwd values are resolved against the file's directory.
func LoadConfigFromFile(filename string) (*EcosystemConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	format, err := FormatFromFilename(filename)
	if err != nil {
		return nil, err
	}

	config, err := ParseConfig(data, format)
	if err != nil {
		return nil, errors.NewValidationError("failed to parse configuration", err).WithContext("filename", filename)
	}

	baseDir, err := filepath.Abs(filepath.Dir(filename))
	if err != nil {
		return nil, errors.NewIOError("failed to resolve configuration directory", err).WithContext("filename", filename)
	}

	if err := setConfigDefaults(config, baseDir); err != nil {
		return nil, errors.NewValidationError("failed to apply configuration defaults", err)
	}

	return config, nil
}

// ValidateConfig validates the entire configuration structure
func ValidateConfig(config *EcosystemConfig) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	seenNames := make(map[string]int)
	for i, app := range config.Apps {
		if err := ValidateAppConfig(app); err != nil {
			return errors.NewValidationError(
				fmt.Sprintf("invalid app at index %d", i),
				err,
			).WithContext("app_name", app.Name)
		}

		if prevIndex, exists := seenNames[app.Name]; exists {
			return errors.NewValidationError(
				fmt.Sprintf("duplicate app name '%s' found at indices %d and %d", app.Name, prevIndex, i),
				nil,
			)
		}
		seenNames[app.Name] = i
	}

	return nil
}

var appNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

const maxAppNameLength = 64

// ValidateAppName checks that a name is usable as an identifier in logs, URLs and metrics
func ValidateAppName(name string) error {
	if name == "" {
		return errors.NewValidationError("app name cannot be empty", nil)
	}
	if len(name) > maxAppNameLength {
		return errors.NewValidationError(
			fmt.Sprintf("app name too long: %d characters", len(name)),
			nil,
		).WithContext("max_length", maxAppNameLength)
	}
	if !appNamePattern.MatchString(name) {
		return errors.NewValidationError(
			fmt.Sprintf("invalid app name: %s", name),
			nil,
		).WithContext("allowed", "letters, digits, '.', '_', '-'")
	}
	return nil
}

// ValidateAppConfig validates a single app after defaults have been applied
func ValidateAppConfig(app AppConfig) error {
	if err := ValidateAppName(app.Name); err != nil {
		return err
	}

	if strings.TrimSpace(app.Script) == "" {
		return errors.NewValidationError("script is required", nil)
	}

	if app.Cwd != "" && !filepath.IsAbs(app.Cwd) {
		return errors.NewValidationError(
			fmt.Sprintf("working directory must be absolute: %s", app.Cwd),
			nil,
		)
	}

	if app.MaxRestarts != nil && *app.MaxRestarts < 0 {
		return errors.NewValidationError(
			fmt.Sprintf("max_restarts must be >= 0, got %d", *app.MaxRestarts),
			nil,
		)
	}

	durations := map[string]Duration{
		"min_uptime":                Duration(app.MinUptimeValue()),
		"restart_delay":             app.RestartDelay,
		"exp_backoff_restart_delay": app.ExpBackoffRestartDelay,
		"kill_timeout":              Duration(app.KillTimeoutValue()),
	}
	for key, value := range durations {
		if value < 0 {
			return errors.NewValidationError(
				fmt.Sprintf("%s must not be negative, got %s", key, value),
				nil,
			)
		}
	}

	if app.RestartDelay > 0 && app.ExpBackoffRestartDelay > 0 {
		return errors.NewValidationError("restart_delay and exp_backoff_restart_delay are mutually exclusive", nil)
	}

	for key := range app.Env {
		if key == "" || strings.Contains(key, "=") {
			return errors.NewValidationError(
				fmt.Sprintf("invalid environment variable name: %q", key),
				nil,
			)
		}
	}

	for _, pattern := range app.IgnoreWatch {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return errors.NewValidationError(
				fmt.Sprintf("invalid ignore_watch pattern: %q", pattern),
				err,
			)
		}
	}

	return nil
}

// setConfigDefaults applies default values to configuration
func setConfigDefaults(config *EcosystemConfig, baseDir string) error {
	for i := range config.Apps {
		ApplyAppDefaults(&config.Apps[i], baseDir)
	}
	return nil
}

// ApplyAppDefaults fills unset fields of one app. A relative or empty cwd is
// resolved against baseDir when baseDir is not empty.
func ApplyAppDefaults(app *AppConfig, baseDir string) {
	// Default autorestart to true if not specified
	if app.Autorestart == nil {
		autorestart := true
		app.Autorestart = &autorestart
	}

	if app.MaxRestarts == nil {
		maxRestarts := DefaultMaxRestarts
		app.MaxRestarts = &maxRestarts
	}

	if app.MinUptime == nil {
		minUptime := DefaultMinUptime
		app.MinUptime = &minUptime
	}

	if app.KillTimeout == nil {
		killTimeout := DefaultKillTimeout
		app.KillTimeout = &killTimeout
	}

	if baseDir != "" {
		if app.Cwd == "" {
			app.Cwd = baseDir
		} else if !filepath.IsAbs(app.Cwd) {
			app.Cwd = filepath.Join(baseDir, app.Cwd)
		}
	}
	if app.Cwd != "" {
		app.Cwd = filepath.Clean(app.Cwd)
	}
}

// ValidateAppPaths checks the filesystem: the working directory exists, the
// script resolves to a file relative to it, and an explicit interpreter exists.
func ValidateAppPaths(app AppConfig) error {
	info, err := os.Stat(app.Cwd)
	if err != nil {
		return errors.NewIOError("working directory is not accessible", err).WithContext("cwd", app.Cwd)
	}
	if !info.IsDir() {
		return errors.NewValidationError("working directory is not a directory", nil).WithContext("cwd", app.Cwd)
	}

	scriptPath := app.ScriptPath()
	info, err = os.Stat(scriptPath)
	if err != nil {
		return errors.NewIOError("script is not accessible", err).WithContext("script", scriptPath)
	}
	if info.IsDir() {
		return errors.NewValidationError("script is a directory", nil).WithContext("script", scriptPath)
	}

	if app.Interpreter != "" && app.Interpreter != InterpreterNone {
		if _, err := exec.LookPath(app.InterpreterPath()); err != nil {
			return errors.NewIOError("interpreter is not accessible", err).WithContext("interpreter", app.Interpreter)
		}
	}

	return nil
}

// ValidateConfigFile loads and validates a configuration file without running it
func ValidateConfigFile(configFile string, checkPaths bool) (*EcosystemConfig, error) {
	config, err := LoadConfigFromFile(configFile)
	if err != nil {
		return nil, errors.NewIOError("failed to load configuration", err).WithContext("config_file", configFile)
	}

	if err := ValidateConfig(config); err != nil {
		return nil, errors.NewValidationError("configuration validation failed", err).WithContext("config_file", configFile)
	}

	if checkPaths {
		for _, app := range config.Apps {
			if err := ValidateAppPaths(app); err != nil {
				return nil, errors.NewValidationError("path check failed", err).WithContext("app_name", app.Name)
			}
		}
	}

	return config, nil
}
