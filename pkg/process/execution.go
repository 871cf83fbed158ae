package process

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/core-tools/hsu-supervisor-go/pkg/errors"
)

// InterpreterNone executes the script itself instead of passing it to an interpreter
const InterpreterNone = "none"

// ExecutionConfig describes how to launch one child process
type ExecutionConfig struct {
	WorkingDirectory string
	Script           string
	Interpreter      string
	InterpreterArgs  []string
	Args             []string
	Env              map[string]string
}

var defaultInterpreters = map[string]string{
	".py":  "python3",
	".js":  "node",
	".cjs": "node",
	".mjs": "node",
	".sh":  "bash",
	".rb":  "ruby",
	".php": "php",
	".pl":  "perl",
}

// DefaultInterpreter returns the interpreter picked for a script by its extension,
// or an empty string when the script should be executed directly.
func DefaultInterpreter(script string) string {
	return defaultInterpreters[strings.ToLower(filepath.Ext(script))]
}

// ScriptPath resolves the script against the working directory
func (c ExecutionConfig) ScriptPath() string {
	if filepath.IsAbs(c.Script) || c.WorkingDirectory == "" {
		return c.Script
	}
	return filepath.Join(c.WorkingDirectory, c.Script)
}

func (c ExecutionConfig) interpreter() string {
	switch {
	case c.Interpreter == InterpreterNone:
		return ""
	case c.Interpreter != "":
		if filepath.IsAbs(c.Interpreter) || !strings.ContainsRune(c.Interpreter, filepath.Separator) || c.WorkingDirectory == "" {
			return c.Interpreter
		}
		return filepath.Join(c.WorkingDirectory, c.Interpreter)
	default:
		return DefaultInterpreter(c.Script)
	}
}

// ResolveCommand returns the executable path and argv (without argv[0]) for the config.
// The interpreter, when used, receives interpreter args, then the script path, then script args.
func ResolveCommand(config ExecutionConfig) (string, []string, error) {
	if strings.TrimSpace(config.Script) == "" {
		return "", nil, errors.NewValidationError("script is required", nil)
	}

	scriptPath := config.ScriptPath()
	info, err := os.Stat(scriptPath)
	if err != nil {
		return "", nil, errors.NewIOError("script is not accessible", err).WithContext("script", scriptPath)
	}
	if info.IsDir() {
		return "", nil, errors.NewValidationError("script is a directory", nil).WithContext("script", scriptPath)
	}

	interpreter := config.interpreter()
	if interpreter == "" {
		args := append([]string(nil), config.Args...)
		return scriptPath, args, nil
	}

	path, err := exec.LookPath(interpreter)
	if err != nil {
		return "", nil, errors.NewIOError("interpreter not found", err).WithContext("interpreter", interpreter)
	}

	args := make([]string, 0, len(config.InterpreterArgs)+1+len(config.Args))
	args = append(args, config.InterpreterArgs...)
	args = append(args, scriptPath)
	args = append(args, config.Args...)

	return path, args, nil
}

// buildEnvironment overlays env on top of the supervisor's own environment
func buildEnvironment(env map[string]string) []string {
	environ := os.Environ()
	if len(env) == 0 {
		return environ
	}

	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	overridden := make(map[string]bool, len(env))
	for _, key := range keys {
		overridden[key] = true
	}

	result := make([]string, 0, len(environ)+len(keys))
	for _, kv := range environ {
		key, _, _ := strings.Cut(kv, "=")
		if overridden[key] {
			continue
		}
		result = append(result, kv)
	}
	for _, key := range keys {
		result = append(result, fmt.Sprintf("%s=%s", key, env[key]))
	}
	return result
}
