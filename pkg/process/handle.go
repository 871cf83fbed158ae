package process

import (
	"context"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/core-tools/hsu-supervisor-go/pkg/errors"
	"github.com/core-tools/hsu-supervisor-go/pkg/logcollection"
	"github.com/core-tools/hsu-supervisor-go/pkg/logging"
)

const (
	// Grace period for output pipes after the child exits; orphaned grandchildren may keep them open
	outputWaitDelay = 2 * time.Second

	forceKillTimeout = 5 * time.Second
)

// ExitStatus describes how a child process ended
type ExitStatus struct {
	ExitCode int // -1 when terminated by a signal
	Signal   string
	ExitedAt time.Time
	Uptime   time.Duration
	Err      error // wait failure, not a non-zero exit
}

// Success reports a clean zero exit
func (s ExitStatus) Success() bool {
	return s.Err == nil && s.ExitCode == 0
}

// Handle is a started child process
type Handle struct {
	id        string
	pid       int
	startedAt time.Time
	cmd       *exec.Cmd
	logger    logging.Logger
	outputs   []*io.PipeWriter
	drained   sync.WaitGroup

	done   chan struct{}
	status ExitStatus // written once before done is closed
}

// Start launches the child in its own process group. Its stdout and stderr are handed to
// collector under id; a nil collector discards them. The child is not bound to any
// context: it runs until it exits or is stopped through the Handle. The returned
// Handle's Done channel is closed once the process has exited and been reaped and its
// output pipes are closed; the collector's UnregisterProcess waits for the last lines.
func Start(config ExecutionConfig, id string, collector logcollection.LogCollectionService, logger logging.Logger) (*Handle, error) {
	path, args, err := ResolveCommand(config)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(path, args...)
	cmd.Dir = config.WorkingDirectory
	cmd.Env = buildEnvironment(config.Env)
	cmd.WaitDelay = outputWaitDelay
	setProcessGroup(cmd)

	type stream struct {
		reader     *io.PipeReader
		writer     *io.PipeWriter
		streamType logcollection.StreamType
	}
	var streams []stream
	if collector != nil {
		for _, streamType := range []logcollection.StreamType{logcollection.StdoutStream, logcollection.StderrStream} {
			reader, writer := io.Pipe()
			streams = append(streams, stream{reader: reader, writer: writer, streamType: streamType})
		}
		cmd.Stdout = streams[0].writer
		cmd.Stderr = streams[1].writer
	}

	logger.Debugf("Launching %s, command: %s %v, cwd: %s", id, path, args, config.WorkingDirectory)

	if err := cmd.Start(); err != nil {
		for _, s := range streams {
			s.writer.Close()
			s.reader.Close()
		}
		return nil, errors.NewProcessError("failed to start process", err).
			WithContext("app", id).
			WithContext("command", path)
	}

	h := &Handle{
		id:        id,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		cmd:       cmd,
		logger:    logger,
		done:      make(chan struct{}),
	}

	for _, s := range streams {
		h.outputs = append(h.outputs, s.writer)
		if err := collector.CollectFromStream(id, s.reader, s.streamType); err != nil {
			logger.Warnf("Output %s of %s is not collected, discarding: %v", s.streamType, id, err)
			h.drained.Add(1)
			go func(reader io.Reader) {
				defer h.drained.Done()
				_, _ = io.Copy(io.Discard, reader)
			}(s.reader)
		}
	}

	go h.wait()

	return h, nil
}

func (h *Handle) wait() {
	err := h.cmd.Wait()
	// Readers see EOF once the copies exec made into the pipes are done
	for _, output := range h.outputs {
		output.Close()
	}
	h.drained.Wait()

	status := ExitStatus{
		ExitCode: -1,
		ExitedAt: time.Now(),
	}
	status.Uptime = status.ExitedAt.Sub(h.startedAt)

	if state := h.cmd.ProcessState; state != nil {
		status.ExitCode = state.ExitCode()
		status.Signal = exitSignal(state)
	}
	if err != nil {
		if _, ok := err.(*exec.ExitError); !ok && err != exec.ErrWaitDelay {
			status.Err = errors.NewProcessError("process wait failed", err).WithContext("pid", h.pid)
		}
	}

	h.status = status
	h.logger.Debugf("Process %s PID %d reaped, exit code: %d, signal: %q", h.id, h.pid, status.ExitCode, status.Signal)
	close(h.done)
}

func (h *Handle) PID() int {
	return h.pid
}

func (h *Handle) StartedAt() time.Time {
	return h.startedAt
}

// Done is closed when the process has exited
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Status returns the exit status. It must only be called after Done is closed.
func (h *Handle) Status() ExitStatus {
	<-h.done
	return h.status
}

// Exited reports whether the process has been reaped
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Stop sends the termination signal to the process group, waits up to
// gracefulTimeout and then kills the group. A zero timeout kills right away.
func (h *Handle) Stop(ctx context.Context, gracefulTimeout time.Duration) error {
	if h.Exited() {
		return nil
	}

	if gracefulTimeout <= 0 {
		h.logger.Infof("Killing %s PID %d without a grace period", h.id, h.pid)
		return h.Kill()
	}

	h.logger.Infof("Sending termination signal to %s PID %d, timeout: %v", h.id, h.pid, gracefulTimeout)
	if err := SendTerminationSignal(h.pid); err != nil {
		h.logger.Warnf("Failed to send termination signal to PID %d: %v", h.pid, err)
	}

	timer := time.NewTimer(gracefulTimeout)
	defer timer.Stop()

	select {
	case <-h.done:
		h.logger.Infof("Process %s PID %d terminated gracefully", h.id, h.pid)
		return nil
	case <-timer.C:
		h.logger.Warnf("Process %s PID %d did not terminate within %v, forcing termination", h.id, h.pid, gracefulTimeout)
	case <-ctx.Done():
		h.logger.Warnf("Context cancelled during graceful termination of PID %d, forcing termination", h.pid)
	}

	return h.Kill()
}

// Kill force-terminates the process group and waits for the process to be reaped
func (h *Handle) Kill() error {
	if h.Exited() {
		return nil
	}

	if err := killProcessGroup(h.pid); err != nil {
		if killErr := h.cmd.Process.Kill(); killErr != nil && !h.Exited() {
			return errors.NewProcessError("failed to kill process", killErr).WithContext("pid", h.pid)
		}
	}

	select {
	case <-h.done:
		h.logger.Infof("Process %s PID %d force terminated", h.id, h.pid)
		return nil
	case <-time.After(forceKillTimeout):
		return errors.NewTimeoutError("process did not terminate even after force termination", nil).WithContext("pid", h.pid)
	}
}
