//go:build windows

package process

import (
	"os"
	"os/exec"
	"syscall"
)

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

// SendTerminationSignal terminates the process. Windows has no SIGTERM equivalent
// for arbitrary console children, so this is a hard stop.
func SendTerminationSignal(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}

func killProcessGroup(pid int) error {
	return SendTerminationSignal(pid)
}

func exitSignal(state *os.ProcessState) string {
	return ""
}
