//go:build unix

// Package osutil isolates the process-group plumbing used to contain
// sandboxed skill handlers and everything they spawn.
package osutil

import (
	"os/exec"
	"syscall"
)

// SetProcessGroup runs the handler in its own process group so the whole
// tree can be killed when an invocation is cancelled.
func SetProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// SetProcessGroupKill installs a cancel function that kills the entire
// process group. Must be called after SetProcessGroup and before cmd.Start().
func SetProcessGroupKill(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
