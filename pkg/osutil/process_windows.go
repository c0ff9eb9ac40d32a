//go:build windows

package osutil

import (
	"os"
	"os/exec"
)

// SetProcessGroup is a no-op on Windows; foreground processes have no
// Setpgid equivalent.
func SetProcessGroup(_ *exec.Cmd) {
}

// SetProcessGroupKill installs a cancel function that terminates the main
// process. Grandchildren may outlive it since Windows lacks Unix-style
// process groups.
func SetProcessGroupKill(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Kill)
	}
}
