//go:build unix

package executor

import (
	"os/exec"
	"syscall"
)

// configureProcessGroup puts the child in its own process group so that a
// timeout kills everything the script started.
func configureProcessGroup(proc *exec.Cmd) {
	proc.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	proc.Cancel = func() error {
		return syscall.Kill(-proc.Process.Pid, syscall.SIGKILL)
	}
}
