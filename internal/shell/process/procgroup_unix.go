//go:build unix

package process

import (
	"os/exec"
	"syscall"
)

// killProcessGroup runs the command in its own process group and makes
// cancellation kill the whole group, so children holding the output pipes
// go down with it.
func killProcessGroup(c *exec.Cmd) {
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.Cancel = func() error {
		return syscall.Kill(-c.Process.Pid, syscall.SIGKILL)
	}
}
