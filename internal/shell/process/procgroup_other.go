//go:build !unix

package process

import "os/exec"

// killProcessGroup leaves the default cancellation in place; WaitDelay
// bounds the wait for orphaned children.
func killProcessGroup(c *exec.Cmd) {}
