//go:build !windows

package executor

import (
	"os/exec"
	"syscall"
)

// sysProcAttr places the child in its own process group so a kill can
// reach grandchildren, not just the direct child.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// killTree signals the child's whole process group, falling back to the
// direct child if the group is already gone.
func killTree(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		_ = cmd.Process.Kill()
	}
}
