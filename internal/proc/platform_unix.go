//go:build !windows

package proc

import (
	"os/exec"
	"syscall"
)

// setupProcessGroup puts the child in its own process group so the whole
// tree can be signaled at once.
func setupProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// terminateGroup sends SIGTERM to the child's process group.
func terminateGroup(cmd *exec.Cmd) {
	signalGroup(cmd, syscall.SIGTERM)
}

// killGroup sends SIGKILL to the child's process group and to the child
// itself as a fallback.
func killGroup(cmd *exec.Cmd) {
	signalGroup(cmd, syscall.SIGKILL)
	if cmd.Process != nil {
		cmd.Process.Kill()
	}
}

func signalGroup(cmd *exec.Cmd, sig syscall.Signal) {
	if cmd.Process == nil {
		return
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil || pgid <= 0 {
		cmd.Process.Signal(sig)
		return
	}
	syscall.Kill(-pgid, sig)
}
