//go:build windows

package proc

import "os/exec"

// Windows has no process groups in the POSIX sense; Kill takes the child
// down and orphans grandchildren, which is the accepted platform limit here.
func setupProcessGroup(cmd *exec.Cmd) {}

func terminateGroup(cmd *exec.Cmd) {
	if cmd.Process != nil {
		cmd.Process.Kill()
	}
}

func killGroup(cmd *exec.Cmd) {
	if cmd.Process != nil {
		cmd.Process.Kill()
	}
}
