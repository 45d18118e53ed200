//go:build !windows

package agentrun

import (
	"os/exec"
	"syscall"
)

// configureProcessGroup puts the child in its own process group so the
// whole tree (agent CLIs commonly fork helper processes) can be torn down
// together on timeout.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup sends SIGKILL to the negative pid, i.e. the whole group.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
