//go:build unix

package execute

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// configureProcAttr places ffmpeg in its own process group so termination
// reaches any helpers it spawns.
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func interruptProcess(cmd *exec.Cmd) error {
	return unix.Kill(-cmd.Process.Pid, unix.SIGINT)
}

func killProcess(cmd *exec.Cmd) error {
	return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
}
