//go:build windows

package execute

import (
	"os/exec"
	"strconv"
)

func configureProcAttr(cmd *exec.Cmd) {}

// interruptProcess asks the ffmpeg process tree to stop. Windows has no
// process groups to signal, so taskkill walks the tree instead.
func interruptProcess(cmd *exec.Cmd) error {
	return exec.Command("taskkill", "/PID", strconv.Itoa(cmd.Process.Pid), "/T").Run()
}

func killProcess(cmd *exec.Cmd) error {
	return exec.Command("taskkill", "/PID", strconv.Itoa(cmd.Process.Pid), "/T", "/F").Run()
}
