//go:build linux || darwin

package execrunner

import (
	"os/exec"
	"syscall"
)

// setProcessGroup puts the spawned process in its own process group so a
// timeout kill can take down the whole tree (tmux/ntm sometimes fork
// helpers) rather than just the direct child.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
