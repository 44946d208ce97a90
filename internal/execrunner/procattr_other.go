//go:build !linux && !darwin

package execrunner

import "os/exec"

func setProcessGroup(cmd *exec.Cmd) {}
