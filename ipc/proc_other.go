//go:build !linux

package ipc

import "os/exec"

func setProcAttrs(cmd *exec.Cmd) {}

func killGroup(cmd *exec.Cmd) {
	if cmd.Process != nil {
		cmd.Process.Kill()
	}
}
