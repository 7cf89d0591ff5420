//go:build linux

package ipc

import (
	"fmt"
	"syscall"
)

// ApplySandbox tightens the calling process before it touches untrusted
// input. Children call this first thing in their mode entry point: after
// it runs, the process cannot create or grow files, cannot open new
// descriptors beyond a small allowance for its pipes, and is cut off by
// the kernel if it burns more CPU than the ceiling allows.
func ApplySandbox(cfg SandboxConfig) error {
	cfg.defaults()

	limits := []struct {
		name string
		res  int
		val  uint64
	}{
		{"fsize", syscall.RLIMIT_FSIZE, 0},
		{"nofile", syscall.RLIMIT_NOFILE, uint64(cfg.MaxOpenFiles)},
		{"cpu", syscall.RLIMIT_CPU, uint64(cfg.CPUSeconds)},
		{"as", syscall.RLIMIT_AS, uint64(cfg.MaxAddressSpace)},
	}
	for _, l := range limits {
		rl := syscall.Rlimit{Cur: l.val, Max: l.val}
		if err := syscall.Setrlimit(l.res, &rl); err != nil {
			return fmt.Errorf("ipc: setrlimit %s: %w", l.name, err)
		}
	}
	return nil
}
