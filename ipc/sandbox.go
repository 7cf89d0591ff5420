package ipc

// SandboxConfig bounds a child process's resource use. Zero values take
// the defaults below.
type SandboxConfig struct {
	// CPUSeconds is the hard CPU-time ceiling. The kernel kills the
	// process when it is exceeded, which the host observes as a crash.
	CPUSeconds int

	// MaxOpenFiles caps new descriptors. The child's pipes are already
	// open when the limit is applied.
	MaxOpenFiles int

	// MaxAddressSpace caps the virtual address space in bytes.
	MaxAddressSpace int64
}

func (c *SandboxConfig) defaults() {
	if c.CPUSeconds <= 0 {
		c.CPUSeconds = 120
	}
	if c.MaxOpenFiles <= 0 {
		c.MaxOpenFiles = 32
	}
	if c.MaxAddressSpace <= 0 {
		c.MaxAddressSpace = 2 << 30
	}
}
