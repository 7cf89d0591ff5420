//go:build !linux

package ipc

// ApplySandbox is a no-op where rlimits are unavailable. Process isolation
// and the frame-validation layer still hold on these platforms.
func ApplySandbox(cfg SandboxConfig) error {
	return nil
}
