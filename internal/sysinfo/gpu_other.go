//go:build !windows

package sysinfo

// gpuAvailable cannot look for an adapter here: born's webgpu backend is only built on windows.
func gpuAvailable() (available, probed bool, note string) {
	return false, false, "webgpu backend is only built on windows"
}
