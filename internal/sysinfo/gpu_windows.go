//go:build windows

package sysinfo

import "github.com/born-ml/born/backend/webgpu"

func gpuAvailable() (available, probed bool, note string) {
	if webgpu.IsAvailable() {
		return true, true, "webgpu"
	}
	return false, true, "no webgpu adapter"
}
