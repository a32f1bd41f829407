// Package sysinfo reports the compute resources available to a training run.
package sysinfo

import (
	"log"
	"runtime"

	"github.com/klauspost/cpuid/v2"
)

// Report describes the host.
type Report struct {
	CPU           string
	PhysicalCores int
	LogicalCores  int
	AVX2          bool
	AVX512        bool
	GPU           bool
	GPUProbed     bool
	GPUNote       string
}

// Probe inspects the CPU and looks for a WebGPU adapter.
func Probe() Report {
	logical := cpuid.CPU.LogicalCores
	if logical <= 0 {
		logical = runtime.NumCPU()
	}
	gpu, probed, note := gpuAvailable()
	return Report{
		CPU:           cpuid.CPU.BrandName,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  logical,
		AVX2:          cpuid.CPU.Supports(cpuid.AVX2),
		AVX512:        cpuid.CPU.Supports(cpuid.AVX512F, cpuid.AVX512DQ),
		GPU:           gpu,
		GPUProbed:     probed,
		GPUNote:       note,
	}
}

// Log prints the report. Training always runs on the CPU engine; a missing
// GPU is only a warning.
func (r Report) Log() {
	log.Printf("cpu=%q physical_cores=%d logical_cores=%d avx2=%t avx512=%t",
		r.CPU, r.PhysicalCores, r.LogicalCores, r.AVX2, r.AVX512)
	if !r.GPUProbed {
		log.Printf("GPU probe unavailable on this platform (%s); training uses the CPU engine", r.GPUNote)
		return
	}
	if !r.GPU {
		log.Printf("warning: No GPU found (%s); training on CPU will be slow", r.GPUNote)
		return
	}
	log.Printf("gpu=webgpu adapter available; training uses the CPU engine")
}
