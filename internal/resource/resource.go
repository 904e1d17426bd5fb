// Package resource is the Resource Policy (spec.md §5): it derives
// per-queue concurrency caps from the machine's CPU and memory, the
// same way the teacher's middleware/balancer packages size themselves
// off gopsutil system stats rather than assuming a fixed pool.
package resource

import (
	"context"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Policy holds the machine-derived inputs to the admission formula.
type Policy struct {
	TotalMemoryMB int
	NumCPU        int
}

// Detect reads the live machine's CPU count and total memory.
func Detect(ctx context.Context) (Policy, error) {
	counts, err := cpu.CountsWithContext(ctx, true)
	if err != nil || counts <= 0 {
		counts = 1
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Policy{NumCPU: counts, TotalMemoryMB: 0}, nil
	}
	return Policy{
		TotalMemoryMB: int(vm.Total / (1024 * 1024)),
		NumCPU:        counts,
	}, nil
}

// AutoConcurrency implements spec.md §5's admission formula:
//
//	min(cap, floor((totalMemoryMB-reserveMB)/perJobMB), floor(CPU/cpuPerJob))
//
// A non-positive cap means "uncapped" (configured concurrency wins
// outright once the memory/CPU bounds are applied).
func (p Policy) AutoConcurrency(cap int, reserveMB, perJobMB int, cpuPerJob float64) int {
	memBound := int((p.TotalMemoryMB - reserveMB) / maxInt(perJobMB, 1))
	if memBound < 1 {
		memBound = 1
	}

	cpuBound := 1
	if cpuPerJob > 0 {
		cpuBound = int(float64(p.NumCPU) / cpuPerJob)
		if cpuBound < 1 {
			cpuBound = 1
		}
	}

	result := minInt(memBound, cpuBound)
	if cap > 0 {
		result = minInt(result, cap)
	}
	return result
}

// ThreadsPerJob is spec.md §4.5.5's encoder thread allotment:
// floor(CPU/maxExportConcurrency), minimum 1.
func (p Policy) ThreadsPerJob(maxConcurrency int) int {
	if maxConcurrency <= 0 {
		return 1
	}
	threads := p.NumCPU / maxConcurrency
	if threads < 1 {
		return 1
	}
	return threads
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
