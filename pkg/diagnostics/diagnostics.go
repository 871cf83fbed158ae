package diagnostics

import (
	"context"
	"runtime"

	"github.com/core-tools/hsu-supervisor-go/pkg/errors"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// ProcessSnapshot holds resource usage of one running process
type ProcessSnapshot struct {
	PID        int
	RSSBytes   uint64
	CPUPercent float64 // average since process start, may exceed 100 on multi-core hosts
	Threads    int32
}

// CollectProcess samples a running process. Errors are returned as not-found when the PID is gone.
func CollectProcess(ctx context.Context, pid int) (ProcessSnapshot, error) {
	if pid <= 0 {
		return ProcessSnapshot{}, errors.NewValidationError("invalid PID", nil).WithContext("pid", pid)
	}

	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return ProcessSnapshot{}, errors.NewNotFoundError("process not found", err).WithContext("pid", pid)
	}

	snapshot := ProcessSnapshot{PID: pid}

	memInfo, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return ProcessSnapshot{}, errors.NewIOError("failed to read process memory", err).WithContext("pid", pid)
	}
	snapshot.RSSBytes = memInfo.RSS

	if cpuPercent, err := proc.CPUPercentWithContext(ctx); err == nil {
		snapshot.CPUPercent = cpuPercent
	}

	if threads, err := proc.NumThreadsWithContext(ctx); err == nil {
		snapshot.Threads = threads
	}

	return snapshot, nil
}

// HostSnapshot holds host-wide figures reported by the health endpoint
type HostSnapshot struct {
	CPUs            int     `json:"cpus"`
	CPUPercent      float64 `json:"cpu_percent"`
	MemoryUsedBytes uint64  `json:"memory_used_bytes"`
	MemoryAvailable uint64  `json:"memory_available_bytes"`
	MemoryPercent   float64 `json:"memory_percent"`
}

// CollectHost samples host CPU and memory. CPU percent is measured since the previous call.
func CollectHost(ctx context.Context) (HostSnapshot, error) {
	snapshot := HostSnapshot{CPUs: runtime.NumCPU()}

	if cpuPercent, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(cpuPercent) > 0 {
		snapshot.CPUPercent = cpuPercent[0]
	}

	vmem, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return snapshot, errors.NewIOError("failed to read host memory", err)
	}
	snapshot.MemoryUsedBytes = vmem.Used
	snapshot.MemoryAvailable = vmem.Available
	snapshot.MemoryPercent = vmem.UsedPercent

	return snapshot, nil
}
