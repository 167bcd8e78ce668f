package memory

import (
	"context"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// Sampler samples memory telemetry.
type Sampler interface {
	// Sample returns the process resident set size and the total system memory, in bytes.
	Sample(ctx context.Context) (resident, total uint64, err error)
}

// ProcessSampler reads the current process's RSS and system memory through gopsutil.
type ProcessSampler struct {
	pid int32
}

// NewProcessSampler returns a sampler for the running process.
func NewProcessSampler() *ProcessSampler {
	return &ProcessSampler{pid: int32(os.Getpid())}
}

func (p *ProcessSampler) Sample(ctx context.Context) (uint64, uint64, error) {
	proc, err := process.NewProcessWithContext(ctx, p.pid)
	if err != nil {
		return 0, 0, fmt.Errorf("open process %d: %w", p.pid, err)
	}
	info, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("read process memory: %w", err)
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("read system memory: %w", err)
	}
	return info.RSS, vm.Total, nil
}
