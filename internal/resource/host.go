package resource

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

type HostMemory struct {
	Total uint64
	Used  uint64
}

// Host reports machine-wide counters.
type Host interface {
	Memory(ctx context.Context) (HostMemory, error)
	// CPUPercent blocks for interval and returns overall utilisation.
	CPUPercent(ctx context.Context, interval time.Duration) (float64, error)
	CPUCount(ctx context.Context) (int, error)
}

// SystemHost reads counters of the machine the daemon runs on.
type SystemHost struct{}

func (SystemHost) Memory(ctx context.Context) (HostMemory, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return HostMemory{}, fmt.Errorf("virtual memory: %w", err)
	}
	return HostMemory{Total: vm.Total, Used: vm.Used}, nil
}

func (SystemHost) CPUPercent(ctx context.Context, interval time.Duration) (float64, error) {
	pct, err := cpu.PercentWithContext(ctx, interval, false)
	if err != nil {
		return 0, fmt.Errorf("cpu percent: %w", err)
	}
	if len(pct) == 0 {
		return 0, nil
	}
	return pct[0], nil
}

func (SystemHost) CPUCount(ctx context.Context) (int, error) {
	return cpu.CountsWithContext(ctx, true)
}
