// Package resource computes container and host CPU/memory usage from engine
// stats snapshots.
package resource

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"time"

	"github.com/harunnryd/sdd/internal/engine"
	sddErrors "github.com/harunnryd/sdd/internal/errors"
	"github.com/harunnryd/sdd/internal/logger"

	"github.com/docker/docker/api/types/container"
	"golang.org/x/sync/errgroup"
)

const (
	gib = 1 << 30

	DefaultMaxParallel    = 16
	DefaultSampleInterval = time.Second
)

// Sample is one stats snapshot reduced to the counters the percentages need.
type Sample struct {
	ContainerID string
	MemoryBytes uint64
	CPUDelta    float64
	SystemDelta float64
	OnlineCPUs  float64
	Timestamp   time.Time
}

// CPUPercent is 0 whenever the deltas cannot produce a meaningful value.
func CPUPercent(cpuDelta, systemDelta, onlineCPUs float64) float64 {
	if systemDelta <= 0 || cpuDelta < 0 {
		return 0
	}
	return cpuDelta / systemDelta * onlineCPUs * 100
}

func (s Sample) CPUPercent() float64 {
	return CPUPercent(s.CPUDelta, s.SystemDelta, s.OnlineCPUs)
}

func (s Sample) MemoryGiB() float64 {
	return float64(s.MemoryBytes) / gib
}

// FromStats decodes a one-shot stats body. Malformed input yields a zero
// sample and CPU deltas need system_cpu_usage in both snapshots, zero
// included. A missing online CPU count falls back to hostCPUs.
func FromStats(r io.Reader, hostCPUs int) Sample {
	body, err := io.ReadAll(r)
	if err != nil {
		return Sample{}
	}
	var stats container.StatsResponse
	if err := json.Unmarshal(body, &stats); err != nil {
		return Sample{}
	}
	var seen systemUsageKeys
	_ = json.Unmarshal(body, &seen)

	s := Sample{
		ContainerID: stats.ID,
		MemoryBytes: stats.MemoryStats.Usage,
		Timestamp:   stats.Read,
	}

	cur, pre := stats.CPUStats, stats.PreCPUStats
	if seen.CPUStats.SystemUsage == nil || seen.PreCPUStats.SystemUsage == nil {
		return s
	}
	s.CPUDelta = float64(cur.CPUUsage.TotalUsage) - float64(pre.CPUUsage.TotalUsage)
	s.SystemDelta = float64(cur.SystemUsage) - float64(pre.SystemUsage)
	s.OnlineCPUs = float64(cur.OnlineCPUs)
	if s.OnlineCPUs == 0 {
		s.OnlineCPUs = float64(max(hostCPUs, 1))
	}
	return s
}

// systemUsageKeys tells a zero system_cpu_usage apart from an absent one.
type systemUsageKeys struct {
	CPUStats struct {
		SystemUsage *uint64 `json:"system_cpu_usage"`
	} `json:"cpu_stats"`
	PreCPUStats struct {
		SystemUsage *uint64 `json:"system_cpu_usage"`
	} `json:"precpu_stats"`
}

type Metrics struct {
	Docker float64 `json:"docker" yaml:"docker"`
	System float64 `json:"system" yaml:"system"`
	Total  float64 `json:"total" yaml:"total"`
}

type Usages struct {
	Memory Metrics `json:"memory" yaml:"memory"`
	CPU    Metrics `json:"cpu" yaml:"cpu"`
}

type ContainerUsage struct {
	CPU    float64 `json:"cpu" yaml:"cpu"`
	Memory float64 `json:"memory" yaml:"memory"`
}

type Options struct {
	MaxParallel    int
	SampleInterval time.Duration
	Host           Host
}

type Sampler struct {
	eng  engine.Engine
	host Host
	opts Options
}

func New(eng engine.Engine, opts Options) *Sampler {
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = DefaultMaxParallel
	}
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = DefaultSampleInterval
	}
	host := opts.Host
	if host == nil {
		host = SystemHost{}
	}
	return &Sampler{eng: eng, host: host, opts: opts}
}

// Usage samples a single container. Only an unknown container is an error;
// an unreadable snapshot reports zero usage.
func (s *Sampler) Usage(ctx context.Context, ref string) (ContainerUsage, error) {
	info, err := s.eng.InspectContainer(ctx, ref)
	if err != nil {
		return ContainerUsage{}, sddErrors.FromEngine(err, sddErrors.ResourceContainer, ref)
	}

	sample := s.sample(ctx, info.ID, s.hostCPUs(ctx))
	return ContainerUsage{
		CPU:    sample.CPUPercent(),
		Memory: sample.MemoryGiB(),
	}, nil
}

func (s *Sampler) sample(ctx context.Context, id string, hostCPUs int) Sample {
	body, err := s.eng.ContainerStats(ctx, id)
	if err != nil {
		logger.FromContext(ctx).Debug("Stats unavailable", "component", "resource", "container", id, "error", err)
		return Sample{ContainerID: id}
	}
	defer body.Close()

	sample := FromStats(body, hostCPUs)
	sample.ContainerID = id
	return sample
}

func (s *Sampler) hostCPUs(ctx context.Context) int {
	n, err := s.host.CPUCount(ctx)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// Aggregate sums usage over every running container and pairs it with host
// counters. Container failures contribute zero; they never fail the batch.
func (s *Sampler) Aggregate(ctx context.Context) (Usages, error) {
	log := logger.FromContext(ctx)
	cpus := s.hostCPUs(ctx)

	var (
		hostMem     HostMemory
		hostCPU     float64
		memDocker   float64
		cpuDocker   float64
		hostCounter = make(chan struct{})
	)

	// Host CPU percent blocks for the sample interval; overlap it with the
	// container fan-out.
	go func() {
		defer close(hostCounter)
		var err error
		if hostMem, err = s.host.Memory(ctx); err != nil {
			log.Warn("Host memory unavailable", "component", "resource", "error", err)
		}
		if hostCPU, err = s.host.CPUPercent(ctx, s.opts.SampleInterval); err != nil {
			log.Warn("Host CPU unavailable", "component", "resource", "error", err)
		}
	}()

	containers, err := s.eng.ListContainers(ctx, engine.ListOptions{})
	if err != nil {
		log.Warn("Listing containers failed", "component", "resource", "error", err)
		containers = nil
	}

	samples := make([]Sample, len(containers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.MaxParallel)
	for i, c := range containers {
		g.Go(func() error {
			samples[i] = s.sample(gctx, c.ID, cpus)
			return nil
		})
	}
	_ = g.Wait()

	for _, sample := range samples {
		memDocker += sample.MemoryGiB()
		cpuDocker += sample.CPUPercent()
	}

	select {
	case <-hostCounter:
	case <-ctx.Done():
		return Usages{}, sddErrors.Cancelled(ctx.Err())
	}

	return Usages{
		Memory: Metrics{
			Docker: round2(memDocker),
			System: round2(float64(hostMem.Used) / gib),
			Total:  round2(float64(hostMem.Total) / gib),
		},
		CPU: Metrics{
			Docker: round2(cpuDocker),
			System: round2(hostCPU),
			Total:  float64(cpus),
		},
	}, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
