package resource

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/sdd/internal/engine"
	"github.com/harunnryd/sdd/internal/engine/enginetest"
	sddErrors "github.com/harunnryd/sdd/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCPUPercent(t *testing.T) {
	tests := []struct {
		name                string
		cpu, system, online float64
		want                float64
	}{
		{"four cpus", 200_000_000, 1_000_000_000, 4, 80.0},
		{"no system delta", 200_000_000, 0, 4, 0},
		{"negative cpu delta", -5, 1_000, 2, 0},
		{"idle", 0, 1_000, 2, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CPUPercent(tt.cpu, tt.system, tt.online), 1e-9)
		})
	}
}

const statsBody = `{
  "id": "abc",
  "memory_stats": {"usage": 536870912},
  "cpu_stats": {"cpu_usage": {"total_usage": 1200000000}, "system_cpu_usage": 11000000000, "online_cpus": 4},
  "precpu_stats": {"cpu_usage": {"total_usage": 1000000000}, "system_cpu_usage": 10000000000}
}`

func TestFromStats(t *testing.T) {
	s := FromStats(strings.NewReader(statsBody), 8)
	assert.Equal(t, "abc", s.ContainerID)
	assert.InDelta(t, 0.5, s.MemoryGiB(), 1e-9)
	assert.InDelta(t, 80.0, s.CPUPercent(), 1e-9)
}

func TestFromStats_FallsBackToHostCPUs(t *testing.T) {
	body := strings.Replace(statsBody, `, "online_cpus": 4`, "", 1)
	s := FromStats(strings.NewReader(body), 2)
	assert.Equal(t, 2.0, s.OnlineCPUs)
	assert.InDelta(t, 40.0, s.CPUPercent(), 1e-9)
}

func TestFromStats_MissingOrMalformed(t *testing.T) {
	s := FromStats(strings.NewReader(`{"memory_stats": {}}`), 4)
	assert.Zero(t, s.MemoryGiB())
	assert.Zero(t, s.CPUPercent())

	s = FromStats(strings.NewReader(`{"cpu_stats": "nope"`), 4)
	assert.Equal(t, Sample{}, s)
}

func TestFromStats_ZeroPreviousSystemUsageStillCounts(t *testing.T) {
	body := `{
  "cpu_stats": {"cpu_usage": {"total_usage": 400}, "system_cpu_usage": 1000, "online_cpus": 2},
  "precpu_stats": {"cpu_usage": {"total_usage": 0}, "system_cpu_usage": 0}
}`
	s := FromStats(strings.NewReader(body), 8)
	assert.Equal(t, 1000.0, s.SystemDelta)
	assert.InDelta(t, 80.0, s.CPUPercent(), 1e-9)

	absent := strings.Replace(body, `, "system_cpu_usage": 0}`, "}", 1)
	s = FromStats(strings.NewReader(absent), 8)
	assert.Zero(t, s.SystemDelta)
	assert.Zero(t, s.CPUPercent())
}

type fakeHost struct {
	mem  HostMemory
	cpu  float64
	cpus int
}

func (h fakeHost) Memory(context.Context) (HostMemory, error) { return h.mem, nil }
func (h fakeHost) CPUPercent(context.Context, time.Duration) (float64, error) {
	return h.cpu, nil
}
func (h fakeHost) CPUCount(context.Context) (int, error) { return h.cpus, nil }

func newSampler(f *enginetest.Fake) *Sampler {
	return New(f, Options{Host: fakeHost{
		mem:  HostMemory{Total: 16 << 30, Used: 6 << 30},
		cpu:  12.346,
		cpus: 8,
	}})
}

func TestAggregate_IsolatesFailures(t *testing.T) {
	f := enginetest.New()
	f.Summaries = []engine.ContainerSummary{
		{ID: "a", State: "running"},
		{ID: "b", State: "running"},
		{ID: "c", State: "running"},
		{ID: "stopped", State: "exited"},
	}
	f.StatsFunc = func(ctx context.Context, id string) (io.ReadCloser, error) {
		switch id {
		case "a":
			return io.NopCloser(strings.NewReader(statsBody)), nil
		case "b":
			return io.NopCloser(strings.NewReader("garbage")), nil
		case "c":
			return nil, errors.New("engine timeout")
		}
		t.Errorf("stats requested for %s", id)
		return nil, errors.New("unexpected")
	}

	u, err := newSampler(f).Aggregate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Usages{
		Memory: Metrics{Docker: 0.5, System: 6, Total: 16},
		CPU:    Metrics{Docker: 80, System: 12.35, Total: 8},
	}, u)
}

func TestAggregate_NoContainers(t *testing.T) {
	u, err := newSampler(enginetest.New()).Aggregate(context.Background())
	require.NoError(t, err)
	assert.Zero(t, u.CPU.Docker)
	assert.Zero(t, u.Memory.Docker)
	assert.Equal(t, 8.0, u.CPU.Total)
}

func TestUsage(t *testing.T) {
	f := enginetest.New()
	f.Containers["web"] = engine.ContainerInfo{ID: "web", Running: true}
	f.StatsFunc = func(ctx context.Context, id string) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(statsBody)), nil
	}
	s := newSampler(f)

	u, err := s.Usage(context.Background(), "web")
	require.NoError(t, err)
	assert.InDelta(t, 80.0, u.CPU, 1e-9)
	assert.InDelta(t, 0.5, u.Memory, 1e-9)

	_, err = s.Usage(context.Background(), "ghost")
	assert.True(t, errors.Is(err, sddErrors.ErrNotFound))
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 1.23, round2(1.2349))
	assert.Equal(t, 1.24, round2(1.235000001))
}
