// Package enginetest provides an in-memory engine.Engine for tests.
package enginetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	sddErrors "github.com/harunnryd/sdd/internal/errors"
	"github.com/harunnryd/sdd/internal/engine"
	"github.com/harunnryd/sdd/internal/frame"
)

// HelperRun decides what a created container does when started. A
// non-zero exit also writes "exit status N" to the helper's stderr.
type HelperRun func(spec engine.ContainerSpec) (exitCode int64, stdout []byte)

// Fake is a concurrency-safe engine double. Unset hooks fall back to
// not-found or empty results.
type Fake struct {
	mu sync.Mutex

	Containers map[string]engine.ContainerInfo
	Summaries  []engine.ContainerSummary
	Volumes    map[string]engine.VolumeInfo

	LogsFunc   func(ctx context.Context, id string, opts engine.LogOptions) (io.ReadCloser, error)
	ExecFunc   func(ctx context.Context, id string, cfg engine.ExecConfig) (engine.ExecResult, error)
	AttachFunc func(ctx context.Context, id string, cfg engine.ExecConfig) (engine.Conn, error)
	CopyFunc   func(ctx context.Context, id, path string) (io.ReadCloser, error)
	StatsFunc  func(ctx context.Context, id string) (io.ReadCloser, error)
	RunFunc    HelperRun
	CreateErr  error

	Created  []engine.ContainerSpec
	Removed  []string
	Execs    []engine.ExecConfig
	Attaches int
	Pulled   []string

	helpers map[string]*helper
	nextID  int
}

type helper struct {
	spec   engine.ContainerSpec
	exit   int64
	stdout []byte
}

func New() *Fake {
	return &Fake{
		Containers: map[string]engine.ContainerInfo{},
		Volumes:    map[string]engine.VolumeInfo{},
		helpers:    map[string]*helper{},
	}
}

func notFound(what, id string) error {
	return fmt.Errorf("%w: no such %s: %s", sddErrors.ErrNotFound, what, id)
}

// Live reports helper containers created and not yet removed.
func (f *Fake) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.helpers)
}

func (f *Fake) Ping(ctx context.Context) error { return nil }

func (f *Fake) InspectContainer(ctx context.Context, ref string) (engine.ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.Containers[ref]
	if !ok {
		return engine.ContainerInfo{}, notFound("container", ref)
	}
	return info, nil
}

func (f *Fake) ListContainers(ctx context.Context, opts engine.ListOptions) ([]engine.ContainerSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]engine.ContainerSummary, 0, len(f.Summaries))
	for _, s := range f.Summaries {
		if !opts.All && !s.Running() {
			continue
		}
		if !hasLabels(s.Labels, opts.Labels) {
			continue
		}
		if opts.Volume != "" {
			if _, ok := f.Containers[s.ID].MountFor(opts.Volume); !ok {
				continue
			}
		}
		out = append(out, s)
	}
	return out, nil
}

func hasLabels(have map[string]string, want []string) bool {
	for _, w := range want {
		key, val, hasVal := strings.Cut(w, "=")
		got, ok := have[key]
		if !ok || (hasVal && got != val) {
			return false
		}
	}
	return true
}

func (f *Fake) InspectVolume(ctx context.Context, name string) (engine.VolumeInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.Volumes[name]
	if !ok {
		return engine.VolumeInfo{}, notFound("volume", name)
	}
	return v, nil
}

func (f *Fake) ContainerLogs(ctx context.Context, id string, opts engine.LogOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	h, isHelper := f.helpers[id]
	logs := f.LogsFunc
	f.mu.Unlock()

	if isHelper {
		out := frame.Encode(frame.Stdout, h.stdout)
		if h.exit != 0 {
			out = append(out, frame.Encode(frame.Stderr, fmt.Appendf(nil, "exit status %d\n", h.exit))...)
		}
		return io.NopCloser(bytes.NewReader(out)), nil
	}
	if logs == nil {
		return nil, notFound("container", id)
	}
	return logs(ctx, id, opts)
}

func (f *Fake) Exec(ctx context.Context, id string, cfg engine.ExecConfig) (engine.ExecResult, error) {
	f.mu.Lock()
	f.Execs = append(f.Execs, cfg)
	fn := f.ExecFunc
	f.mu.Unlock()

	if fn == nil {
		return engine.ExecResult{}, nil
	}
	return fn(ctx, id, cfg)
}

func (f *Fake) AttachExec(ctx context.Context, id string, cfg engine.ExecConfig) (engine.Conn, error) {
	f.mu.Lock()
	f.Attaches++
	fn := f.AttachFunc
	f.mu.Unlock()

	if fn == nil {
		return nil, fmt.Errorf("attach not configured")
	}
	return fn(ctx, id, cfg)
}

func (f *Fake) CreateContainer(ctx context.Context, spec engine.ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return "", f.CreateErr
	}
	f.nextID++
	id := fmt.Sprintf("helper-%d", f.nextID)
	f.Created = append(f.Created, spec)
	f.helpers[id] = &helper{spec: spec}
	return id, nil
}

func (f *Fake) StartContainer(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.helpers[id]
	if !ok {
		return notFound("container", id)
	}
	if f.RunFunc != nil {
		h.exit, h.stdout = f.RunFunc(h.spec)
	}
	return nil
}

func (f *Fake) WaitContainer(ctx context.Context, id string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.helpers[id]
	if !ok {
		return -1, notFound("container", id)
	}
	return h.exit, nil
}

func (f *Fake) RemoveContainer(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Removed = append(f.Removed, id)
	if _, ok := f.helpers[id]; !ok {
		return notFound("container", id)
	}
	delete(f.helpers, id)
	return nil
}

func (f *Fake) CopyFromContainer(ctx context.Context, id, path string) (io.ReadCloser, error) {
	if f.CopyFunc == nil {
		return nil, notFound("container", id)
	}
	return f.CopyFunc(ctx, id, path)
}

func (f *Fake) ContainerStats(ctx context.Context, id string) (io.ReadCloser, error) {
	if f.StatsFunc == nil {
		return nil, notFound("container", id)
	}
	return f.StatsFunc(ctx, id)
}

func (f *Fake) EnsureImage(ctx context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Pulled = append(f.Pulled, ref)
	return nil
}

func (f *Fake) Close() error { return nil }

var _ engine.Engine = (*Fake)(nil)
