package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/sdd/internal/engine"
	sddErrors "github.com/harunnryd/sdd/internal/errors"
	"github.com/harunnryd/sdd/internal/metrics"

	"github.com/docker/docker/pkg/stdcopy"
	"golang.org/x/time/rate"
)

const (
	HelperLabel   = "sdd.helper"
	helperOpLabel = "sdd.op"

	removeTimeout = 30 * time.Second
)

// Job is one disposable helper container run.
type Job struct {
	Op         string
	Image      string
	Entrypoint []string
	Cmd        []string
	WorkingDir string
	Mounts     []engine.MountSpec
}

type JobResult struct {
	ExitCode int64
	Stdout   []byte
	Stderr   []byte
}

type helperRunner struct {
	eng     engine.Engine
	limiter *rate.Limiter
	timeout time.Duration

	mu      sync.Mutex
	ensured map[string]bool
}

func newHelperRunner(eng engine.Engine, launchRate float64, burst int, timeout time.Duration) *helperRunner {
	limit := rate.Inf
	if launchRate > 0 {
		limit = rate.Limit(launchRate)
	}
	if burst <= 0 {
		burst = 1
	}
	return &helperRunner{
		eng:     eng,
		limiter: rate.NewLimiter(limit, burst),
		timeout: timeout,
		ensured: make(map[string]bool),
	}
}

func (h *helperRunner) ensureImage(ctx context.Context, image string) error {
	h.mu.Lock()
	done := h.ensured[image]
	h.mu.Unlock()
	if done {
		return nil
	}

	if err := h.eng.EnsureImage(ctx, image); err != nil {
		return sddErrors.FromEngine(err, sddErrors.ResourceImage, image)
	}

	h.mu.Lock()
	h.ensured[image] = true
	h.mu.Unlock()
	return nil
}

// Run launches job, waits for it to exit and collects its output. The helper
// container is removed before Run returns, whatever the outcome.
func (h *helperRunner) Run(ctx context.Context, job Job) (res JobResult, err error) {
	defer func() { metrics.HelperRun(job.Op, err) }()

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	if err := h.limiter.Wait(ctx); err != nil {
		return JobResult{}, sddErrors.Cancelled(err)
	}
	if err := h.ensureImage(ctx, job.Image); err != nil {
		return JobResult{}, err
	}

	id, err := h.eng.CreateContainer(ctx, engine.ContainerSpec{
		Image:      job.Image,
		Entrypoint: job.Entrypoint,
		Cmd:        job.Cmd,
		WorkingDir: job.WorkingDir,
		Mounts:     job.Mounts,
		Labels: map[string]string{
			HelperLabel:   "true",
			helperOpLabel: job.Op,
		},
	})
	if err != nil {
		return JobResult{}, sddErrors.FromEngine(err, sddErrors.ResourceImage, job.Image)
	}
	metrics.HelperStarted()

	defer func() {
		// The caller's context may already be done; removal must still happen.
		rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), removeTimeout)
		defer cancel()
		if rmErr := h.eng.RemoveContainer(rmCtx, id); rmErr != nil {
			slog.Warn("Failed to remove helper container", "component", "sandbox", "container", id, "error", rmErr)
		}
		metrics.HelperRemoved()
	}()

	if err := h.eng.StartContainer(ctx, id); err != nil {
		return JobResult{}, sddErrors.FromEngine(err, sddErrors.ResourceContainer, id)
	}

	code, err := h.eng.WaitContainer(ctx, id)
	if err != nil {
		return JobResult{}, sddErrors.FromEngine(err, sddErrors.ResourceContainer, id)
	}

	logs, err := h.eng.ContainerLogs(ctx, id, engine.LogOptions{Stdout: true, Stderr: true, Tail: "all"})
	if err != nil {
		return JobResult{}, sddErrors.FromEngine(err, sddErrors.ResourceContainer, id)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return JobResult{}, sddErrors.EngineCallFailed("read helper output", err)
	}

	return JobResult{ExitCode: code, Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}, nil
}

// RunChecked is Run with a non-zero exit mapped to InvalidPath for path.
func (h *helperRunner) RunChecked(ctx context.Context, job Job, path string) (JobResult, error) {
	res, err := h.Run(ctx, job)
	if err != nil {
		return res, err
	}
	if res.ExitCode != 0 {
		return res, sddErrors.InvalidPath(path, fmt.Errorf("%s exited %d: %s", job.Op, res.ExitCode, bytes.TrimSpace(res.Stderr)))
	}
	return res, nil
}
