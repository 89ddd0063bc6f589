// Package janitor periodically removes helper containers and scratch
// directories left behind by crashed or interrupted downloads.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/harunnryd/sdd/internal/engine"
	"github.com/harunnryd/sdd/internal/metrics"
	"github.com/harunnryd/sdd/internal/sandbox"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"
)

const (
	DefaultSchedule   = "@every 10m"
	DefaultHelperTTL  = 15 * time.Minute
	DefaultScratchTTL = 30 * time.Minute

	lockFile = ".janitor.lock"
)

type Options struct {
	Schedule   string
	HelperTTL  time.Duration
	ScratchTTL time.Duration
}

// Report summarises one sweep.
type Report struct {
	HelpersRemoved int
	ScratchRemoved int
	// Skipped is set when another process holds the sweep lock.
	Skipped bool
}

type Janitor struct {
	eng     engine.Engine
	scratch *sandbox.ScratchManager
	opts    Options
	lock    *flock.Flock
	now     func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	lastRun time.Time
	lastErr error
}

func New(eng engine.Engine, scratch *sandbox.ScratchManager, opts Options) (*Janitor, error) {
	if opts.Schedule == "" {
		opts.Schedule = DefaultSchedule
	}
	if opts.HelperTTL <= 0 {
		opts.HelperTTL = DefaultHelperTTL
	}
	if opts.ScratchTTL <= 0 {
		opts.ScratchTTL = DefaultScratchTTL
	}
	if _, err := cron.ParseStandard(opts.Schedule); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", opts.Schedule, err)
	}

	return &Janitor{
		eng:     eng,
		scratch: scratch,
		opts:    opts,
		// Several daemons may share one scratch dir; only one sweeps at a time.
		lock: flock.New(filepath.Join(scratch.BaseDir(), lockFile)),
		now:  time.Now,
	}, nil
}

// Start schedules sweeps until Stop. ctx bounds every sweep.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cron != nil {
		return nil
	}

	log := cronLogger{slog.Default().With("component", "janitor")}
	c := cron.New(cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)), cron.WithLogger(log))
	if _, err := c.AddFunc(j.opts.Schedule, func() {
		if _, err := j.Sweep(ctx); err != nil {
			slog.Warn("Janitor sweep failed", "component", "janitor", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule janitor: %w", err)
	}
	c.Start()
	j.cron = c

	slog.Info("Janitor started", "component", "janitor", "schedule", j.opts.Schedule)
	return nil
}

// Stop waits for a running sweep to finish or ctx to expire.
func (j *Janitor) Stop(ctx context.Context) error {
	j.mu.Lock()
	c := j.cron
	j.cron = nil
	j.mu.Unlock()
	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("janitor stop: %w", ctx.Err())
	}
}

// LastRun reports when the last sweep finished and its error.
func (j *Janitor) LastRun() (time.Time, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastRun, j.lastErr
}

// Sweep runs one pass immediately.
func (j *Janitor) Sweep(ctx context.Context) (rep Report, err error) {
	defer func() {
		j.mu.Lock()
		j.lastRun, j.lastErr = j.now(), err
		j.mu.Unlock()
	}()

	locked, err := j.lock.TryLock()
	if err != nil {
		return Report{}, fmt.Errorf("acquire janitor lock: %w", err)
	}
	if !locked {
		slog.Debug("Janitor lock held elsewhere, skipping", "component", "janitor")
		return Report{Skipped: true}, nil
	}
	defer func() {
		if err := j.lock.Unlock(); err != nil {
			slog.Warn("Failed to release janitor lock", "component", "janitor", "error", err)
		}
	}()

	rep.HelpersRemoved, err = j.sweepHelpers(ctx)
	if err != nil {
		return rep, err
	}
	metrics.JanitorRemoved("helper", rep.HelpersRemoved)

	rep.ScratchRemoved, err = j.scratch.Sweep(j.opts.ScratchTTL)
	if err != nil {
		return rep, err
	}
	metrics.JanitorRemoved("scratch", rep.ScratchRemoved)

	if rep.HelpersRemoved > 0 || rep.ScratchRemoved > 0 {
		slog.Info("Janitor sweep removed leftovers", "component", "janitor",
			"helpers", rep.HelpersRemoved, "scratch", rep.ScratchRemoved)
	}
	return rep, nil
}

func (j *Janitor) sweepHelpers(ctx context.Context) (int, error) {
	helpers, err := j.eng.ListContainers(ctx, engine.ListOptions{
		All:    true,
		Labels: []string{sandbox.HelperLabel + "=true"},
	})
	if err != nil {
		return 0, fmt.Errorf("list helper containers: %w", err)
	}

	cutoff := j.now().Add(-j.opts.HelperTTL)
	removed := 0
	for _, c := range helpers {
		if c.Created.After(cutoff) {
			continue
		}
		if err := j.eng.RemoveContainer(ctx, c.ID); err != nil {
			slog.Warn("Failed to remove orphaned helper", "component", "janitor", "container", c.ID, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// cronLogger routes cron's own logging through slog.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
