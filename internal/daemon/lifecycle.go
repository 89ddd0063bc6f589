package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/harunnryd/sdd/internal/config"
	"github.com/harunnryd/sdd/internal/pathutil"
)

type timings struct {
	shutdown        time.Duration
	startupShutdown time.Duration
	preflight       time.Duration
	healthEvery     time.Duration
}

func (d *Daemon) timings() (timings, error) {
	var t timings
	fields := []struct {
		name, raw, def string
		dst            *time.Duration
	}{
		{"shutdown timeout", d.cfg.Daemon.ShutdownTimeout, config.DefaultDaemonShutdownTimeout, &t.shutdown},
		{"startup shutdown timeout", d.cfg.Daemon.StartupShutdownTimeout, config.DefaultDaemonStartupShutdownTimeout, &t.startupShutdown},
		{"preflight timeout", d.cfg.Daemon.PreflightTimeout, config.DefaultDaemonPreflightTimeout, &t.preflight},
		{"health check interval", d.cfg.Daemon.HealthCheckInterval, config.DefaultDaemonHealthCheckInterval, &t.healthEvery},
	}
	for _, f := range fields {
		v, err := config.DurationOrDefault(f.raw, f.def)
		if err != nil {
			return t, fmt.Errorf("parse daemon %s: %w", f.name, err)
		}
		*f.dst = v
	}
	return t, nil
}

// Start runs the daemon until ctx is cancelled or the process is signalled.
// A component that fails to start stops everything initialized before it.
func (d *Daemon) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("SDD daemon starting...", "port", d.cfg.Server.Port)

	t, err := d.timings()
	if err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if err := d.validateConfig(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if err := d.probeScratch(ctx, t.preflight); err != nil {
		return fmt.Errorf("pre-init checks failed: %w", err)
	}

	if err := d.initComponents(ctx); err != nil {
		d.rollback(context.Background())
		return fmt.Errorf("component initialization failed: %w", err)
	}
	if err := d.startComponents(ctx); err != nil {
		if serr := d.shutdown(t.startupShutdown); serr != nil {
			slog.Error("Cleanup after failed startup", "error", serr)
		}
		return fmt.Errorf("component startup failed: %w", err)
	}

	d.setHealth(StatusRunning)
	slog.Info("SDD daemon is running", "port", d.cfg.Server.Port, "components", len(d.registered()))
	go d.watchHealth(ctx, t.healthEvery)

	<-ctx.Done()
	slog.Info("Context cancelled, initiating graceful shutdown", "reason", ctx.Err())
	d.setHealth(StatusStopping)
	if err := d.shutdown(t.shutdown); err != nil {
		return err
	}
	return ctx.Err()
}

func (d *Daemon) validateConfig() error {
	port := d.cfg.Server.Port
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", port)
	}
	if d.cfg.Sandbox.ScratchDir == "" {
		return fmt.Errorf("sandbox scratch_dir must be set")
	}
	if err := pathutil.EnsureDir(d.cfg.Sandbox.ScratchDir, 0755); err != nil {
		return fmt.Errorf("invalid scratch directory: %w", err)
	}
	slog.Info("Configuration validated", "port", port, "scratch_dir", d.cfg.Sandbox.ScratchDir)
	return nil
}

// probeScratch writes and removes a dotfile so downloads fail here rather
// than mid-request when the scratch dir is read-only.
func (d *Daemon) probeScratch(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	f, err := os.CreateTemp(d.cfg.Sandbox.ScratchDir, ".preflight-*")
	if err != nil {
		return fmt.Errorf("scratch directory not writable: %w", err)
	}
	f.Close()
	if err := os.Remove(f.Name()); err != nil {
		slog.Warn("Failed to remove preflight probe", "path", f.Name(), "error", err)
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("pre-init checks cancelled: %w", err)
	}
	slog.Info("Pre-init checks completed")
	return nil
}

func (d *Daemon) initComponents(ctx context.Context) error {
	order, err := resolveOrder(d.registered())
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.order = order
	d.stopOrder = nil
	d.mu.Unlock()

	for _, name := range order {
		c := d.Component(name)
		slog.Info("Initializing component...", "component", name)
		if err := c.Init(ctx); err != nil {
			slog.Error("Component initialization failed", "component", name, "error", err)
			return fmt.Errorf("component %s init failed: %w", name, err)
		}
		d.mu.Lock()
		d.stopOrder = append([]string{name}, d.stopOrder...)
		d.mu.Unlock()
	}

	slog.Info("All components initialized", "count", len(order))
	return nil
}

// startComponents follows the init order, or registration order when
// nothing has been initialized.
func (d *Daemon) startComponents(ctx context.Context) error {
	d.mu.RLock()
	order := append([]string(nil), d.order...)
	d.mu.RUnlock()
	if len(order) == 0 {
		for _, c := range d.registered() {
			order = append(order, c.Name())
		}
	}

	for _, name := range order {
		c := d.Component(name)
		if err := c.Start(ctx); err != nil {
			slog.Error("Component startup failed", "component", name, "error", err)
			return fmt.Errorf("component %s startup failed: %w", name, err)
		}
		slog.Info("Component started", "component", name)
	}
	return nil
}

func (d *Daemon) shutdown(timeout time.Duration) error {
	slog.Info("Graceful shutdown initiated", "timeout", timeout)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		d.stopComponents(ctx, false)
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Graceful shutdown completed")
		return nil
	case <-ctx.Done():
		d.setHealth(StatusStopped)
		slog.Error("Shutdown timeout exceeded", "timeout", timeout)
		return fmt.Errorf("shutdown timeout after %v", timeout)
	}
}

// rollback stops only the components whose Init succeeded.
func (d *Daemon) rollback(ctx context.Context) {
	slog.Warn("Rolling back initialized components...")
	d.stopComponents(ctx, true)
}

// stopComponents stops in reverse init order. A failing Stop is logged and
// the rest still run. Without any initialized component it falls back to
// reverse registration order unless initializedOnly is set.
func (d *Daemon) stopComponents(ctx context.Context, initializedOnly bool) {
	d.mu.RLock()
	names := append([]string(nil), d.stopOrder...)
	if len(names) == 0 && !initializedOnly {
		for i := len(d.components) - 1; i >= 0; i-- {
			names = append(names, d.components[i].Name())
		}
	}
	d.mu.RUnlock()

	for _, name := range names {
		c := d.Component(name)
		if c == nil {
			continue
		}
		if err := c.Stop(ctx); err != nil {
			slog.Error("Component stop failed", "component", name, "error", err)
			continue
		}
		slog.Info("Component stopped", "component", name)
	}
	d.setHealth(StatusStopped)
}
