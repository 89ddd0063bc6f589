package components

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/harunnryd/sdd/internal/config"
	"github.com/harunnryd/sdd/internal/daemon"
	"github.com/harunnryd/sdd/internal/engine"
)

// EngineComponent owns the container engine client.
type EngineComponent struct {
	cfg         *config.EngineConfig
	dial        func() (engine.Engine, error)
	eng         engine.Engine
	initialized bool
	mu          sync.RWMutex
}

func NewEngineComponent(cfg *config.EngineConfig) *EngineComponent {
	return &EngineComponent{
		cfg: cfg,
		dial: func() (engine.Engine, error) {
			return engine.NewDocker(engine.DockerOptions{Host: cfg.Host, APIVersion: cfg.APIVersion})
		},
	}
}

// NewEngineComponentWith wraps an existing engine, e.g. a test double.
func NewEngineComponentWith(eng engine.Engine, cfg *config.EngineConfig) *EngineComponent {
	return &EngineComponent{
		cfg:  cfg,
		dial: func() (engine.Engine, error) { return eng, nil },
	}
}

func (e *EngineComponent) Name() string {
	return "Engine"
}

func (e *EngineComponent) Dependencies() []string {
	return []string{}
}

// Init connects and pings; an unreachable engine fails startup.
func (e *EngineComponent) Init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	eng, err := e.dial()
	if err != nil {
		return fmt.Errorf("connect engine: %w", err)
	}
	if err := e.ping(ctx, eng); err != nil {
		_ = eng.Close()
		return fmt.Errorf("engine unreachable: %w", err)
	}

	e.eng = eng
	e.initialized = true
	slog.Info("Engine initialized", "component", e.Name(), "host", e.cfg.Host)
	return nil
}

func (e *EngineComponent) Start(ctx context.Context) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.initialized {
		return fmt.Errorf("Engine not initialized")
	}
	return nil
}

func (e *EngineComponent) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.eng == nil {
		slog.Info("Engine not initialized, skipping stop", "component", e.Name())
		return nil
	}
	err := e.eng.Close()
	e.eng = nil
	e.initialized = false
	slog.Info("Engine stopped", "component", e.Name())
	return err
}

func (e *EngineComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	e.mu.RLock()
	eng := e.eng
	e.mu.RUnlock()

	if eng == nil {
		return &daemon.ComponentHealth{Name: e.Name(), Healthy: false, Error: fmt.Errorf("not initialized")}, nil
	}
	if err := e.ping(ctx, eng); err != nil {
		return &daemon.ComponentHealth{Name: e.Name(), Healthy: false, Error: err}, nil
	}
	return &daemon.ComponentHealth{Name: e.Name(), Healthy: true}, nil
}

func (e *EngineComponent) ping(ctx context.Context, eng engine.Engine) error {
	timeout, err := config.DurationOrDefault(e.cfg.PingTimeout, config.DefaultEnginePingTimeout)
	if err != nil {
		return fmt.Errorf("parse engine ping timeout: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return eng.Ping(pingCtx)
}

func (e *EngineComponent) GetEngine() engine.Engine {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.eng
}
