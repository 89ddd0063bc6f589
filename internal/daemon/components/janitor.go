package components

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/harunnryd/sdd/internal/config"
	"github.com/harunnryd/sdd/internal/daemon"
	"github.com/harunnryd/sdd/internal/janitor"
)

type JanitorComponent struct {
	j          *janitor.Janitor
	cfg        *config.JanitorConfig
	engineComp *EngineComponent
	bridgeComp *BridgeComponent
	schedule   string
	runCtx     context.Context
	cancel     context.CancelFunc
}

func NewJanitorComponent(cfg *config.JanitorConfig, engineComp *EngineComponent, bridgeComp *BridgeComponent) *JanitorComponent {
	return &JanitorComponent{
		cfg:        cfg,
		engineComp: engineComp,
		bridgeComp: bridgeComp,
	}
}

func (s *JanitorComponent) Name() string {
	return "Janitor"
}

func (s *JanitorComponent) Dependencies() []string {
	return []string{"Engine", "Bridge"}
}

func (s *JanitorComponent) Init(ctx context.Context) error {
	if s.engineComp == nil || s.bridgeComp == nil {
		return fmt.Errorf("required component dependencies not provided")
	}

	eng := s.engineComp.GetEngine()
	svc := s.bridgeComp.GetServices()
	if eng == nil || svc == nil {
		return fmt.Errorf("required dependencies not initialized")
	}

	helperTTL, err := config.DurationOrDefault(s.cfg.HelperTTL, config.DefaultJanitorHelperTTL)
	if err != nil {
		return fmt.Errorf("parse janitor helper ttl: %w", err)
	}
	scratchTTL, err := config.DurationOrDefault(s.cfg.ScratchTTL, config.DefaultJanitorScratchTTL)
	if err != nil {
		return fmt.Errorf("parse janitor scratch ttl: %w", err)
	}
	s.schedule = s.cfg.Schedule
	if s.schedule == "" {
		s.schedule = config.DefaultJanitorSchedule
	}

	j, err := janitor.New(eng, svc.Files.Scratch(), janitor.Options{
		Schedule:   s.schedule,
		HelperTTL:  helperTTL,
		ScratchTTL: scratchTTL,
	})
	if err != nil {
		return fmt.Errorf("failed to create janitor: %w", err)
	}
	s.j = j

	slog.Info("Janitor initialized", "component", s.Name(), "schedule", s.schedule)
	return nil
}

// Start sweeps once immediately so leftovers from a previous crash do not
// wait for the first tick.
func (s *JanitorComponent) Start(ctx context.Context) error {
	if s.j == nil {
		return fmt.Errorf("janitor not initialized")
	}

	s.runCtx, s.cancel = context.WithCancel(context.Background())
	if _, err := s.j.Sweep(ctx); err != nil {
		slog.Warn("Initial janitor sweep failed", "component", s.Name(), "error", err)
	}
	if err := s.j.Start(s.runCtx); err != nil {
		s.cancel()
		return fmt.Errorf("failed to start janitor: %w", err)
	}

	slog.Info("Janitor started", "component", s.Name())
	return nil
}

func (s *JanitorComponent) Stop(ctx context.Context) error {
	if s.j == nil {
		slog.Info("Janitor not initialized, skipping stop", "component", s.Name())
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}
	if err := s.j.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop janitor: %w", err)
	}

	slog.Info("Janitor stopped", "component", s.Name())
	return nil
}

// Health is unhealthy while the most recent sweep has failed.
func (s *JanitorComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	if s.j == nil {
		return &daemon.ComponentHealth{
			Name:    s.Name(),
			Healthy: false,
			Error:   fmt.Errorf("not initialized"),
		}, nil
	}

	last, err := s.j.LastRun()
	if err != nil {
		return &daemon.ComponentHealth{
			Name:    s.Name(),
			Healthy: false,
			Error:   fmt.Errorf("last sweep at %s failed: %w", last.Format(time.RFC3339), err),
		}, nil
	}

	return &daemon.ComponentHealth{
		Name:    s.Name(),
		Healthy: true,
	}, nil
}

func (s *JanitorComponent) GetJanitor() *janitor.Janitor {
	return s.j
}
