package components

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/harunnryd/sdd/internal/auth"
	"github.com/harunnryd/sdd/internal/concurrency"
	"github.com/harunnryd/sdd/internal/config"
	"github.com/harunnryd/sdd/internal/daemon"
	"github.com/harunnryd/sdd/internal/execsession"
	"github.com/harunnryd/sdd/internal/logstream"
	"github.com/harunnryd/sdd/internal/resource"
	"github.com/harunnryd/sdd/internal/sandbox"
)

// Services are the request-facing pieces built on top of the engine.
type Services struct {
	Logs  *logstream.Streamer
	Exec  *execsession.Opener
	Files *sandbox.Sandbox
	Usage *resource.Sampler
	Gate  *auth.Gate
}

// BridgeComponent wires the engine into the log, exec, filesystem and
// resource services.
type BridgeComponent struct {
	cfg        *config.Config
	engineComp *EngineComponent
	host       resource.Host
	svc        *Services
	warmCancel context.CancelFunc
	mu         sync.RWMutex
}

func NewBridgeComponent(cfg *config.Config, engineComp *EngineComponent) *BridgeComponent {
	return &BridgeComponent{cfg: cfg, engineComp: engineComp}
}

// WithHost overrides host sampling for the resource service.
func (b *BridgeComponent) WithHost(h resource.Host) *BridgeComponent {
	b.host = h
	return b
}

func (b *BridgeComponent) Name() string {
	return "Bridge"
}

func (b *BridgeComponent) Dependencies() []string {
	return []string{"Engine"}
}

func (b *BridgeComponent) Init(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.engineComp == nil {
		return fmt.Errorf("engine component not provided")
	}
	eng := b.engineComp.GetEngine()
	if eng == nil {
		return fmt.Errorf("engine not initialized")
	}
	cfg := b.cfg

	streamPoll, err := config.DurationOrDefault(cfg.Stream.PollTimeout, config.DefaultStreamPollTimeout)
	if err != nil {
		return fmt.Errorf("parse stream poll timeout: %w", err)
	}
	execPoll, err := config.DurationOrDefault(cfg.Exec.PollTimeout, config.DefaultExecPollTimeout)
	if err != nil {
		return fmt.Errorf("parse exec poll timeout: %w", err)
	}
	sandboxOpts, err := SandboxOptions(cfg)
	if err != nil {
		return err
	}
	resourceOpts, err := ResourceOptions(cfg)
	if err != nil {
		return err
	}
	if b.host != nil {
		resourceOpts.Host = b.host
	}

	files, err := sandbox.New(eng, sandboxOpts)
	if err != nil {
		return fmt.Errorf("create sandbox: %w", err)
	}

	gate, err := auth.NewGate(auth.Options{Signature: cfg.Auth.Signature, Algorithm: cfg.Auth.Algorithm})
	if err != nil {
		return fmt.Errorf("create auth gate: %w", err)
	}

	b.svc = &Services{
		Logs: logstream.New(eng, logstream.Options{
			QueueCapacity:  cfg.Stream.QueueCapacity,
			PollTimeout:    streamPoll,
			HeartbeatToken: cfg.Stream.HeartbeatToken,
			EndToken:       cfg.Stream.EndToken,
		}),
		Exec: execsession.NewOpener(eng, execsession.Options{
			Shell:        cfg.Exec.Shell,
			ProbeCommand: cfg.Exec.ProbeCommand,
			PollTimeout:  execPoll,
			QueueSize:    cfg.Exec.QueueSize,
		}),
		Files: files,
		Usage: resource.New(eng, resourceOpts),
		Gate:  gate,
	}

	slog.Info("Bridge initialized", "component", b.Name(), "scratch_dir", files.Scratch().BaseDir())
	return nil
}

// Start pulls helper images in the background. A failed pull is retried by
// the first download that needs the image.
func (b *BridgeComponent) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.svc == nil {
		return fmt.Errorf("Bridge not initialized")
	}

	warmCtx, cancel := context.WithCancel(context.Background())
	b.warmCancel = cancel
	files := b.svc.Files
	concurrency.SafeGo("bridge:warm", func() {
		if err := files.Warm(warmCtx); err != nil {
			slog.Warn("Helper image warm-up failed", "component", "Bridge", "error", err)
			return
		}
		slog.Debug("Helper images ready", "component", "Bridge")
	}, nil)

	slog.Info("Bridge started", "component", b.Name())
	return nil
}

func (b *BridgeComponent) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.warmCancel != nil {
		b.warmCancel()
		b.warmCancel = nil
	}
	slog.Info("Bridge stopped", "component", b.Name())
	return nil
}

func (b *BridgeComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.svc == nil {
		return &daemon.ComponentHealth{Name: b.Name(), Healthy: false, Error: fmt.Errorf("not initialized")}, nil
	}
	return &daemon.ComponentHealth{Name: b.Name(), Healthy: true}, nil
}

// SandboxOptions maps the sandbox config section.
func SandboxOptions(cfg *config.Config) (sandbox.Options, error) {
	jobTimeout, err := config.DurationOrDefault(cfg.Sandbox.JobTimeout, config.DefaultSandboxJobTimeout)
	if err != nil {
		return sandbox.Options{}, fmt.Errorf("parse sandbox job timeout: %w", err)
	}
	return sandbox.Options{
		HelperImage:  cfg.Sandbox.HelperImage,
		ArchiveImage: cfg.Sandbox.ArchiveImage,
		ScratchDir:   cfg.Sandbox.ScratchDir,
		MountPoint:   cfg.Sandbox.MountPoint,
		LaunchRate:   cfg.Sandbox.LaunchRate,
		LaunchBurst:  cfg.Sandbox.LaunchBurst,
		JobTimeout:   jobTimeout,
	}, nil
}

func ResourceOptions(cfg *config.Config) (resource.Options, error) {
	interval, err := config.DurationOrDefault(cfg.Resource.SampleInterval, config.DefaultResourceSampleInterval)
	if err != nil {
		return resource.Options{}, fmt.Errorf("parse resource sample interval: %w", err)
	}
	return resource.Options{MaxParallel: cfg.Resource.MaxParallel, SampleInterval: interval}, nil
}

func (b *BridgeComponent) GetServices() *Services {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.svc
}
