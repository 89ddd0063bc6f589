package components

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/harunnryd/sdd/internal/api"
	"github.com/harunnryd/sdd/internal/config"
	"github.com/harunnryd/sdd/internal/daemon"
)

type HTTPServerComponent struct {
	daemon       *daemon.Daemon
	cfg          *config.Config
	version      string
	engineComp   *EngineComponent
	bridgeComp   *BridgeComponent
	dependencies []string
	server       *http.Server
	listener     net.Listener
	shutdownTTL  time.Duration
	initialized  bool
	started      bool
	mu           sync.RWMutex
}

func NewHTTPServerComponent(d *daemon.Daemon, cfg *config.Config, version string, engineComp *EngineComponent, bridgeComp *BridgeComponent) *HTTPServerComponent {
	return NewHTTPServerComponentWithDependencies(d, cfg, version, engineComp, bridgeComp, []string{"Engine", "Bridge"})
}

// NewHTTPServerComponentWithDependencies lets the caller add ordering
// constraints, e.g. start after the janitor has swept.
func NewHTTPServerComponentWithDependencies(d *daemon.Daemon, cfg *config.Config, version string, engineComp *EngineComponent, bridgeComp *BridgeComponent, deps []string) *HTTPServerComponent {
	return &HTTPServerComponent{
		daemon:       d,
		cfg:          cfg,
		version:      version,
		engineComp:   engineComp,
		bridgeComp:   bridgeComp,
		dependencies: append([]string(nil), deps...),
	}
}

func (h *HTTPServerComponent) Name() string {
	return "HTTPServer"
}

func (h *HTTPServerComponent) Dependencies() []string {
	return append([]string(nil), h.dependencies...)
}

func (h *HTTPServerComponent) Init(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.engineComp == nil || h.bridgeComp == nil {
		return fmt.Errorf("required component dependencies not provided")
	}
	eng := h.engineComp.GetEngine()
	svc := h.bridgeComp.GetServices()
	if eng == nil || svc == nil {
		return fmt.Errorf("required dependencies not initialized")
	}

	srvCfg := h.cfg.Server
	readTimeout, err := config.DurationOrDefault(srvCfg.ReadTimeout, config.DefaultServerReadTimeout)
	if err != nil {
		return fmt.Errorf("parse server read timeout: %w", err)
	}
	writeTimeout, err := config.DurationOrDefault(srvCfg.WriteTimeout, config.DefaultServerWriteTimeout)
	if err != nil {
		return fmt.Errorf("parse server write timeout: %w", err)
	}
	idleTimeout, err := config.DurationOrDefault(srvCfg.IdleTimeout, config.DefaultServerIdleTimeout)
	if err != nil {
		return fmt.Errorf("parse server idle timeout: %w", err)
	}
	shutdownTimeout, err := config.DurationOrDefault(srvCfg.ShutdownTimeout, config.DefaultServerShutdownTimeout)
	if err != nil {
		return fmt.Errorf("parse server shutdown timeout: %w", err)
	}
	execPoll, err := config.DurationOrDefault(h.cfg.Exec.PollTimeout, config.DefaultExecPollTimeout)
	if err != nil {
		return fmt.Errorf("parse exec poll timeout: %w", err)
	}

	var health api.HealthReporter
	if h.daemon != nil {
		health = h.daemon
	}
	srv := api.NewServer(api.Deps{
		Logs:   svc.Logs,
		Exec:   svc.Exec,
		Files:  svc.Files,
		Usage:  svc.Usage,
		Gate:   svc.Gate,
		Engine: eng,
		Health: health,
	}, api.Options{
		ExecPollTimeout: execPoll,
		AllowedOrigins:  srvCfg.AllowedOrigins,
		Version:         h.version,
	})

	// WriteTimeout stays zero by default: log and exec sockets are long lived.
	h.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", srvCfg.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}
	h.shutdownTTL = shutdownTimeout

	h.initialized = true
	slog.Info("HTTPServer initialized", "component", h.Name(), "port", srvCfg.Port)
	return nil
}

// Start binds synchronously so a taken port fails startup.
func (h *HTTPServerComponent) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.initialized {
		return fmt.Errorf("HTTPServer not initialized")
	}

	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", h.server.Addr, err)
	}
	h.listener = ln

	go func() {
		slog.Info("HTTP server listening", "component", h.Name(), "addr", ln.Addr().String())
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "component", h.Name(), "error", err)
		}
	}()

	h.started = true
	slog.Info("HTTPServer started", "component", h.Name())
	return nil
}

func (h *HTTPServerComponent) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		slog.Info("HTTPServer not started, skipping stop", "component", h.Name())
		return nil
	}

	slog.Info("Stopping HTTPServer...", "component", h.Name())
	shutdownCtx, cancel := context.WithTimeout(ctx, h.shutdownTTL)
	defer cancel()

	if err := h.server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTPServer shutdown error", "component", h.Name(), "error", err)
		return err
	}

	h.started = false
	slog.Info("HTTPServer stopped", "component", h.Name())
	return nil
}

func (h *HTTPServerComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.initialized {
		return &daemon.ComponentHealth{Name: h.Name(), Healthy: false, Error: fmt.Errorf("not initialized")}, nil
	}
	if !h.started {
		return &daemon.ComponentHealth{Name: h.Name(), Healthy: false, Error: fmt.Errorf("not started")}, nil
	}
	return &daemon.ComponentHealth{Name: h.Name(), Healthy: true}, nil
}

// Addr is the bound listen address once started.
func (h *HTTPServerComponent) Addr() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}
