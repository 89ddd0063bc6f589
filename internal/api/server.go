// Package api exposes the bridge components over HTTP and WebSocket.
package api

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/harunnryd/sdd/internal/auth"
	"github.com/harunnryd/sdd/internal/daemon"
	"github.com/harunnryd/sdd/internal/execsession"
	"github.com/harunnryd/sdd/internal/logstream"
	"github.com/harunnryd/sdd/internal/resource"
	"github.com/harunnryd/sdd/internal/sandbox"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	DefaultExecPollTimeout = 5 * time.Second
	writeWait              = 10 * time.Second
	maxClientMessage       = 64 << 10
)

// HealthReporter supplies per-component health for /health.
type HealthReporter interface {
	ComponentHealth() map[string]*daemon.ComponentHealth
}

// Pinger checks engine reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Logs   *logstream.Streamer
	Exec   *execsession.Opener
	Files  *sandbox.Sandbox
	Usage  *resource.Sampler
	Gate   *auth.Gate
	Engine Pinger
	Health HealthReporter
}

type Options struct {
	ExecPollTimeout time.Duration
	// AllowedOrigins restricts WebSocket upgrades; empty allows any origin.
	AllowedOrigins []string
	Version        string
}

type Server struct {
	deps     Deps
	opts     Options
	upgrader websocket.Upgrader
}

func NewServer(deps Deps, opts Options) *Server {
	if opts.ExecPollTimeout <= 0 {
		opts.ExecPollTimeout = DefaultExecPollTimeout
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	s := &Server{deps: deps, opts: opts}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(s.opts.AllowedOrigins, origin)
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(traceMiddleware)
	r.Use(metricsMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/docker", func(r chi.Router) {
		r.With(s.require(auth.SeeLogs)).Get("/logs", s.handleLogs)
		r.With(s.require(auth.Containers)).Get("/container/exec", s.handleExec)

		r.With(s.require(auth.Resource)).Get("/resource", s.handleResource)
		r.With(s.require(auth.Resource)).Get("/container/resource", s.handleContainerResource)

		for _, kind := range []sandbox.TargetKind{sandbox.TargetContainer, sandbox.TargetVolume} {
			prefix := "/" + string(kind)
			r.Group(func(r chi.Router) {
				r.Use(s.require(auth.SeeContainers))
				r.Get(prefix+"/ls", s.handleList(kind))
				r.Get(prefix+"/cat", s.handleCat(kind))
				r.Get(prefix+"/download", s.handleDownload(kind))
			})
		}
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{
		"status":  "ok",
		"version": s.opts.Version,
	}

	if s.deps.Engine != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.deps.Engine.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["engine"] = err.Error()
		}
	}

	if s.deps.Health != nil {
		components := make(map[string]any)
		for name, ch := range s.deps.Health.ComponentHealth() {
			entry := map[string]any{"healthy": ch.Healthy}
			if ch.Error != nil {
				entry["error"] = ch.Error.Error()
			}
			components[name] = entry
		}
		body["components"] = components
	}

	writeJSON(w, status, body)
}
