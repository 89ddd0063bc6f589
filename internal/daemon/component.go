package daemon

import (
	"context"
)

type HealthStatus string

const (
	StatusStarting HealthStatus = "starting"
	StatusRunning  HealthStatus = "running"
	StatusStopping HealthStatus = "stopping"
	StatusStopped  HealthStatus = "stopped"
)

// ComponentHealth is one entry of the /health report.
type ComponentHealth struct {
	Name    string
	Healthy bool
	Error   error
}

// Component is a unit of the daemon. Init runs in dependency order before
// any Start; Stop runs in reverse and must tolerate a component that was
// never started.
type Component interface {
	Name() string
	// Dependencies names components that must initialize first.
	Dependencies() []string
	Init(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health(ctx context.Context) (*ComponentHealth, error)
}
