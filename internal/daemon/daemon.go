package daemon

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/sdd/internal/config"
)

// Daemon owns the component set and drives it through init, start and stop.
type Daemon struct {
	cfg        *config.Config
	created    time.Time
	components []Component

	mu     sync.RWMutex
	status HealthStatus
	// order is the resolved init order; stopOrder holds the components
	// that initialized, most recent first.
	order     []string
	stopOrder []string
}

func NewDaemon(cfg *config.Config) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	return &Daemon{cfg: cfg, created: time.Now(), status: StatusStarting}, nil
}

// AddComponent registers comp. Registration order breaks ties between
// components with no dependency on each other.
func (d *Daemon) AddComponent(comp Component) {
	d.mu.Lock()
	d.components = append(d.components, comp)
	n := len(d.components)
	d.mu.Unlock()
	slog.Info("Component registered", "component", comp.Name(), "total_components", n)
}

func (d *Daemon) Component(name string) Component {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lookup(name)
}

func (d *Daemon) lookup(name string) Component {
	for _, c := range d.components {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

func (d *Daemon) registered() []Component {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Component(nil), d.components...)
}

func (d *Daemon) Health() HealthStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status
}

func (d *Daemon) setHealth(s HealthStatus) {
	d.mu.Lock()
	d.status = s
	d.mu.Unlock()
}

// Uptime reports how long ago the daemon was created.
func (d *Daemon) Uptime() time.Duration {
	return time.Since(d.created)
}
