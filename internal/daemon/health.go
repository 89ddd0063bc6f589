package daemon

import (
	"context"
	"log/slog"
	"time"
)

// ComponentHealth probes every registered component. A probe error always
// marks the component unhealthy.
func (d *Daemon) ComponentHealth() map[string]*ComponentHealth {
	comps := d.registered()
	out := make(map[string]*ComponentHealth, len(comps))
	for _, c := range comps {
		h, err := c.Health(context.Background())
		if h == nil {
			h = &ComponentHealth{Name: c.Name()}
		}
		if err != nil {
			h.Healthy, h.Error = false, err
		}
		out[c.Name()] = h
	}
	return out
}

func (d *Daemon) watchHealth(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			d.reportHealth()
		}
	}
}

func (d *Daemon) reportHealth() {
	healths := d.ComponentHealth()
	sick := 0
	for name, h := range healths {
		if !h.Healthy {
			sick++
			slog.Warn("Component unhealthy", "component", name, "error", h.Error)
		}
	}
	if sick > 0 {
		slog.Warn("Daemon has unhealthy components", "count", sick, "total", len(healths))
		return
	}
	slog.Debug("All components healthy", "count", len(healths))
}
