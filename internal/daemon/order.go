package daemon

import (
	"fmt"
	"log/slog"
	"strings"
)

// resolveOrder sorts components so every one comes after its dependencies.
// Among ready components the earliest registered goes first, which keeps
// the order stable across runs.
func resolveOrder(comps []Component) ([]string, error) {
	known := make(map[string]bool, len(comps))
	for _, c := range comps {
		known[c.Name()] = true
	}
	for _, c := range comps {
		for _, dep := range c.Dependencies() {
			if !known[dep] {
				return nil, fmt.Errorf("component %s depends on %s which is not registered", c.Name(), dep)
			}
		}
	}

	placed := make(map[string]bool, len(comps))
	order := make([]string, 0, len(comps))
	for len(order) < len(comps) {
		progressed := false
		for _, c := range comps {
			if placed[c.Name()] || !ready(c, placed) {
				continue
			}
			placed[c.Name()] = true
			order = append(order, c.Name())
			progressed = true
			break
		}
		if !progressed {
			var stuck []string
			for _, c := range comps {
				if !placed[c.Name()] {
					stuck = append(stuck, c.Name())
				}
			}
			return nil, fmt.Errorf("circular dependency among %s", strings.Join(stuck, ", "))
		}
	}

	slog.Info("Initialization order resolved", "order", order)
	return order, nil
}

func ready(c Component, placed map[string]bool) bool {
	for _, dep := range c.Dependencies() {
		if !placed[dep] {
			return false
		}
	}
	return true
}
