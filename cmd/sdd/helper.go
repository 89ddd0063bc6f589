package main

import (
	"context"
	"fmt"

	"github.com/harunnryd/sdd/internal/config"
	"github.com/harunnryd/sdd/internal/engine"

	"github.com/spf13/cobra"
)

// engineDialer is swapped out in tests.
var engineDialer = func(c *config.Config) (engine.Engine, error) {
	return engine.NewDocker(engine.DockerOptions{Host: c.Engine.Host, APIVersion: c.Engine.APIVersion})
}

// executeWithEngine runs fn against a pinged engine with a context that is
// cancelled on interrupt.
func executeWithEngine(cmd *cobra.Command, fn func(ctx context.Context, c *config.Config, eng engine.Engine) error) error {
	loadedCfg, err := loadConfigForCommand(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	sig := NewSignalHandler(parent)
	sig.Start()
	defer sig.Stop()
	ctx := sig.Context()

	eng, err := engineDialer(loadedCfg)
	if err != nil {
		return fmt.Errorf("failed to connect engine: %w", err)
	}
	defer eng.Close()

	pingTimeout, err := config.DurationOrDefault(loadedCfg.Engine.PingTimeout, config.DefaultEnginePingTimeout)
	if err != nil {
		return fmt.Errorf("parse engine ping timeout: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := eng.Ping(pingCtx); err != nil {
		return fmt.Errorf("engine unreachable: %w", err)
	}

	return fn(ctx, loadedCfg, eng)
}
