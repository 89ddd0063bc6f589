package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/harunnryd/sdd/internal/config"
	"github.com/harunnryd/sdd/internal/daemon"
	"github.com/harunnryd/sdd/internal/daemon/components"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dashboard bridge",
	Long:  `Starts the HTTP and WebSocket API with component lifecycle orchestration. Stops gracefully on SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("config not loaded")
		}

		daemonMgr, err := daemon.NewDaemon(cfg)
		if err != nil {
			return fmt.Errorf("failed to create daemon manager: %w", err)
		}

		engineComp := components.NewEngineComponent(&cfg.Engine)
		bridgeComp := components.NewBridgeComponent(cfg, engineComp)
		httpDeps := []string{"Engine", "Bridge"}

		daemonMgr.AddComponent(engineComp)
		daemonMgr.AddComponent(bridgeComp)
		if cfg.Janitor.Enabled {
			daemonMgr.AddComponent(components.NewJanitorComponent(&cfg.Janitor, engineComp, bridgeComp))
			httpDeps = append(httpDeps, "Janitor")
		}
		daemonMgr.AddComponent(components.NewHTTPServerComponentWithDependencies(daemonMgr, cfg, version, engineComp, bridgeComp, httpDeps))

		slog.Info("SDD starting up...", "port", cfg.Server.Port, "version", version)
		err = daemonMgr.Start(context.Background())
		if err != nil {
			// Cancellation via signal/context is a graceful shutdown case for CLI.
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				slog.Info("SDD stopped gracefully")
				return nil
			}
			return fmt.Errorf("daemon failed: %w", err)
		}

		slog.Info("SDD stopped gracefully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Int("server.port", config.DefaultServerPort, "listen port")
	serveCmd.Flags().Bool("janitor.enabled", config.DefaultJanitorEnabled, "periodically remove orphaned helpers and scratch files")
}
