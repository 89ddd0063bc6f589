package main

import (
	"fmt"
	"os"

	"github.com/harunnryd/sdd/internal/config"
	"github.com/harunnryd/sdd/internal/logger"

	"github.com/spf13/cobra"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:     "sdd",
	Short:   "Simple Docker Dashboard bridge",
	Long:    `sdd streams container logs, interactive shells, filesystem browsing and resource usage from a Docker engine to a dashboard.`,
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cmd)
		if err != nil {
			return err
		}

		logger.Setup(cfg.Server.LogLevel)
		return nil
	},
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.sdd/config.yaml)")
	rootCmd.PersistentFlags().String("server.log_level", config.DefaultServerLogLevel, "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("engine.host", "", "engine endpoint, e.g. unix:///var/run/docker.sock (default from DOCKER_HOST)")
}
