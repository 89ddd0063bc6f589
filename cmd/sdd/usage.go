package main

import (
	"context"
	"fmt"

	"github.com/harunnryd/sdd/internal/config"
	"github.com/harunnryd/sdd/internal/daemon/components"
	"github.com/harunnryd/sdd/internal/engine"
	"github.com/harunnryd/sdd/internal/formatter"
	"github.com/harunnryd/sdd/internal/resource"

	"github.com/spf13/cobra"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show host and container resource usage",
	Long:  `Samples memory and CPU of every running container and the host, the same figures served at /docker/resource.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}
		containerID, _ := cmd.Flags().GetString("container")

		return executeWithEngine(cmd, func(ctx context.Context, c *config.Config, eng engine.Engine) error {
			opts, err := components.ResourceOptions(c)
			if err != nil {
				return err
			}
			sampler := resource.New(eng, opts)

			var out string
			if containerID != "" {
				u, err := sampler.Usage(ctx, containerID)
				if err != nil {
					return err
				}
				out, err = format.FormatContainerUsage(containerID, u)
				if err != nil {
					return err
				}
			} else {
				u, err := sampler.Aggregate(ctx)
				if err != nil {
					return err
				}
				out, err = format.FormatUsage(u)
				if err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		})
	},
}

func outputFormat(cmd *cobra.Command) (formatter.Formatter, error) {
	raw, _ := cmd.Flags().GetString("output")
	format, err := formatter.ParseOutputFormat(raw)
	if err != nil {
		return nil, err
	}
	return formatter.New(format)
}

func init() {
	rootCmd.AddCommand(usageCmd)
	usageCmd.Flags().String("container", "", "sample a single container instead of the aggregate")
	usageCmd.Flags().StringP("output", "o", string(formatter.OutputFormatTable), "output format (table, json, yaml)")
}
