package main

import (
	"context"
	"fmt"

	"github.com/harunnryd/sdd/internal/config"
	"github.com/harunnryd/sdd/internal/daemon/components"
	"github.com/harunnryd/sdd/internal/engine"
	"github.com/harunnryd/sdd/internal/formatter"
	"github.com/harunnryd/sdd/internal/sandbox"

	"github.com/spf13/cobra"
)

var fsCmd = &cobra.Command{
	Use:   "fs",
	Short: "Browse container and volume filesystems",
}

var fsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List a directory",
	Example: `  sdd fs ls --container web --path /etc
  sdd fs ls --volume pgdata -o json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := fsTarget(cmd)
		if err != nil {
			return err
		}
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}
		path, _ := cmd.Flags().GetString("path")

		return withSandbox(cmd, func(ctx context.Context, sb *sandbox.Sandbox) error {
			entries, err := sb.List(ctx, target, path)
			if err != nil {
				return err
			}
			out, err := format.FormatEntries(path, entries)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		})
	},
}

var fsCatCmd = &cobra.Command{
	Use:   "cat",
	Short: "Print a file",
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := fsTarget(cmd)
		if err != nil {
			return err
		}
		path, _ := cmd.Flags().GetString("path")

		return withSandbox(cmd, func(ctx context.Context, sb *sandbox.Sandbox) error {
			data, err := sb.Cat(ctx, target, path)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		})
	},
}

// fsTarget reads the mutually exclusive --container and --volume flags.
func fsTarget(cmd *cobra.Command) (sandbox.Target, error) {
	container, _ := cmd.Flags().GetString("container")
	volume, _ := cmd.Flags().GetString("volume")
	switch {
	case container != "" && volume != "":
		return sandbox.Target{}, fmt.Errorf("--container and --volume are mutually exclusive")
	case container != "":
		return sandbox.Target{Kind: sandbox.TargetContainer, ID: container}, nil
	case volume != "":
		return sandbox.Target{Kind: sandbox.TargetVolume, ID: volume}, nil
	default:
		return sandbox.Target{}, fmt.Errorf("one of --container or --volume is required")
	}
}

func withSandbox(cmd *cobra.Command, fn func(ctx context.Context, sb *sandbox.Sandbox) error) error {
	return executeWithEngine(cmd, func(ctx context.Context, c *config.Config, eng engine.Engine) error {
		opts, err := components.SandboxOptions(c)
		if err != nil {
			return err
		}
		sb, err := sandbox.New(eng, opts)
		if err != nil {
			return err
		}
		return fn(ctx, sb)
	})
}

func init() {
	for _, c := range []*cobra.Command{fsLsCmd, fsCatCmd} {
		c.Flags().String("container", "", "container id or name")
		c.Flags().String("volume", "", "volume name")
		c.Flags().String("path", "/", "path inside the target")
		fsCmd.AddCommand(c)
	}
	fsLsCmd.Flags().StringP("output", "o", string(formatter.OutputFormatTable), "output format (table, json, yaml)")
	rootCmd.AddCommand(fsCmd)
}
