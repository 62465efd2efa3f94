package main

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/banshee-data/sweepsync/internal/config"
	"github.com/banshee-data/sweepsync/internal/lidar/l1packets/livox"
	"github.com/banshee-data/sweepsync/internal/lidar/l1packets/network"
	"github.com/banshee-data/sweepsync/internal/lidar/l2frames"
	"github.com/banshee-data/sweepsync/internal/lidar/monitor"
	"github.com/banshee-data/sweepsync/internal/lidar/pipeline"
	"github.com/banshee-data/sweepsync/internal/lidar/storage/sqlite"
	"github.com/banshee-data/sweepsync/internal/lidar/tf"
	"github.com/banshee-data/sweepsync/internal/lidar/visualiser"
	"github.com/banshee-data/sweepsync/internal/monitoring"
	"github.com/banshee-data/sweepsync/internal/version"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string

	// Config is loaded by the root PersistentPreRunE.
	Config *config.Config
}

// NewRootCommand creates the sweepsync command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "sweepsync",
		Short: "Pose-synchronised LiDAR sweep ingestion",
		Long: `sweepsync queues LiDAR sweeps until the pose history can place them in the
world frame, then hands them to the map consumers in arrival order.`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Empty()
			if opts.ConfigPath != "" {
				var err error
				if cfg, err = config.Load(opts.ConfigPath); err != nil {
					return err
				}
			}
			if opts.LogLevel != "" {
				cfg.Log.Level = &opts.LogLevel
			}
			opts.Config = cfg
			setupLogging(cfg, cmd.ErrOrStderr())
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a .json, .yaml or .yml config file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override log.level (trace|debug|info|warn|error)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewLedgerCommand(opts))

	return cmd
}

// setupLogging routes every package log stream into one zerolog logger.
func setupLogging(cfg *config.Config, w io.Writer) {
	logger := monitoring.New(monitoring.Options{
		Level:  cfg.GetLogLevel(),
		Format: cfg.GetLogFormat(),
		Writer: w,
	})
	monitoring.UseZerolog(logger)

	ops, diag, trace := monitoring.Streams(logger)
	for _, set := range []func(ops, diag, trace io.Writer){
		tf.SetLogWriters,
		l2frames.SetLogWriters,
		pipeline.SetLogWriters,
		livox.SetLogWriters,
		network.SetLogWriters,
		visualiser.SetLogWriters,
		sqlite.SetLogWriters,
		monitor.SetLogWriters,
	} {
		set(ops, diag, trace)
	}
}
