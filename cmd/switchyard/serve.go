package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/switchyard-ai/switchyard/internal/config"
	"github.com/switchyard-ai/switchyard/internal/gateway"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
		watch      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		Long: `Start the gateway with all configured channels, the agent engine,
and the HTTP control plane. Shuts down gracefully on SIGINT/SIGTERM.`,
		Example: `  # Start with default config
  switchyard serve

  # Restart automatically when the config file changes
  switchyard serve --config /etc/switchyard/switchyard.yaml --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug, watch)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchyard.yaml", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Restart on config file changes")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug, watch bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	logger := gateway.NewLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting switchyard", "version", version, "config", configPath)

	// Each iteration runs one daemon. Without --watch the loop exits
	// after the first shutdown; with it, a config change cancels the
	// daemon's context and the next iteration picks up the new config.
	for {
		daemon, err := gateway.NewDaemon(cfg, logger)
		if err != nil {
			return err
		}

		runCtx, cancelRun := context.WithCancel(ctx)
		var next atomic.Pointer[config.Config]
		if watch {
			go func() {
				err := config.Watch(runCtx, configPath, logger, func(updated *config.Config) {
					next.Store(updated)
					cancelRun()
				})
				if err != nil && runCtx.Err() == nil {
					logger.Warn("config watch failed", "error", err)
				}
			}()
		}

		err = daemon.Run(runCtx)
		cancelRun()
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			logger.Info("switchyard stopped")
			return nil
		}

		updated := next.Load()
		if updated == nil {
			return nil
		}
		if debug {
			updated.Logging.Level = "debug"
		}
		cfg = updated
		logger = gateway.NewLogger(cfg.Logging)
		slog.SetDefault(logger)
		logger.Info("restarting with updated config", "config", configPath)
	}
}
