// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flicker Contributors

package main

import (
	"context"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/flicker/credsvc/internal/config"
	"github.com/flicker/credsvc/internal/logging"
	"github.com/flicker/credsvc/internal/observability"
	"github.com/flicker/credsvc/internal/supervisor"
)

const defaultWaitDelay = 2 * time.Second

// superviseFlags are the supervise command's local flags.
type superviseFlags struct {
	metricsAddr string
	logFile     string
	logFormat   string
	logLevel    string
	logDir      string
}

// NewSuperviseCmd creates the supervise subcommand.
func NewSuperviseCmd(global *globalFlags) *cobra.Command {
	flags := &superviseFlags{}

	cmd := &cobra.Command{
		Use:   "supervise",
		Short: "Run and supervise every configured service worker",
		Long: `Launch one worker process per configured service and keep each one
running. Workers that exit abnormally are restarted with exponential backoff
until the restart budget is exhausted. SIGINT or SIGTERM stops all workers.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := global.load(cmd.Flags(), superviseFlagKeys())
			if err != nil {
				return err
			}
			return runSuperviseWithDeps(ctx, cmd, global, cfg, flags.logFile, nil)
		},
	}

	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().StringVar(&flags.logFile, "log-file", "", "append supervisor logs to this file instead of stdout")
	cmd.Flags().StringVar(&flags.logFormat, "log-format", "json", "log format (json or text)")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&flags.logDir, "log-dir", "", "directory for per-worker log files")

	return cmd
}

func superviseFlagKeys() map[string]string {
	return map[string]string{
		"metrics-addr": "metrics.addr",
		"log-format":   "log.format",
		"log-level":    "log.level",
		"log-dir":      "log.dir",
	}
}

// workerSpecs builds one launch spec per configured service. Workers are
// the same binary running "serve <service>" with the supervisor's config
// selection forwarded.
func workerSpecs(exe string, global *globalFlags, cfg *config.Config) []supervisor.Spec {
	specs := make([]supervisor.Spec, 0, len(cfg.Supervisor.Services))
	for _, name := range cfg.Supervisor.Services {
		args := []string{"serve", name, "--log-format", cfg.Log.Format, "--log-level", cfg.Log.Level}
		switch {
		case global.configFile != "":
			args = append(args, "--config", global.configFile)
		case global.configDir != "":
			args = append(args, "--config-dir", global.configDir)
		}
		if global.env != "" {
			args = append(args, "--env", global.env)
		}
		if cfg.Log.Dir != "" {
			args = append(args, "--log-file", filepath.Join(cfg.Log.Dir, name+".log"))
		}
		specs = append(specs, supervisor.Spec{Name: name, Path: exe, Args: args})
	}
	return specs
}

// runSuperviseWithDeps supervises the configured workers until ctx is
// cancelled or every worker is terminal.
// If deps is nil, default implementations are used.
func runSuperviseWithDeps(ctx context.Context, cmd *cobra.Command, global *globalFlags, cfg *config.Config, logFile string, deps *SuperviseDeps) error {
	deps = deps.withDefaults()

	exe, err := deps.Executable()
	if err != nil {
		return oops.Wrapf(err, "resolve executable")
	}

	sink, err := logging.OpenSink(logFile)
	if err != nil {
		return oops.Wrapf(err, "open log sink")
	}
	logger := logging.Setup("supervisor", version, cfg.Log.Format, cfg.Log.Level, sink)

	var obsServer *observability.Server
	var metrics *observability.Metrics
	if cfg.Metrics.Addr != "" {
		obsServer = observability.NewServer(cfg.Metrics.Addr, func() bool { return true }, logger)
		metrics = obsServer.Metrics()
	}

	sup, err := supervisor.New(workerSpecs(exe, global, cfg), deps.Launcher, logger,
		supervisor.WithConfig(supervisor.Config{
			MaxRestarts:   cfg.Supervisor.MaxRestarts,
			BaseBackoff:   cfg.Supervisor.BaseBackoff,
			MaxBackoff:    cfg.Supervisor.MaxBackoff,
			StableAfter:   cfg.Supervisor.StableAfter,
			ShutdownGrace: cfg.Supervisor.ShutdownGrace,
		}),
		supervisor.WithMetrics(metrics),
		supervisor.WithSink(sink),
	)
	if err != nil {
		_ = sink.Close()
		return err
	}

	if obsServer != nil {
		if _, err := obsServer.Start(); err != nil {
			_ = sink.Close()
			return oops.Wrapf(err, "start observability server")
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := obsServer.Stop(shutdownCtx); err != nil {
				logger.Warn("error stopping observability server", "error", err)
			}
		}()
	}

	// Events are already logged by the supervisor; only failures are echoed.
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for ev := range sup.Events() {
			if ev.Kind == supervisor.EventState && ev.State == supervisor.StateFailed {
				cmd.PrintErrf("service %s failed\n", ev.Service)
			}
		}
	}()

	cmd.Printf("supervising %d services\n", len(cfg.Supervisor.Services))
	err = sup.Run(ctx)
	<-drained
	return err
}
