// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flicker Contributors

package main

import (
	"context"
	"log/slog"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/flicker/credsvc/internal/cache"
	"github.com/flicker/credsvc/internal/config"
	"github.com/flicker/credsvc/internal/credential"
	credgrpc "github.com/flicker/credsvc/internal/grpc"
	"github.com/flicker/credsvc/internal/logging"
	"github.com/flicker/credsvc/internal/observability"
	"github.com/flicker/credsvc/internal/verification"
	"github.com/flicker/credsvc/pkg/errutil"
)

const shutdownTimeout = 5 * time.Second

// serveFlags are the serve command's local flags.
type serveFlags struct {
	addr        string
	metricsAddr string
	logFile     string
	logFormat   string
	logLevel    string
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd(global *globalFlags) *cobra.Command {
	flags := &serveFlags{}

	cmd := &cobra.Command{
		Use:       "serve <verification|encryption|authentication>",
		Short:     "Run a single credential service worker",
		Long:      `Run one credential service as a gRPC worker until SIGINT or SIGTERM.`,
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: config.KnownServices,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := global.load(cmd.Flags(), serveFlagKeys(args[0]))
			if err != nil {
				return err
			}
			return runServeWithDeps(ctx, cmd, args[0], cfg, flags.logFile, nil)
		},
	}

	cmd.Flags().StringVar(&flags.addr, "addr", "", "gRPC listen address (overrides <service>.addr)")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().StringVar(&flags.logFile, "log-file", "", "append logs to this file instead of stdout")
	cmd.Flags().StringVar(&flags.logFormat, "log-format", "json", "log format (json or text)")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	return cmd
}

func serveFlagKeys(service string) map[string]string {
	return map[string]string{
		"addr":         service + ".addr",
		"metrics-addr": "metrics.addr",
		"log-format":   "log.format",
		"log-level":    "log.level",
	}
}

// runServeWithDeps runs one worker until ctx is cancelled.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cmd *cobra.Command, service string, cfg *config.Config, logFile string, deps *ServeDeps) error {
	deps = deps.withDefaults()

	addr, err := cfg.Addr(service)
	if err != nil {
		return err
	}

	sink, err := logging.OpenSink(logFile)
	if err != nil {
		return oops.With("service", service).Wrapf(err, "open log sink")
	}
	defer func() {
		_ = sink.Flush()
		_ = sink.Close()
	}()

	logger := logging.Setup(service, version, cfg.Log.Format, cfg.Log.Level, sink)
	slog.SetDefault(logger)

	var ready atomic.Bool
	var metrics *observability.Metrics
	var obsServer *observability.Server
	if cfg.Metrics.Addr != "" {
		obsServer = observability.NewServer(cfg.Metrics.Addr, ready.Load, logger)
		metrics = obsServer.Metrics()
	}

	grpcServer := credgrpc.NewServer(logger, metrics)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	var registry prometheus.Registerer
	if obsServer != nil {
		registry = obsServer.Registry()
	}
	cleanup, err := registerService(ctx, grpcServer, service, cfg, deps, logger, metrics, registry)
	if err != nil {
		return err
	}
	defer cleanup()

	listener, err := deps.ListenerFactory("tcp", addr)
	if err != nil {
		return oops.With("service", service).With("addr", addr).Wrapf(err, "listen")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if obsServer != nil {
		obsErrCh, err := obsServer.Start()
		if err != nil {
			_ = listener.Close()
			return oops.With("service", service).Wrapf(err, "start observability server")
		}
		go monitorServerErrors(ctx, cancel, logger, obsErrCh, "observability")
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- grpcServer.Serve(listener) }()

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcServiceName(service), healthpb.HealthCheckResponse_SERVING)
	ready.Store(true)

	cmd.Printf("%s worker listening on %s\n", service, listener.Addr())
	logger.Info("worker ready", "addr", listener.Addr().String())

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		runErr = oops.With("service", service).Wrapf(err, "grpc server stopped")
		errutil.LogError(logger, "gRPC server error", runErr)
	}

	ready.Store(false)
	healthServer.Shutdown()
	gracefulStop(grpcServer, logger)

	if obsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return runErr
}

// registerService builds the named service and registers it on s. The
// returned func releases its dependencies.
func registerService(
	ctx context.Context,
	s *grpc.Server,
	service string,
	cfg *config.Config,
	deps *ServeDeps,
	logger *slog.Logger,
	metrics *observability.Metrics,
	registry prometheus.Registerer,
) (func(), error) {
	switch service {
	case config.ServiceVerification:
		client, err := deps.RedisClientFactory(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		store := cache.NewRedisStore(client)
		if registry != nil {
			if err := registry.Register(cache.NewPoolCollector(client)); err != nil {
				_ = store.Close()
				return nil, oops.Wrapf(err, "register redis pool collector")
			}
		}
		mailer, err := deps.MailerFactory(cfg.Mail)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		issuer, err := verification.NewIssuer(store, mailer, logger,
			verification.WithKeyPrefix(cfg.Verification.KeyPrefix),
			verification.WithTTL(cfg.Verification.TTL),
			verification.WithSubject(cfg.Mail.Subject),
			verification.WithMetrics(metrics),
		)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		credgrpc.RegisterVerificationService(s, credgrpc.NewVerificationServer(issuer, logger))
		return func() {
			if err := store.Close(); err != nil {
				logger.Warn("error closing redis client", "error", err)
			}
		}, nil

	case config.ServiceEncryption:
		pool := credential.NewPool(cfg.Encryption.Workers)
		hasher, err := credential.NewHasher(cfg.Encryption.Cost, pool, credential.WithHashMetrics(metrics))
		if err != nil {
			return nil, err
		}
		verifier, err := credential.NewVerifier(pool)
		if err != nil {
			return nil, err
		}
		credgrpc.RegisterEncryptionService(s, credgrpc.NewEncryptionServer(hasher, verifier, logger))
		return func() {}, nil

	case config.ServiceAuthentication:
		verifier, err := credential.NewVerifier(credential.NewPool(cfg.Encryption.Workers))
		if err != nil {
			return nil, err
		}
		credgrpc.RegisterAuthenticationService(s, credgrpc.NewAuthenticationServer(verifier, logger))
		return func() {}, nil

	default:
		return nil, oops.With("service", service).Errorf("unknown service")
	}
}

func grpcServiceName(service string) string {
	switch service {
	case config.ServiceVerification:
		return credgrpc.VerificationServiceName
	case config.ServiceEncryption:
		return credgrpc.EncryptionServiceName
	default:
		return credgrpc.AuthenticationServiceName
	}
}

// gracefulStop drains in-flight RPCs, forcing a stop after shutdownTimeout.
func gracefulStop(s *grpc.Server, logger *slog.Logger) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	timer := time.NewTimer(shutdownTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		logger.Warn("graceful stop timed out, forcing stop")
		s.Stop()
		<-done
	}
}

// monitorServerErrors cancels ctx when a server reports an error.
// It exits when an error is received, the channel closes or ctx is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			errutil.LogError(logger, "server error, triggering shutdown", err, "server", serverName)
			cancel()
		}
	case <-ctx.Done():
	}
}
