package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/namelens/domaincheck/internal/config"
	errwrap "github.com/namelens/domaincheck/internal/errors"
	"github.com/namelens/domaincheck/internal/metrics"
	"github.com/namelens/domaincheck/internal/observability"
	"github.com/namelens/domaincheck/internal/server"
	"github.com/namelens/domaincheck/internal/server/handlers"
)

var (
	serverPort int
	serverHost string
)

// telemetryReady fails until the telemetry system and exporter exist.
func telemetryReady(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

// pipelineHealth registers a check for every backend the app opened.
func pipelineHealth(a *app, version string) *handlers.HealthManager {
	hm := handlers.NewHealthManager(version)
	hm.RegisterChecker("telemetry", handlers.CheckerFunc(telemetryReady))
	hm.RegisterChecker("state", handlers.StateChecker(a.state))
	hm.RegisterChecker("rate_limiter", handlers.LimiterChecker(a.limiter))
	if a.db != nil {
		hm.RegisterChecker("store", a.db)
	}
	if a.redis != nil {
		client := a.redis
		hm.RegisterChecker("redis", handlers.CheckerFunc(func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				return errwrap.NewExternalServiceError("redis unreachable: " + err.Error())
			}
			return nil
		}))
	}
	return hm
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP API with graceful shutdown support.

Endpoints:
  GET /v1/check/{domain}  run a full availability check
  GET /v1/state/{domain}  last persisted state
  GET /v1/tlds            accepted TLDs
  GET /health, /health/live, /health/ready, /health/startup
  GET /version, /metrics

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Config reload (validation only; restart to apply pipeline changes)

The server will cleanly shut down the HTTP server and flush logs on shutdown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadedConfig()
		if err != nil {
			return err
		}
		if !cmd.Flags().Changed("host") && cfg.Server.Host != "" {
			serverHost = cfg.Server.Host
		}
		if !cmd.Flags().Changed("port") && cfg.Server.Port != 0 {
			serverPort = cfg.Server.Port
		}

		namespace := config.AppName
		observability.InitServerLogger(config.AppName, cfg.Logging.Level, "serve")
		log := observability.ServerLogger

		metricsPort := 0
		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(namespace, cfg.Metrics.Port); err != nil {
				log.Error("Failed to initialize metrics", zap.Error(err))
				return errwrap.WrapInternal(cmd.Context(), err, "metrics initialization failed")
			}
			metricsPort = observability.GetMetricsPort()
			metrics.SetServerStartTime(time.Now().Unix())
		} else {
			log.Info("Metrics disabled; /metrics answers 503", zap.String("enable_with", config.EnvPrefix+"METRICS_ENABLED=true"))
		}

		a, err := buildApp(cmd.Context(), cfg, log, appOptions{})
		if err != nil {
			return errwrap.WrapConfigInvalid(cmd.Context(), err, "check pipeline initialization failed")
		}
		health := pipelineHealth(a, versionInfo.Version)
		if err := a.startupSelfTest(cmd.Context()); err != nil {
			_ = a.Close()
			return err
		}
		health.MarkStarted()

		log.Info("Initializing server",
			zap.String("service", config.AppName),
			zap.String("namespace", namespace),
			zap.String("version", versionInfo.Version),
			zap.String("host", serverHost),
			zap.Int("port", serverPort),
			zap.Int("metrics_port", metricsPort),
			zap.String("persistence", cfg.Persistence.Backend))

		log.Info("Health checks registered", zap.Strings("checks", health.Names()))

		srv := server.New(serverHost, serverPort,
			server.WithServiceInfo(handlers.ServiceInfo{
				Name:        config.AppName,
				Version:     versionInfo.Version,
				Commit:      versionInfo.Commit,
				BuildDate:   versionInfo.BuildDate,
				Persistence: cfg.Persistence.Backend,
				Simulation:  cfg.System.SimulationMode,
				TLDCount:    len(a.registry.TLDs()),
				Channels:    a.notifier.Names(),
			}),
			server.WithAPI(&handlers.API{
				Checker:   a.orchestrator,
				Validator: a.validator,
				State:     a.state,
				TLDs:      a.registry,
				Allowed:   cfg.TLDs.Allowed,
			}),
			server.WithHealth(health),
			server.WithTimeouts(server.Timeouts{
				Read:  cfg.Server.ReadTimeout,
				Write: cfg.Server.WriteTimeout,
				Idle:  cfg.Server.IdleTimeout,
			}),
		)

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		// Register graceful shutdown handlers (LIFO order - last registered, first executed)
		// Handler 1: Flush logger (executed last)
		signals.OnShutdown(func(ctx context.Context) error {
			log.Info("Flushing logger...")
			if err := log.Sync(); err != nil {
				// Sync errors are often benign (stdout/stderr already closed)
				log.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})

		// Handler 2: Close state backends and the metrics exporter
		signals.OnShutdown(func(ctx context.Context) error {
			if err := a.Close(); err != nil {
				log.Warn("Failed to close backends", zap.Error(err))
			}
			if err := observability.ShutdownMetrics(); err != nil {
				log.Warn("Failed to stop metrics exporter", zap.Error(err))
			}
			return nil
		})

		// Handler 3: Shutdown HTTP server (executed first)
		signals.OnShutdown(func(ctx context.Context) error {
			log.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}

			log.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			log.Info("Received SIGHUP: attempting config reload")

			reloaded, err := config.LoadFile(ctx, cfgFile, flagOverrides())
			if err != nil {
				log.Error("Failed to reload config file",
					zap.String("file", config.ConfigFileUsed()),
					zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}
			if err := reloaded.Validate(); err != nil {
				log.Error("Reloaded configuration is invalid", zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}

			log.Info("Configuration reloaded; restart to apply pipeline changes",
				zap.String("file", config.ConfigFileUsed()))
			return nil
		})

		// Enable double-tap force quit (Ctrl+C within 2 seconds)
		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			log.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		// Start server in background goroutine
		errChan := make(chan error, 1)
		go func() {
			log.Info("Starting HTTP server...",
				zap.String("host", serverHost),
				zap.Int("port", serverPort))
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()

		// Start signal listener in background
		go func() {
			if err := signals.Listen(cmd.Context()); err != nil {
				log.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		// Wait for error or shutdown completion
		if err := <-errChan; err != nil {
			return errwrap.WrapInternal(cmd.Context(), err, "server error")
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port")
}
