package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bilal060/devicesync-server/internal/api"
	"github.com/bilal060/devicesync-server/internal/config"
	"github.com/bilal060/devicesync-server/internal/storage"
	syncsvc "github.com/bilal060/devicesync-server/internal/sync"
	"github.com/bilal060/devicesync-server/internal/telemetry"
	"github.com/bilal060/devicesync-server/internal/versions"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the device sync API server",
	Long: `Start the device sync API server.

Without a configuration file (--config) the server runs with in-memory
storage and default queue settings, which is suitable for local development.
Postgres persistence, queue tuning and metrics are configured via YAML; see
examples/ for sample configurations.`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second
	serverRequestTimeout   = 30 * time.Second // Bulk sync payloads can be large
	serverReadTimeout      = 30 * time.Second
	serverWriteTimeout     = 45 * time.Second // Must be > serverRequestTimeout to let middleware handle timeout
	serverIdleTimeout      = 60 * time.Second
)

func init() {
	serveCmd.Flags().String("address", "", "Address to listen on (overrides config)")
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format)")

	if err := viper.BindPFlag("address", serveCmd.Flags().Lookup("address")); err != nil {
		panic(err)
	}
	if err := viper.BindPFlag("config", serveCmd.Flags().Lookup("config")); err != nil {
		panic(err)
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	// Load configuration; without --config the defaults apply.
	var loadOpts []config.Option
	if configPath := viper.GetString("config"); configPath != "" {
		loadOpts = append(loadOpts, config.WithConfigPath(configPath))
	}
	cfg, err := config.LoadConfig(loadOpts...)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	address := viper.GetString("address")
	if address == "" {
		address = cfg.Server.GetAddress()
	}
	slog.Info("Starting device sync API server",
		"address", address,
		"storage", cfg.Storage.GetType(),
		"metrics", cfg.MetricsEnabled())

	// Metrics pipeline. The registry is nil when metrics are disabled and
	// the /metrics endpoint is then not mounted.
	meterProvider, registry, err := telemetry.NewMeterProvider(ctx,
		telemetry.WithMetricsEnabled(cfg.MetricsEnabled()),
		telemetry.WithMeterServiceVersion(versions.GetVersionInfo().Version),
	)
	if err != nil {
		return fmt.Errorf("failed to create meter provider: %w", err)
	}
	metrics, err := telemetry.NewQueueMetrics(meterProvider)
	if err != nil {
		return fmt.Errorf("failed to create queue metrics: %w", err)
	}

	// Storage components share one backend family.
	factory, err := storage.NewStorageFactory(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create storage factory: %w", err)
	}
	defer factory.Cleanup()

	store, err := factory.CreateQueueStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to create queue store: %w", err)
	}
	repos, err := factory.CreateRepositories(ctx)
	if err != nil {
		return fmt.Errorf("failed to create record repositories: %w", err)
	}
	deviceStore, err := factory.CreateDeviceStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to create device store: %w", err)
	}

	reconciler, err := syncsvc.NewReconciler(repos)
	if err != nil {
		return fmt.Errorf("failed to create reconciler: %w", err)
	}

	gateway := syncsvc.NewGateway(store, reconciler, deviceStore,
		syncsvc.WithQueueThreshold(cfg.Queue.GetQueueThreshold()),
		syncsvc.WithMaxAttempts(cfg.Queue.GetMaxAttempts()),
		syncsvc.WithGatewayMetrics(metrics),
	)
	dispatcher := syncsvc.NewDispatcher(store, reconciler, deviceStore,
		syncsvc.WithPollInterval(cfg.Queue.GetPollInterval()),
		syncsvc.WithIdleInterval(cfg.Queue.GetIdleInterval()),
		syncsvc.WithQueueMetrics(metrics),
	)

	if cfg.Queue.GetAutoStart() {
		if err := dispatcher.Start(context.Background()); err != nil {
			return fmt.Errorf("failed to start queue dispatcher: %w", err)
		}
		slog.Info("Queue dispatcher started",
			"pollInterval", cfg.Queue.GetPollInterval(),
			"idleInterval", cfg.Queue.GetIdleInterval())
	} else {
		slog.Info("Queue dispatcher auto-start disabled; start it via POST /api/queue/start")
	}

	metricsMiddleware, err := telemetry.MetricsMiddleware(meterProvider)
	if err != nil {
		return fmt.Errorf("failed to create metrics middleware: %w", err)
	}
	serverOpts := []api.ServerOption{
		api.WithMiddlewares(
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(serverRequestTimeout),
			metricsMiddleware,
			api.LoggingMiddleware,
		),
	}
	if registry != nil {
		serverOpts = append(serverOpts, api.WithMetricsRegistry(registry))
	}
	router := api.NewServer(gateway, dispatcher, store, deviceStore, repos, serverOpts...)

	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	go func() {
		slog.Info("Server listening", "address", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	if dispatcher.IsRunning() {
		if err := dispatcher.Stop(); err != nil {
			slog.Error("Failed to stop queue dispatcher", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return err
	}
	if err := telemetry.Shutdown(shutdownCtx, meterProvider); err != nil {
		slog.Error("Failed to shut down meter provider", "error", err)
	}

	slog.Info("Server shutdown complete")
	return nil
}
