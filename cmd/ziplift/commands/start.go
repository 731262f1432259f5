package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ziplift/ziplift/internal/logger"
	"github.com/ziplift/ziplift/internal/telemetry"
	"github.com/ziplift/ziplift/pkg/api"
	"github.com/ziplift/ziplift/pkg/blob"
	"github.com/ziplift/ziplift/pkg/config"
	"github.com/ziplift/ziplift/pkg/metrics"
	promMetrics "github.com/ziplift/ziplift/pkg/metrics/prometheus"
	"github.com/ziplift/ziplift/pkg/upload"
	"github.com/ziplift/ziplift/pkg/upload/store"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Ziplift server",
	Long: `Start the Ziplift upload coordinator with the specified configuration.

The server runs in the foreground and shuts down gracefully on SIGINT or
SIGTERM, giving in-flight chunk uploads a chance to reach their commit
point.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/ziplift/config.yaml.

Examples:
  # Start with default config location
  ziplift start

  # Start with custom config file
  ziplift start --config /etc/ziplift/config.yaml

  # Start with environment variable overrides
  ZIPLIFT_LOGGING_LEVEL=DEBUG ziplift start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	// Initialize the structured logger
	if err := InitLogger(cfg); err != nil {
		return err
	}

	// Shutdown on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting ziplift", "version", Version)
	logger.Info("configuration loaded", "source", getConfigSource(GetConfigFile()))

	// Initialize OpenTelemetry (if enabled)
	telemetryCfg := cfg.Telemetry
	telemetryCfg.ServiceVersion = Version
	telemetryShutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", logger.Err(err))
		}
	}()
	if telemetry.IsEnabled() {
		logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}

	// Initialize metrics (if enabled)
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		metricsServer, err = metrics.NewServer(cfg.Metrics)
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
		logger.Info("metrics enabled", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
	} else {
		logger.Info("metrics collection disabled")
	}

	// Bookkeeping database for sessions and chunks
	st, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize session store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("session store close error", logger.Err(err))
		}
	}()
	logger.Info("session store ready", "type", string(cfg.Database.Type))

	// Blob storage for the archives being assembled
	blobs, err := blob.New(blob.Config{Dir: cfg.Upload.Dir})
	if err != nil {
		return fmt.Errorf("failed to initialize blob store: %w", err)
	}
	logger.Info("blob store ready", logger.Path(cfg.Upload.Dir))

	// Upload service and its crash-recovery companion
	service := upload.NewService(st, blobs, cfg.Upload, promMetrics.NewUploadMetrics())
	recovery := upload.NewRecovery(service)

	cfg.Server.ShutdownTimeout = cfg.ShutdownTimeout
	apiServer := api.NewServer(cfg.Server, service)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return apiServer.Start(ctx)
	})
	g.Go(func() error {
		return recovery.Start(ctx)
	})
	if metricsServer != nil {
		g.Go(func() error {
			return metricsServer.Serve(ctx)
		})
	}

	logger.Info("server is running, press Ctrl+C to stop")

	if err := g.Wait(); err != nil {
		logger.Error("server error", logger.Err(err))
		return err
	}

	logger.Info("server stopped gracefully")
	return nil
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}
