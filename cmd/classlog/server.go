package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/classlog/internal/api"
	"github.com/goodtune/classlog/internal/attendance"
	"github.com/goodtune/classlog/internal/config"
	"github.com/goodtune/classlog/internal/liveness"
	"github.com/goodtune/classlog/internal/metrics"
	"github.com/goodtune/classlog/internal/storage"
	"github.com/goodtune/classlog/internal/storage/postgres"
	"github.com/goodtune/classlog/internal/storage/redis"
	"github.com/goodtune/classlog/internal/systemd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start Classlog server",
	Long:  `Start the Classlog attendance API, token rotation and metrics endpoints.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting Classlog")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().Str("type", cfg.Storage.Type).Msg("Storage initialized")

	// Initialize liveness controller
	controller := liveness.New(store.Sessions(), livenessConfig(cfg.Liveness), logger)

	if cfg.Liveness.ResumeOnStart {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		resumed, err := controller.Resume(ctx)
		cancel()
		if err != nil {
			logger.Error().Err(err).Msg("Failed to resume active sessions")
		} else {
			logger.Info().Int("sessions", resumed).Msg("Resumed active sessions")
		}
	}

	service := attendance.NewService(store, controller, logger)

	// Initialize API Server
	apiConfig := api.Config{
		ListenAddr:     fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.HTTPPort),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		QRSize:         cfg.QR.Size,
		QRCacheSize:    cfg.QR.CacheSize,
		QRCacheTTL:     config.ParseDuration(cfg.QR.CacheTTL, 30*time.Second),
	}

	apiServer := api.NewServer(apiConfig, store, service, controller, logger)

	// Use systemd socket-activated listener if available
	if sdListeners.Activated && sdListeners.HTTP != nil {
		apiServer.SetListener(sdListeners.HTTP)
	}

	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API Server: %w", err)
	}

	// Initialize Metrics Server
	var metricsServer *metrics.Server
	if cfg.Server.MetricsPort > 0 {
		metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
		metricsServer = metrics.NewServer(metricsAddr, logger)

		if sdListeners.Activated && sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}

		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start Metrics Server: %w", err)
		}

		logger.Info().Msgf("Metrics: http://%s/metrics", metricsAddr)
	}

	logger.Info().
		Str("api", apiConfig.ListenAddr).
		Str("rotation_interval", controller.RotationInterval().String()).
		Msg("Classlog startup complete")

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan

	logger.Info().Msg("Shutdown signal received, gracefully stopping...")

	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	if err := apiServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping API Server")
	}

	// Sessions stay active so the next process can resume them
	controller.Shutdown()

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping Metrics Server")
		}
	}

	logger.Info().Msg("Classlog stopped")

	return nil
}

func livenessConfig(cfg config.LivenessConfig) liveness.Config {
	return liveness.Config{
		RotationInterval: config.ParseDuration(cfg.RotationInterval, liveness.DefaultRotationInterval),
		GracePeriod:      config.ParseDuration(cfg.GracePeriod, liveness.DefaultGracePeriod),
		WriteTimeout:     config.ParseDuration(cfg.WriteTimeout, liveness.DefaultWriteTimeout),
	}
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	storageType := cfg.Type
	if storageType == "" {
		storageType = "redis"
	}

	switch storageType {
	case "redis":
		return redis.Open(cfg.Redis)
	case "postgres":
		return postgres.Open(cfg.Postgres)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (must be redis or postgres)", storageType)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
