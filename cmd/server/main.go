package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skypro1111/lfasr-relay/internal/cache"
	"github.com/skypro1111/lfasr-relay/internal/config"
	"github.com/skypro1111/lfasr-relay/internal/media"
	"github.com/skypro1111/lfasr-relay/internal/metrics"
	"github.com/skypro1111/lfasr-relay/internal/parse"
	"github.com/skypro1111/lfasr-relay/internal/poll"
	"github.com/skypro1111/lfasr-relay/internal/server"
	"github.com/skypro1111/lfasr-relay/internal/signature"
	"github.com/skypro1111/lfasr-relay/internal/transport"
	"github.com/skypro1111/lfasr-relay/internal/upload"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "lfasr-relay"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("api_host", cfg.ASR.APIHost),
		slog.String("api_version", cfg.ASR.APIVersion),
		slog.Int("http_port", cfg.HTTP.Port),
		slog.String("http_address", cfg.HTTP.Address),
		slog.Int("cache_max_entries", cfg.Cache.MaxEntries),
		slog.Int("cache_expiration_hours", cfg.Cache.ExpirationHours),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Initialize the transport client for the remote API
	client, err := transport.NewClient(transport.Config{
		BaseURL: cfg.ASR.APIHost,
		Timeout: cfg.ASR.GetRequestTimeout(),
	}, logger)
	if err != nil {
		logger.Error("Failed to create transport client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Signature scheme follows the configured API generation
	signer, err := signature.ForAPIVersion(cfg.ASR.APIVersion)
	if err != nil {
		logger.Error("Failed to create signer", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Video pre-processing
	extractor := &media.FFmpeg{
		Binary: cfg.Media.FFmpegPath,
		TmpDir: cfg.Media.TempDir,
		Logger: logger,
	}

	// Core components
	uploader := upload.NewUploader(client, signer, extractor, upload.Config{
		APIVersion:    cfg.ASR.APIVersion,
		Language:      cfg.ASR.Language,
		RoleType:      cfg.ASR.RoleType,
		SpeakerNumber: cfg.ASR.SpeakerNumber,
		PieceSize:     cfg.ASR.GetPieceSize(),
	}, logger)

	resultCache := cache.New(cfg.Cache.MaxEntries, cfg.Cache.GetExpiration())
	parser := parse.NewParser(logger)
	poller := poll.NewPoller(client, signer, parser, resultCache, cfg.ASR.APIVersion, logger)

	logger.Info("Core components initialized",
		slog.String("api_version", cfg.ASR.APIVersion),
		slog.Int("cache_max_entries", cfg.Cache.MaxEntries),
	)

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, uploader, poller, resultCache, appMetrics)
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)

		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	} else {
		logger.Warn("HTTP server disabled, nothing to serve")
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	logger.Info("Final statistics",
		slog.Int("cache_entries", resultCache.Len()),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
