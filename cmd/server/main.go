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

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Vipatra/awaaz/internal/auth"
	"github.com/Vipatra/awaaz/internal/config"
	"github.com/Vipatra/awaaz/internal/engine"
	"github.com/Vipatra/awaaz/internal/metrics"
	"github.com/Vipatra/awaaz/internal/pool"
	"github.com/Vipatra/awaaz/internal/server"

	// Engine backends register themselves at import time.
	_ "github.com/Vipatra/awaaz/internal/asr"
	_ "github.com/Vipatra/awaaz/internal/vad"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "awaaz"
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

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
		slog.Bool("tls", cfg.Server.TLSEnabled()),
		slog.Int("sampling_rate", cfg.Audio.SamplingRate),
		slog.Float64("chunk_length_seconds", cfg.Buffering.ChunkLengthSeconds),
		slog.Float64("chunk_offset_seconds", cfg.Buffering.ChunkOffsetSeconds),
		slog.String("overload_policy", cfg.Buffering.OverloadPolicy),
		slog.String("vad_backend", cfg.VAD.Type),
		slog.String("asr_backend", cfg.ASR.Type),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)
	logger.Info("Prometheus metrics initialized")

	// Load accepted API keys
	keys, err := auth.Load(cfg.Auth, logger)
	if err != nil {
		logger.Error("Failed to load API keys", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("API key store initialized", slog.Int("keys", keys.Count()))

	// Create the voice activity detector
	vadArgs, err := cfg.VAD.ArgsJSON()
	if err != nil {
		logger.Error("Failed to encode VAD args", slog.String("error", err.Error()))
		os.Exit(1)
	}
	vad, err := engine.VADRegistry.Create(cfg.VAD.Type, vadArgs)
	if err != nil {
		logger.Error("Failed to create VAD backend",
			slog.String("type", cfg.VAD.Type),
			slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Size the engine pool from accelerator memory
	prober := pool.NewNVMLProber()
	poolSize, err := pool.ComputeSize(prober, cfg.ASR.ModelMemoryBytes, logger)
	if err != nil {
		logger.Error("Failed to size engine pool", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Engine pool sized",
		slog.Int("capacity", poolSize),
		slog.Int64("model_memory_bytes", cfg.ASR.ModelMemoryBytes),
	)

	asrArgs, err := cfg.ASR.ArgsJSON()
	if err != nil {
		logger.Error("Failed to encode ASR args", slog.String("error", err.Error()))
		os.Exit(1)
	}
	enginePool, err := pool.New(poolSize, func() (engine.ASR, error) {
		return engine.ASRRegistry.Create(cfg.ASR.Type, asrArgs)
	})
	if err != nil {
		logger.Error("Failed to create engine pool",
			slog.String("type", cfg.ASR.Type),
			slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize WebSocket server
	wsServer := server.NewWebSocketServer(cfg, logger, appMetrics, keys, enginePool, vad)
	logger.Info("WebSocket server initialized")

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg, logger, wsServer, enginePool, appMetrics)
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Start the periodic metric publish loop
	go metrics.PublishLoop(ctx, appMetrics, wsServer, prober, cfg.Metrics.GetPublishInterval(), logger)

	// Start WebSocket server in the background
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- wsServer.Start()
	}()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("address", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)),
	)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			logger.Error("WebSocket server failed", slog.String("error", err.Error()))
		}
	}

	logger.Info("Starting graceful shutdown...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Stop WebSocket server (close client connections)
	if err := wsServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping WebSocket server", slog.String("error", err.Error()))
	}

	// Close pooled engines (waits for in-flight transcriptions)
	if err := enginePool.Close(); err != nil {
		logger.Error("Error closing engine pool", slog.String("error", err.Error()))
	}

	logger.Info("Service stopped",
		slog.Float64("audio_seconds_total", wsServer.AudioDurationSeconds()),
	)
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
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
