// Package main provides the entry point for the STT worker.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/smap/stt-worker/internal/bootstrap"
	"github.com/smap/stt-worker/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// Load configuration from environment
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Create structured logger
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting STT worker",
		slog.String("queue", cfg.RabbitQueue),
		slog.String("model", cfg.DefaultModel),
		slog.Int("max_concurrent_jobs", cfg.MaxConcurrentJobs),
		slog.Int("max_parallel_workers", cfg.MaxParallelWorkers),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
	)

	// Initialize dependencies using bootstrap. This downloads and
	// validates the whisper model before any message is consumed.
	deps, err := bootstrap.NewWorker(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}

	// Consume until SIGTERM/SIGINT, then drain
	consumeCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = deps.Worker.Start(consumeCtx)
	deps.Worker.Shutdown()
	if err != nil && consumeCtx.Err() == nil {
		return fmt.Errorf("consume: %w", err)
	}
	return nil
}
