// Package main provides the HTTP server for askdb.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/askdb/internal/config"
	"github.com/raphaelgruber/askdb/internal/db"
	"github.com/raphaelgruber/askdb/internal/llm"
	"github.com/raphaelgruber/askdb/internal/metrics"
	"github.com/raphaelgruber/askdb/internal/pipeline"
	"github.com/raphaelgruber/askdb/internal/server"
)

// Version is set at build time.
var Version = "0.1.0"

func main() {
	// Parse flags
	configPath := flag.String("config", "", "YAML config file (default $ASKDB_CONFIG)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Resolve(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid config:\n%v\n", err)
		os.Exit(1)
	}

	// Initialize logging
	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer func() { _ = closeLog() }()
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		_ = closeLog()
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	logger.Info("starting askdb-server",
		"version", Version,
		"port", cfg.ServerPort,
		"database", cfg.DatabaseURL,
		"llm_provider", cfg.LLMProvider,
		"llm_model", cfg.LLMModel,
	)

	// Connect to the database; Open pings before returning
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := db.Open(ctx, db.Config{
		URL:      cfg.DatabaseURL,
		ReadOnly: cfg.DBReadOnly,
		MaxConns: cfg.DBMaxConns,
	}, logger)
	cancel()
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	mc := metrics.NewCollector()

	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	model, err := llm.NewModel(ctx, cfg, mc, logger)
	cancel()
	if err != nil {
		return fmt.Errorf("init model: %w", err)
	}

	p := pipeline.New(store, model, pipeline.Options{
		StageTimeout:   cfg.StageTimeout,
		ValidateTables: cfg.ValidateTables,
		Metrics:        mc,
		Logger:         logger,
	})
	srv := server.New(p, store, mc, logger, Version)

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		logger.Info("web UI available", "url", fmt.Sprintf("http://localhost:%s/", cfg.ServerPort))
		if err := srv.ListenAndServe(":" + cfg.ServerPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal or a listener failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
