// Package main is the entry point for the CodeFlow server.
//
// MAIN PACKAGE IN GO:
// Every Go program starts in main() of package main. It should stay
// minimal:
//  1. Read configuration (.env, YAML, environment)
//  2. Create the logger
//  3. Hand both to internal/server and block until shutdown
//
// WHY cmd/server/?
// cmd/ holds executable entry points. This repo has two: cmd/server and
// cmd/migrate, each with its own main.go.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/sakif/codeflow/internal/config"
	"github.com/sakif/codeflow/internal/server"
)

func main() {
	// === 1. LOAD .env ===
	// godotenv never overrides variables that are already set, so the real
	// environment still wins in production.
	envFile, err := config.LoadDotEnv(".env")
	if err != nil {
		slog.Error("failed to load .env", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 2. READ CONFIGURATION ===
	// CODEFLOW_CONFIG optionally points at a YAML file; env vars override it.
	cfg, err := config.Load(os.Getenv(config.EnvConfigPath))
	if err != nil {
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 3. SET UP LOGGING ===
	// Log levels (least to most severe): Debug → Info → Warn → Error.
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var h slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.Log.Format == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)

	if envFile != "" {
		logger.Info("loaded environment file", slog.String("path", envFile))
	}
	// Config implements slog.LogValuer, so secrets are masked here.
	logger.Info("configuration loaded", slog.Any("config", cfg))

	// === 4. CREATE AND START THE SERVER ===
	srv, err := server.Open(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until the server is shut down (Ctrl+C or SIGTERM).
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
