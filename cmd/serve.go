package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/recallhq/recall/api"
	"github.com/recallhq/recall/internal/app"
	"github.com/recallhq/recall/internal/config"
)

// parseRateBurst reads RECALL_RATE_BURST from the environment.
// Returns 0 (use default) if unset or invalid.
func parseRateBurst() int {
	v := os.Getenv("RECALL_RATE_BURST")
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// trustProxy reports whether RECALL_TRUST_PROXY enables X-Real-IP and
// X-Forwarded-For handling. Only set this behind a reverse proxy that
// overwrites those headers.
func trustProxy() bool {
	switch os.Getenv("RECALL_TRUST_PROXY") {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

// runServe initializes and starts the HTTP API server.
func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	var args []string
	if len(os.Args) > 2 {
		args = os.Args[2:]
	}
	addr, err := parseServeAddr(cfg.ServerAddr, args)
	if err != nil {
		return fmt.Errorf("parsing address: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := slog.Default()
	logger.Info("starting HTTP API server", "version", Version)

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	srv, err := api.NewServer(api.ServerConfig{
		Logger:     logger,
		Documents:  a.Knowledge,
		Retriever:  a.Pipeline,
		Answerer:   a.Generator,
		Sessions:   a.Sessions,
		TrustProxy: trustProxy(),
		RateBurst:  parseRateBurst(),
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	logger.Info("HTTP server ready",
		"addr", addr,
		"api", "/api/*",
		"health", "/health, /ready",
	)

	return srv.Run(ctx, addr)
}
