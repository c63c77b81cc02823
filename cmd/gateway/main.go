package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gitdiagram/internal/config"
	"gitdiagram/internal/gateway/app"
	"gitdiagram/internal/logging"
)

func main() {
	port := flag.String("port", "", "listen address, overrides PORT (e.g. :8081)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Error(context.Background(), logging.New("info", os.Stderr), "failed to load config", err)
		os.Exit(1)
	}
	if p := strings.TrimSpace(*port); p != "" {
		cfg.Port = p
	}
	logger := logging.New(cfg.LogLevel, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logging.Error(ctx, logger, "failed to initialize app", err)
		os.Exit(1)
	}
	if err := a.Run(ctx); err != nil {
		logging.Error(ctx, logger, "server error", err)
		os.Exit(1)
	}
	logger.Info("server exiting")
}
