package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"cfkv/internal/http"
	"cfkv/pkg/metrics"
	"cfkv/pkg/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := initConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := initLogger(&cfg)

	prom := metrics.NewPrometheus("cfkv")

	table, err := store.Open(cfg.DB,
		store.WithLogger(logger),
		store.WithMetrics(prom),
	)
	if err != nil {
		return fmt.Errorf("failed to open table: %w", err)
	}
	defer func() {
		if err := table.Close(); err != nil {
			slog.Error("failed to close table", "error", err)
		}
	}()

	server := http.NewServer(table, cfg.Server, prom.Handler())
	if err := server.Start(); err != nil {
		return err
	}

	slog.Info("cfkv is running", "url", server.URL, "data", cfg.DB.Persistence.RootPath)
	<-ctx.Done()

	if err := server.Stop(); err != nil {
		slog.Error("error stopping server", "error", err)
	}
	slog.Info("cfkv stopped")
	return nil
}
