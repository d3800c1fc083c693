// cmd/chaos/main.go
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"libracatalog/internal/catalog"
	"libracatalog/internal/chaos"
	"libracatalog/internal/clients"
	"libracatalog/internal/config"
	"libracatalog/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger()

	if err := run(cfg, logger, os.Stdout); err != nil {
		logger.Error("chaos game day failed", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger, out io.Writer) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName+"-chaos", cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("failed to flush traces", "err", err)
		}
	}()

	svc, err := openCatalog(cfg, logger)
	if err != nil {
		return err
	}

	engine := chaos.NewEngine(logger)
	engine.RegisterCatalogExperiments(svc, chaos.DefaultConfig())

	gameDay := chaos.GameDay{
		Name:      "Catalog Chaos Game Day",
		Date:      time.Now(),
		Scenarios: engine.Experiments(),
		Pause:     time.Second,
	}
	return engine.ExecuteGameDay(ctx, gameDay, out)
}

// openCatalog targets a running service when one is configured, else an
// in-process catalog.
func openCatalog(cfg config.Config, logger *slog.Logger) (catalog.Service, error) {
	if cfg.CatalogServiceURL != "" {
		return clients.NewCatalogClient(cfg.CatalogServiceURL), nil
	}
	return catalog.NewService(catalog.WithPolicy(cfg.Policy), catalog.WithLogger(logger))
}
