package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/acme/outbound-dialer/internal/app"
	"github.com/acme/outbound-dialer/internal/metrics"
	"github.com/acme/outbound-dialer/internal/telemetry"
	dialworker "github.com/acme/outbound-dialer/internal/worker/dialer"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	flag.Parse()

	container, err := app.Build(ctx, *configPath)
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer container.Close(context.Background())

	shutdown, err := telemetry.Setup(ctx, container.Config.Telemetry, container.Config.App, "dialer")
	if err != nil {
		log.Fatalf("failed to initialize telemetry: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	if container.Config.Metrics.Enabled {
		go func() {
			if err := metrics.StartServer(ctx, container.Config.Metrics.Address, container.Registry); err != nil {
				container.Logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	worker := dialworker.New(container)
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("dial loop terminated: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
