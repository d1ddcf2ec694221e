package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/acme/outbound-dialer/internal/api"
	"github.com/acme/outbound-dialer/internal/api/handlers"
	"github.com/acme/outbound-dialer/internal/app"
	"github.com/acme/outbound-dialer/internal/metrics"
	"github.com/acme/outbound-dialer/internal/telemetry"
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

	shutdown, err := telemetry.Setup(ctx, container.Config.Telemetry, container.Config.App, "api")
	if err != nil {
		log.Fatalf("failed to initialize telemetry: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	if err := container.EnsureTopics(ctx); err != nil {
		log.Fatalf("failed to ensure kafka topics: %v", err)
	}

	if container.Config.Metrics.Enabled {
		go func() {
			if err := metrics.StartServer(ctx, container.Config.Metrics.Address, container.Registry); err != nil {
				container.Logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	server := api.NewServer(container, handlers.NewHandlerSet(container))
	container.Logger.Info("api: listening", zap.Int("port", container.Config.HTTP.Port), zap.String("carrier", container.Gateway.Name()))
	if err := server.Start(ctx); err != nil {
		log.Fatalf("server terminated: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
