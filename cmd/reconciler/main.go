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
	"github.com/acme/outbound-dialer/internal/worker/reconcile"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	once := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

	container, err := app.Build(ctx, *configPath)
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer container.Close(context.Background())

	shutdown, err := telemetry.Setup(ctx, container.Config.Telemetry, container.Config.App, "reconciler")
	if err != nil {
		log.Fatalf("failed to initialize telemetry: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	sweeper, err := reconcile.New(container)
	if err != nil {
		log.Fatalf("failed to build reconciler: %v", err)
	}

	if *once {
		report, err := sweeper.Sweep(ctx)
		if err != nil {
			log.Fatalf("sweep failed: %v", err)
		}
		container.Logger.Info("reconcile: single sweep finished",
			zap.Int("stale", report.MarkedStale),
			zap.Int("awaiting_call", report.AwaitingCall),
			zap.Int("requeued", report.Requeued),
		)
		return
	}

	if container.Config.Metrics.Enabled {
		go func() {
			if err := metrics.StartServer(ctx, container.Config.Metrics.Address, container.Registry); err != nil {
				container.Logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	if err := sweeper.Run(ctx, container.Config.Reconcile.Schedule); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("reconciler terminated: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
