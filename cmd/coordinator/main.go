package main

import (
	"context"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"go.temporal.io/sdk/client"

	natsadapter "github.com/samirrijal/livetrack/internal/adapters/nats"
	"github.com/samirrijal/livetrack/internal/adapters/postgres"
	"github.com/samirrijal/livetrack/internal/core/usecases"
	"github.com/samirrijal/livetrack/internal/pkg/config"
	"github.com/samirrijal/livetrack/internal/pkg/logging"
	"github.com/samirrijal/livetrack/internal/pkg/telemetry"
	"github.com/samirrijal/livetrack/internal/workflows"
)

const durableName = "livetrack-coordinator"

func main() {
	cfg, err := config.Load("livetrack-coordinator")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.Setup(cfg.Telemetry.ServiceName, cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.TempoAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	// ---- Database ----
	db, err := postgres.New(ctx, cfg.Database.DSN(), 0)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()
	dispatch := postgres.NewDispatchRepo(db)

	// ---- Zones ----
	zones, err := config.LoadZones(cfg.Dispatch.ZonesFile)
	if err != nil {
		log.Fatalf("zones: %v", err)
	}
	slog.Info("zones loaded", "count", len(zones), "file", cfg.Dispatch.ZonesFile)

	opts := []usecases.CoordinatorOption{
		usecases.WithZones(zones),
		usecases.WithCoordinatorLogger(logger),
	}

	// ---- NATS ----
	publisher, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("nats publisher: %v", err)
	}
	defer publisher.Close()
	opts = append(opts, usecases.WithSignalPublisher(publisher))

	subscriber, err := natsadapter.NewSubscriber(cfg.NATS.URL, durableName)
	if err != nil {
		log.Fatalf("nats subscriber: %v", err)
	}
	defer subscriber.Close()

	// ---- Temporal ----
	// Without Temporal the coordinator records and publishes arrivals itself.
	tc, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    logger,
	})
	if err != nil {
		slog.Warn("temporal unavailable, arrivals handled inline", "error", err)
	} else {
		defer tc.Close()
		opts = append(opts, usecases.WithArrivalNotifier(workflows.NewArrivalNotifier(tc, cfg.Temporal.TaskQueue)))
	}

	coordinator := usecases.NewDispatchCoordinator(usecases.CoordinatorConfig{
		ApproachRadiusMeters: cfg.Dispatch.ApproachRadiusMeters,
		ArrivalRadiusMeters:  cfg.Dispatch.ArrivalRadiusMeters,
	}, dispatch, dispatch, postgres.NewSignalRepo(db), opts...)

	if err := subscriber.SubscribePositions(ctx, coordinator.Handle); err != nil {
		log.Fatalf("subscribe: %v", err)
	}
	go db.ReportPoolStats(ctx, 15*time.Second)

	slog.Info("coordinator started",
		"approach_radius_m", cfg.Dispatch.ApproachRadiusMeters,
		"arrival_radius_m", cfg.Dispatch.ArrivalRadiusMeters,
	)

	<-ctx.Done()
	slog.Info("shutdown signal received, draining subscription")
}
