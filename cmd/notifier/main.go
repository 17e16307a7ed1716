package main

import (
	"context"
	"log"
	"log/slog"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	natsadapter "github.com/samirrijal/livetrack/internal/adapters/nats"
	"github.com/samirrijal/livetrack/internal/adapters/postgres"
	"github.com/samirrijal/livetrack/internal/pkg/config"
	"github.com/samirrijal/livetrack/internal/pkg/logging"
	"github.com/samirrijal/livetrack/internal/workflows"
)

func main() {
	cfg, err := config.Load("livetrack-notifier")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.Setup(cfg.Telemetry.ServiceName, cfg.Log.Level, cfg.Log.Format)

	db, err := postgres.New(context.Background(), cfg.Database.DSN(), 0)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	activities := &workflows.ArrivalActivities{
		Signals:  postgres.NewSignalRepo(db),
		Sessions: postgres.NewDispatchRepo(db),
	}

	publisher, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats unavailable, arrivals are recorded but not broadcast", "error", err)
	} else {
		defer publisher.Close()
		activities.Publisher = publisher
	}

	// Connect to Temporal
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    logger,
	})
	if err != nil {
		log.Fatalf("temporal client: %v", err)
	}
	defer c.Close()

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})

	// Register workflow & activities
	w.RegisterWorkflow(workflows.ArrivalWorkflow)
	w.RegisterActivity(activities)

	slog.Info("arrival worker started", "task_queue", cfg.Temporal.TaskQueue)
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("worker: %v", err)
	}
}
