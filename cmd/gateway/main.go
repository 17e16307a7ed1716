package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"golang.org/x/sync/errgroup"

	"github.com/samirrijal/livetrack/internal/adapters/http"
	"github.com/samirrijal/livetrack/internal/adapters/jwtauth"
	natsadapter "github.com/samirrijal/livetrack/internal/adapters/nats"
	"github.com/samirrijal/livetrack/internal/adapters/postgres"
	"github.com/samirrijal/livetrack/internal/adapters/valkey"
	"github.com/samirrijal/livetrack/internal/core/usecases"
	"github.com/samirrijal/livetrack/internal/pkg/config"
	"github.com/samirrijal/livetrack/internal/pkg/logging"
	"github.com/samirrijal/livetrack/internal/pkg/telemetry"
)

const poolStatsInterval = 15 * time.Second

func main() {
	cfg, err := config.Load("livetrack-gateway")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.Setup(cfg.Telemetry.ServiceName, cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ---- Telemetry ----
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

	// ---- Cache ----
	cache, err := valkey.New(cfg.Valkey.Addr)
	if err != nil {
		slog.Warn("valkey unavailable, positions are not mirrored", "error", err)
	} else {
		defer cache.Close()
	}

	// ---- NATS ----
	publisher, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats unavailable, positions stay local", "error", err)
	} else {
		defer publisher.Close()
	}

	// ---- Auth ----
	verifier, err := jwtauth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	// ---- Core ----
	store := usecases.NewPositionStore(usecases.PositionStoreConfig{
		StalenessWindow:   cfg.Tracking.StalenessWindow,
		Retention:         cfg.Tracking.Retention,
		RingSize:          cfg.Tracking.RouteRingSize,
		MinMovementMeters: cfg.Tracking.MinMovementMeters,
	}, usecases.WithStoreLogger(logger))
	registry := usecases.NewSubscriptionRegistry()

	gwOpts := []usecases.GatewayOption{usecases.WithGatewayLogger(logger)}
	if publisher != nil {
		gwOpts = append(gwOpts, usecases.WithPositionPublisher(publisher))
	}
	if cache != nil {
		gwOpts = append(gwOpts, usecases.WithPositionCache(cache))
	}
	gw := usecases.NewTrackingGateway(usecases.GatewayConfig{
		AuthGracePeriod: cfg.Tracking.AuthGracePeriod,
		MaxMalformed:    cfg.Tracking.MaxMalformed,
		OutboundBuffer:  cfg.Tracking.OutboundBuffer,
		FanoutWorkers:   cfg.Tracking.FanoutWorkers,
		FanoutQueue:     cfg.Tracking.FanoutQueue,
		MirrorTTL:       cfg.Tracking.Retention,
		RetryInterval:   cfg.Tracking.PushRetryInterval,
	}, store, registry, verifier, dispatch, gwOpts...)

	deps := &http.Dependencies{
		Gateway:  gw,
		Store:    store,
		Registry: registry,
		Auth:     verifier,
		Sessions: dispatch,
		Signals:  postgres.NewSignalRepo(db),
		DB:       db,
		DocsPath: http.DefaultDocsPath,
	}
	if cache != nil {
		deps.Queries = usecases.NewQueryService(store, cache)
		deps.Cache = cache
	} else {
		deps.Queries = usecases.NewQueryService(store, nil)
	}
	if publisher != nil {
		deps.NATS = publisher.Conn()
	}

	// ---- Fiber ----
	app := fiber.New(fiber.Config{
		ReadTimeout:           time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:          time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:             1024 * 1024, // 1 MB max request body
		AppName:               "LiveTrack Gateway",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     "http://localhost:3000, http://localhost:5173",
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: false,
		MaxAge:           3600,
	}))
	http.SetupRoutes(app, deps)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}

	// ---- Run ----
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		store.RunSweeper(gctx, cfg.Tracking.SweepInterval)
		return nil
	})
	g.Go(func() error {
		gw.Run(gctx)
		return nil
	})
	g.Go(func() error {
		db.ReportPoolStats(gctx, poolStatsInterval)
		return nil
	})
	g.Go(func() error {
		slog.Info("gateway listening", "addr", addr)
		return app.Listener(ln)
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, closing connections")

		// Close sessions first so clients see a normal close frame.
		gw.Shutdown()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return app.ShutdownWithContext(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("gateway stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("gateway stopped")
}
