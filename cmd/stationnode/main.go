package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/louaj-station/local-node/internal/authinfra"
	"github.com/louaj-station/local-node/internal/authverifier"
	"github.com/louaj-station/local-node/internal/booking"
	"github.com/louaj-station/local-node/internal/centrallink"
	"github.com/louaj-station/local-node/internal/clock"
	"github.com/louaj-station/local-node/internal/config"
	"github.com/louaj-station/local-node/internal/eventbus"
	"github.com/louaj-station/local-node/internal/logging"
	"github.com/louaj-station/local-node/internal/metrics"
	"github.com/louaj-station/local-node/internal/queueengine"
	"github.com/louaj-station/local-node/internal/reconciler"
	"github.com/louaj-station/local-node/internal/store"
	"github.com/louaj-station/local-node/internal/store/migrations"
)

// core groups the station node's request-facing components. The HTTP
// surface that dispatches client calls onto these is external to this
// process (spec.md §6: "consumed, not designed here") — core exists so the
// wiring is in one place for whatever transport adapter is attached later.
type core struct {
	queue     *queueengine.Engine
	allocator *booking.Allocator
	auth      *authverifier.Verifier
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.New("stationnode", cfg.Logging.Level, cfg.Logging.Format)
	logging.InitDefault("stationnode", cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Database.MigrateOnStart {
		if err := migrations.Run(cfg.Database.DSN); err != nil {
			logger.WithError(err).Fatal("apply migrations")
		}
	}

	db, err := store.Open(ctx, cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		logger.WithError(err).Fatal("connect to postgres")
	}
	defer db.Close()

	st := store.New(db)
	metrics.NewRegistry()

	bus := eventbus.New(eventbus.Config{QueueSize: 1024, WorkerCount: 4, Logger: logger})
	if err := bus.Start(ctx); err != nil {
		logger.WithError(err).Fatal("start event bus")
	}
	defer bus.Stop()

	link := centrallink.New(centrallink.Config{
		StationID: cfg.Station.StationID,
		WSURL:     cfg.Network.CentralServerWSURL,
		HealthURL: cfg.Network.CentralServerURL,
	}, logger, bus)

	realClock := clock.Real{}
	idGen := clock.UUIDGenerator{}

	pwd := authinfra.NewBcryptVerifier(0)
	app := core{
		queue:     queueengine.New(st, bus, realClock, idGen, logger, cfg.Booking.CancelOnExit),
		allocator: booking.New(st, bus, realClock, idGen, logger),
		auth: authverifier.New(st, bus, realClock, idGen, logger, pwd, link, authverifier.Config{
			JWTSecret:     cfg.Auth.JWTSecret,
			LocalTokenTTL: cfg.Auth.JWTExpiresIn,
			StationID:     cfg.Station.StationID,
		}),
	}
	_ = app

	rec := reconciler.New(st, link, bus, realClock, logger)

	go link.Run(ctx)

	drainSpec := "@every " + time.Duration(cfg.Sync.TripSyncIntervalMS*int(time.Millisecond)).String()
	outboundCron := rec.StartOutboundDrain(ctx, drainSpec, cfg.Sync.MaxSyncRetryAttempts)
	defer outboundCron.Stop()

	go config.WatchSupervisorFile(ctx, cfg, config.SupervisorConfigPath(), 30*time.Second, func(updated *config.Config) {
		logger.With(ctx).Info("station identity refreshed from supervisor config")
	})

	logger.With(ctx).Info("station node started")

	<-ctx.Done()

	logger.With(ctx).Info("shutting down station node")
	link.Stop()
}
