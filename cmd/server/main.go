package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/Canvas/internal/adapters/http"
	wssignal "github.com/dkeye/Canvas/internal/adapters/signal"
	"github.com/dkeye/Canvas/internal/app"
	"github.com/dkeye/Canvas/internal/app/orch"
	"github.com/dkeye/Canvas/internal/config"
	"github.com/dkeye/Canvas/internal/core"
	"github.com/dkeye/Canvas/internal/metrics"
	"github.com/dkeye/Canvas/internal/store"
)

type storage interface {
	app.Store
	router.History
	Close() error
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if cfg.Mode == "release" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	var db storage = store.Nop{}
	if cfg.Persist.Enabled {
		sqlite, err := store.NewSQLite(cfg.DBPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to open database")
		}
		db = sqlite
	}

	rooms := core.NewRoomTable(ctx)
	reg := app.NewRegistry()
	collector := metrics.NewCollector("canvas", metrics.Gauges{
		Connections: reg.Len,
		Rooms:       rooms.Len,
	})

	var persister *app.Persister
	if cfg.Persist.Enabled {
		persister = app.NewPersister(store.NewBreaker(db, store.DefaultBreakerConfig("canvas-store")), app.PersistOptions{
			QueueSize: cfg.Persist.QueueSize,
			Debounce:  cfg.Persist.Debounce,
			Timeout:   cfg.Persist.Timeout,
			Observer:  collector,
		})
		persister.Start()
	}

	broadcast := core.Router{}
	o := &orch.Orchestrator{
		Registry: reg,
		Rooms:    rooms,
		Router:   broadcast,
		Presence: core.Presence{Rooms: rooms, Router: broadcast},
		Policy:   app.SimplePolicy{},
		Persist:  persister,
		Hydrate:  cfg.Persist.Hydrate,
		Observer: collector,
	}

	if cfg.IdleTimeout > 0 {
		go sweepIdle(ctx, o, cfg.IdleTimeout)
	}

	r := routerSetup(ctx, cfg, o, db, collector)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Canvas server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	rooms.Close()
	if persister != nil {
		persister.Close()
	}
	if err := db.Close(); err != nil {
		log.Error().Err(err).Msg("close database")
	}
	log.Info().Msg("Server exited gracefully")
}

func routerSetup(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, db storage, collector *metrics.Collector) http.Handler {
	return router.SetupRouter(ctx, cfg, router.Deps{
		Orch: o,
		Signal: wssignal.Options{
			ReadLimit:      cfg.ReadLimit,
			PingPeriod:     cfg.PingPeriod,
			PongWait:       cfg.PongWait,
			WriteWait:      cfg.WriteWait,
			SendBuffer:     cfg.SendBuffer,
			CursorRate:     cfg.Cursor.Rate,
			CursorInterval: cfg.Cursor.Interval,
		},
		History: db,
		Metrics: collector.Handler(),
	})
}

// sweepIdle closes connections that stopped answering.
func sweepIdle(ctx context.Context, o *orch.Orchestrator, timeout time.Duration) {
	ticker := time.NewTicker(timeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := o.SweepIdle(now.Add(-timeout)); n > 0 {
				log.Info().Int("kicked", n).Msg("idle connections swept")
			}
		}
	}
}
