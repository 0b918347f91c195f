package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	appcfg "github.com/park285/mill-arena/internal/config"
	"github.com/park285/mill-arena/internal/events"
	"github.com/park285/mill-arena/internal/httpapi"
	"github.com/park285/mill-arena/internal/hub"
	"github.com/park285/mill-arena/internal/livestate"
	"github.com/park285/mill-arena/internal/msgcat"
	"github.com/park285/mill-arena/internal/obslog"
	"github.com/park285/mill-arena/internal/sched"
	"github.com/park285/mill-arena/internal/store"
	"github.com/park285/mill-arena/internal/webhook"
	"github.com/park285/mill-arena/internal/ws"
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	gameCfg, err := appcfg.LoadGame(cfg.PresetsFile)
	if err != nil {
		log.Fatalf("game config error: %v", err)
	}
	catalog, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		log.Fatalf("messages error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := openRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("store init error: %v", err)
	}
	defer repo.Close()

	bus := events.NewBus(int64(cfg.BusBuffer))
	defer bus.Close()

	clk := clock.New()
	h, err := hub.New(hub.Options{
		Game:             gameCfg,
		SessionRetention: cfg.SessionRetention,
		ChallengeTTL:     cfg.ChallengeTTL,
		SeekTTL:          cfg.SeekTTL,
	}, hub.Deps{Clock: clk, Publisher: bus, Repo: repo})
	if err != nil {
		log.Fatalf("hub init error: %v", err)
	}

	grp, gctx := errgroup.WithContext(ctx)

	var live *livestate.Store
	if cfg.RedisURL != "" {
		live, err = livestate.Open(ctx, cfg.RedisURL, cfg.LiveStateTTL)
		if err != nil {
			log.Fatalf("live state init error: %v", err)
		}
		defer live.Close()
		src, err := bus.Subscribe(gctx, cfg.BusBuffer, events.TypeGameStateChanged, events.TypeGameFinished)
		if err != nil {
			log.Fatalf("live state subscribe error: %v", err)
		}
		grp.Go(func() error { return live.Run(gctx, src) })
	}

	if cfg.WebhookURL != "" {
		sink := webhook.New(cfg.WebhookURL, cfg.WebhookSecret, webhook.WithTimeout(cfg.WebhookTimeout))
		src, err := bus.Subscribe(gctx, cfg.BusBuffer, events.TypeGameFinished, events.TypeArenaStandingsChanged)
		if err != nil {
			log.Fatalf("webhook subscribe error: %v", err)
		}
		grp.Go(func() error { return sink.Run(gctx, src) })
	}

	runner := sched.New(clk)
	runner.Add("hub_tick", cfg.TickInterval, h.Tick)
	runner.Add("arena_schedule", cfg.TickInterval, func(ctx context.Context) { h.SpawnScheduled(ctx) })
	grp.Go(func() error { return runner.Run(gctx) })

	deps := httpapi.Deps{
		Hub:     h,
		Catalog: catalog,
		WS: ws.New(h, bus, ws.Options{
			RateLimit: cfg.WSRateLimit,
			Burst:     cfg.WSBurst,
			Catalog:   catalog,
		}),
		AdminToken: cfg.AdminToken,
	}
	if live != nil {
		deps.Live = live
	}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.SetupRoutes(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}
	grp.Go(func() error {
		obslog.L().Info("http_listen", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	grp.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		h.Shutdown(shutdownCtx)
		return srv.Shutdown(shutdownCtx)
	})

	if err := grp.Wait(); err != nil {
		obslog.L().Error("server_exit", zap.Error(err))
		os.Exit(1)
	}
	obslog.L().Info("server_stopped")
}

func openRepository(ctx context.Context, databaseURL string) (store.Repository, error) {
	if databaseURL == "" {
		obslog.L().Warn("store_memory", zap.String("reason", "DATABASE_URL not set"))
		return store.NewMemory(), nil
	}
	return store.OpenPostgres(ctx, databaseURL)
}
