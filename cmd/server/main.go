package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hls-relay/internal/platform/config"
	"hls-relay/internal/platform/logger"
	"hls-relay/internal/platform/metrics"
	"hls-relay/internal/relay"
	"hls-relay/internal/scheduler"
	"hls-relay/internal/session"
	"hls-relay/internal/storage"
	"hls-relay/internal/upstream"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()
	cfg := config.FromEnv()

	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, storage.Options{
		Kind:       cfg.SessionStore,
		SQLitePath: cfg.SessionDBPath,
		FilePath:   cfg.SessionFile,
		Redis: storage.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		},
	})
	if err != nil {
		log.Error("open session store", "store", cfg.SessionStore, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("close session store", "error", err)
		}
	}()

	clientOpts := []upstream.Option{upstream.WithRateLimit(cfg.UpstreamRPS, cfg.UpstreamBurst)}
	if cfg.VendorBaseURL != "" {
		clientOpts = append(clientOpts, upstream.WithEndpoints(upstream.EndpointsAt(cfg.VendorBaseURL)))
	}
	client := upstream.New(cfg.UpstreamTimeout, clientOpts...)

	mgr := session.NewManager(store, client,
		session.WithTTL(cfg.SessionTTL),
		session.WithLogger(log),
	)
	if err := mgr.Restore(ctx); err != nil {
		log.Warn("restore session", "error", err)
	}

	met := metrics.New()
	sched := scheduler.New(mgr, cfg.RefreshInterval,
		scheduler.WithLogger(log),
		scheduler.WithObserver(func(err error) { met.ObserveRefresh(relay.RefreshOutcome(err)) }),
	)

	svc := relay.NewService(client, mgr,
		relay.WithRoutePrefix(cfg.RoutePrefix),
		relay.WithServiceLogger(log),
		relay.WithMetrics(met),
	)
	h := relay.NewHandler(svc, mgr, log, met)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetSessionState(int(mgr.State())) }).ServeHTTP(w, r)
	})
	r.Get("/healthz", h.Health)
	h.Mount(r, cfg.LoginRateLimit)

	addr := ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	sched.Start(ctx)

	log.Info("server starting",
		"port", cfg.Port,
		"route_prefix", cfg.RoutePrefix,
		"session_store", cfg.SessionStore,
		"session_state", mgr.State().String(),
		"refresh_interval", cfg.RefreshInterval.String(),
		"log_level", cfg.LogLevel,
	)

	<-ctx.Done()

	log.Info("shutdown signal received, draining connections")
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		return
	}

	log.Info("server stopped")
}
