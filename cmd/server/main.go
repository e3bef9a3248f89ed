package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"playback-orchestrator/internal/fetch"
	"playback-orchestrator/internal/host/headless"
	"playback-orchestrator/internal/keysystem"
	"playback-orchestrator/internal/license"
	"playback-orchestrator/internal/media"
	"playback-orchestrator/internal/platform/config"
	"playback-orchestrator/internal/platform/logger"
	"playback-orchestrator/internal/platform/metrics"
	"playback-orchestrator/internal/platform/tracing"
	"playback-orchestrator/internal/playback"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const serviceName = "playback-orchestrator"

func main() {
	_ = config.Load()
	cfg := config.FromEnv()

	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	tp, err := tracing.NewProvider(context.Background(), tracing.Config{
		Enabled:     cfg.TracingEnabled,
		ServiceName: serviceName,
		Endpoint:    cfg.TracingEndpoint,
	})
	if err != nil {
		log.Error("init tracing", "error", err)
		os.Exit(1)
	}

	catalog, err := media.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		log.Error("load catalog", "path", cfg.CatalogPath, "error", err)
		os.Exit(1)
	}

	met := metrics.New()
	client := tracing.Client()
	fetcher := fetch.NewHTTPFetcher(client, cfg.FetchMaxTries)
	cache := fetch.NewCache(catalog, fetcher, cfg.FetchTimeout, log, met)
	transport := license.NewTransport(client, cfg.LicenseMaxTries, cfg.LicenseTimeout, log)

	host := headless.New(headless.Config{KeySystems: cfg.HostKeySystems}, log)
	negotiator := keysystem.NewNegotiator(host, cfg.NegotiationTimeout, log, met)
	ctrl := playback.NewController(host, catalog, cache, negotiator, transport, log, met)

	repo := playback.NewInMemoryRepository()
	svc := playback.NewService(ctrl, repo, catalog, cache, transport, log)
	h := playback.NewHandler(svc, log, cfg.LicenseRateLimit)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(tracing.Middleware(serviceName))
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActiveSessions(svc.ActiveSessionCount()) }).ServeHTTP(w, r)
	})
	h.Routes(r)

	addr := ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", cfg.Port,
		"log_level", cfg.LogLevel,
		"catalog_entries", len(catalog.IDs()),
		"key_systems", cfg.HostKeySystems,
	)

	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()
	if cfg.PrefetchOnStart {
		go func() {
			if err := svc.Prefetch(bgCtx, catalog.IDs()); err != nil {
				log.Warn("prefetch failed", slog.String("error", err.Error()))
				return
			}
			log.Info("catalog prefetched")
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")
	cancelBg()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}
	svc.Shutdown()
	if err := tp.Shutdown(ctx); err != nil {
		log.Warn("tracing shutdown", "error", err)
	}

	log.Info("server stopped")
}
