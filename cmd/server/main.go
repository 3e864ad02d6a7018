package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"radio-reconciler/internal/platform/config"
	"radio-reconciler/internal/platform/logger"
	"radio-reconciler/internal/platform/metrics"
	"radio-reconciler/internal/reconciler"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	shutdownTimeout  = 10 * time.Second
	storeInitTimeout = 15 * time.Second
)

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	databaseURL := config.GetEnv("DATABASE_URL", "")
	baseURL := config.GetEnv("NOWPLAYING_BASE_URL", "http://localhost:8000")
	stationID := config.GetEnv("NOWPLAYING_STATION_ID", "1")
	apiKey := config.GetEnv("NOWPLAYING_API_KEY", "")
	triggerToken := config.GetEnv("RECONCILE_TOKEN", "")
	pollInterval := config.GetEnvDuration("POLL_INTERVAL", 30*time.Second)
	upstreamTimeout := config.GetEnvDuration("UPSTREAM_TIMEOUT", 10*time.Second)
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")

	log := logger.New(os.Stdout, logLevel, logFormat)

	if triggerToken == "" {
		log.Error("RECONCILE_TOKEN must be set")
		os.Exit(1)
	}

	var store reconciler.Store
	var pool *pgxpool.Pool
	if databaseURL != "" {
		var err error
		pool, store, err = openPostgres(databaseURL)
		if err != nil {
			log.Error("database init failed", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
	} else {
		log.Warn("DATABASE_URL not set, using in-memory store")
		store = reconciler.NewInMemoryStore()
	}

	client := reconciler.NewHTTPNowPlayingClient(baseURL, stationID, apiKey, upstreamTimeout)
	rec := reconciler.NewReconciler(client, store, log)
	met := metrics.New()
	h := reconciler.NewHandler(rec, store, log, met, triggerToken)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/healthz", h.Health)
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		met.Handler(func() {
			if n, err := store.OpenSessionCount(req.Context()); err == nil {
				met.SetLiveSessions(n)
			}
		}).ServeHTTP(w, req)
	})
	r.Post("/reconcile", h.TriggerReconcile)
	r.Get("/live", h.CurrentLive)
	r.Get("/users/{user_id}/sessions", h.SessionHistory)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	rootCtx, stopPolling := context.WithCancel(context.Background())
	if pollInterval > 0 {
		go pollLoop(rootCtx, rec, met, log, pollInterval)
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"poll_interval", pollInterval.String(),
		"station_id", stationID,
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")
	stopPolling()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}

// openPostgres connects, pings, and bootstraps the schema.
func openPostgres(databaseURL string) (*pgxpool.Pool, reconciler.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), storeInitTimeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := reconciler.RunMigration(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pool, reconciler.NewPostgresStore(pool), nil
}

// pollLoop invokes the reconciler on a fixed cadence until ctx is cancelled.
// The reconciler itself stays request-scoped; this is just the trigger.
func pollLoop(ctx context.Context, rec *reconciler.Reconciler, met *metrics.Metrics, log *slog.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, interval)
			result, err := rec.Reconcile(runCtx)
			cancel()
			reconciler.RecordMetrics(met, result, err)
			if err != nil {
				log.Error("scheduled reconciliation failed", "error", err.Error())
			}
		}
	}
}
