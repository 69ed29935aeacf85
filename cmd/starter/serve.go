package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	cfhttp "github.com/devkade/hackathon-starter/internal/adapter/http"
	cfnats "github.com/devkade/hackathon-starter/internal/adapter/nats"
	"github.com/devkade/hackathon-starter/internal/adapter/natskv"
	cfotel "github.com/devkade/hackathon-starter/internal/adapter/otel"
	"github.com/devkade/hackathon-starter/internal/adapter/postgres"
	"github.com/devkade/hackathon-starter/internal/adapter/ristretto"
	"github.com/devkade/hackathon-starter/internal/adapter/sandboxapi"
	"github.com/devkade/hackathon-starter/internal/adapter/tiered"
	"github.com/devkade/hackathon-starter/internal/adapter/ws"
	"github.com/devkade/hackathon-starter/internal/config"
	"github.com/devkade/hackathon-starter/internal/logger"
	"github.com/devkade/hackathon-starter/internal/middleware"
	"github.com/devkade/hackathon-starter/internal/port/cache"
	"github.com/devkade/hackathon-starter/internal/port/messagequeue"
	"github.com/devkade/hackathon-starter/internal/resilience"
	"github.com/devkade/hackathon-starter/internal/service"
)

const (
	idempotencyBucket = "STARTER_IDEMPOTENCY"
	idempotencyTTL    = 10 * time.Minute
	rateLimitMaxIdle  = 10 * time.Minute
	jobTimeout        = 2 * time.Minute
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.LoadFrom(configPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}

			log, closeLog := logger.New(cfg.Logging)
			defer closeLog.Close()
			slog.SetDefault(log)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"pg_max_conns", cfg.Postgres.MaxConns,
		"sandbox_api", cfg.Sandbox.APIURL,
		"sandbox_timeout", cfg.Sandbox.Timeout,
	)

	// --- Infrastructure ---

	shutdownOTEL, err := cfotel.Init(ctx, cfg.OTEL, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()

	metrics, err := cfotel.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// PostgreSQL
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	// NATS (optional)
	var queue messagequeue.Publisher
	var natsQueue *cfnats.Queue
	if cfg.NATS.URL != "" {
		natsQueue, err = cfnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = natsQueue.Close() }()
		queue = natsQueue
		slog.Info("nats connected", "url", cfg.NATS.URL)
	}

	// Read cache for session logs, file trees and idempotent replays
	readCache, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer readCache.Close()

	// Replays are shared between replicas when NATS is available.
	var replayCache cache.Cache = readCache
	if natsQueue != nil {
		kv, err := natsQueue.KeyValue(ctx, idempotencyBucket, idempotencyTTL)
		if err != nil {
			return fmt.Errorf("idempotency bucket: %w", err)
		}
		replayCache = tiered.New(readCache, natskv.New(kv), idempotencyTTL)
	}

	// Sandbox provider
	provider := sandboxapi.NewClient(cfg.Sandbox.APIURL, cfg.Sandbox.APIKey)
	provider.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	// --- Services ---
	hub := ws.NewHub()
	defer hub.Close()

	store := postgres.NewStore(pool)

	convSvc := service.NewConversationService(store, provider, service.NewSessionConfig(cfg))
	convSvc.SetCache(readCache)
	convSvc.SetEvents(hub, queue)
	convSvc.SetMetrics(metrics)

	fileSvc := service.NewFileService(store, provider)
	fileSvc.SetCache(readCache, cfg.Cache.TTL)

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)

	// --- Housekeeping ---
	scheduler := service.NewScheduler(jobTimeout)
	if cfg.Reaper.Enabled {
		reaper := service.NewReaper(store, convSvc, cfg.Sandbox.Timeout+cfg.Reaper.Grace)
		if err := scheduler.Add("reaper", cfg.Reaper.Schedule, reaper.Run); err != nil {
			return fmt.Errorf("schedule reaper: %w", err)
		}
	}
	if err := scheduler.Add("ratelimit-cleanup", "@every 5m", func(context.Context) error {
		if n := limiter.Cleanup(rateLimitMaxIdle); n > 0 {
			slog.Debug("rate limiter buckets evicted", "count", n)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("schedule rate limit cleanup: %w", err)
	}
	scheduler.Start()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		scheduler.Stop(sctx)
	}()

	// --- HTTP ---
	handlers := &cfhttp.Handlers{
		Conversations: convSvc,
		Files:         fileSvc,
		MaxBodySize:   cfg.Server.MaxRequestBodySize,
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cfotel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(cfhttp.Logger)
	r.Use(cfhttp.SecurityHeaders)
	r.Use(cfhttp.CORS(cfg.Server.CORSOrigin))

	r.Get("/health", healthHandler(store, natsQueue))
	r.Get("/ws", hub.HandleWS)

	cfhttp.MountRoutes(r, handlers, cfg.Agent.CallbackToken, limiter,
		middleware.Idempotency(replayCache, idempotencyTTL))

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Submits wait for sandbox provisioning.
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler reports database reachability and NATS connectivity.
func healthHandler(db pinger, queue *cfnats.Queue) http.HandlerFunc {
	type healthStatus struct {
		Status   string `json:"status"`
		Postgres string `json:"postgres"`
		NATS     string `json:"nats"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := healthStatus{Status: "ok", Postgres: "ok", NATS: "disabled"}
		code := http.StatusOK
		if err := db.Ping(ctx); err != nil {
			status.Status = "degraded"
			status.Postgres = err.Error()
			code = http.StatusServiceUnavailable
		}
		if queue != nil {
			status.NATS = "ok"
			if !queue.IsConnected() {
				status.NATS = "disconnected"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	}
}
