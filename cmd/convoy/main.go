package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/skarsol/convoy/internal/adapter/cursor"
	"github.com/skarsol/convoy/internal/adapter/github"
	cvhttp "github.com/skarsol/convoy/internal/adapter/http"
	cvnats "github.com/skarsol/convoy/internal/adapter/nats"
	"github.com/skarsol/convoy/internal/adapter/otel"
	"github.com/skarsol/convoy/internal/adapter/postgres"
	"github.com/skarsol/convoy/internal/adapter/ristretto"
	"github.com/skarsol/convoy/internal/adapter/ws"
	"github.com/skarsol/convoy/internal/config"
	"github.com/skarsol/convoy/internal/logger"
	"github.com/skarsol/convoy/internal/port/agentclient"
	"github.com/skarsol/convoy/internal/port/gitsignal"
	"github.com/skarsol/convoy/internal/resilience"
	"github.com/skarsol/convoy/internal/service"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer closeLog.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"agent_base_url", cfg.Agent.BaseURL,
	)

	ctx := context.Background()

	// --- Telemetry ---
	var shutdownOtel otel.ShutdownFunc
	if cfg.Telemetry.Enabled {
		shutdownOtel, err = otel.Setup(ctx, cfg.Logging.Service, cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			return fmt.Errorf("otel: %w", err)
		}
	}

	// --- Infrastructure ---
	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	queue, err := cvnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Drain() }()

	prCache, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer prCache.Close()

	// --- Signal clients ---
	clients := service.NewClients()
	factory := service.ClientFactory{
		NewAgent: func(apiKey string) agentclient.Client {
			c := cursor.NewClient(cfg.Agent.BaseURL, apiKey, cfg.Agent.Timeout)
			c.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
			return c
		},
		NewGitHub: func(ctx context.Context, token string) (gitsignal.BranchClient, gitsignal.PullRequestClient, error) {
			c, err := github.NewClient(ctx, token, cfg.GitHub.BaseURL)
			if err != nil {
				return nil, nil, err
			}
			c.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
			c.SetCache(prCache, cfg.Cache.TTL)
			return c.Branches(), c.PullRequests(), nil
		},
	}

	// --- Services ---
	hub := ws.NewHub()
	store := postgres.NewStore(pool)
	overlay := service.NewOverlay(10 * time.Minute)

	reconcileSvc := service.NewReconcileService(store, queue, hub, clients, overlay, &cfg.Reconcile)
	scheduler := service.NewScheduler(reconcileSvc, store, &cfg.Reconcile)
	reconcileSvc.SetOnRunChanged(scheduler.EnsureRun)
	launchSvc := service.NewLaunchService(store, clients, reconcileSvc, &cfg.Reconcile)
	runSvc := service.NewRunService(store, clients, reconcileSvc, overlay)
	updateSvc := service.NewUpdateService(store, launchSvc, scheduler)
	repoSvc := service.NewRepoService(store, clients)
	settingsSvc := service.NewSettingsService(store, clients, factory)
	// Poll loops park themselves when a credential is missing; a settings
	// save brings them back.
	settingsSvc.SetOnRebuilt(func() {
		if err := scheduler.ResumeActive(ctx); err != nil {
			slog.Error("resume pollers after settings save", "error", err)
		}
	})
	webhookSvc := service.NewWebhookService(store, reconcileSvc)
	sweeper := service.NewSweeper(store, reconcileSvc, scheduler, &cfg.Reconcile)

	if cfg.Telemetry.Enabled {
		metrics, err := otel.NewMetrics()
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		reconcileSvc.SetMetrics(metrics)
		launchSvc.SetMetrics(metrics)
		runSvc.SetMetrics(metrics)
	}

	// Build clients from stored credentials before any polling starts.
	if err := settingsSvc.Bootstrap(ctx); err != nil {
		return fmt.Errorf("settings bootstrap: %w", err)
	}

	cancelWebhooks, err := webhookSvc.Subscribe(ctx, queue)
	if err != nil {
		return fmt.Errorf("webhook subscriber: %w", err)
	}
	defer cancelWebhooks()

	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	defer scheduler.Stop()

	if err := sweeper.Start(ctx); err != nil {
		return fmt.Errorf("sweeper: %w", err)
	}
	defer sweeper.Stop()

	// --- HTTP ---
	handlers := cvhttp.NewHandlers(updateSvc, repoSvc, runSvc, settingsSvc, queue, pool, version)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(cvhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(cvhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	if cfg.Telemetry.Enabled {
		r.Use(otel.HTTPMiddleware(cfg.Logging.Service))
	}

	cvhttp.MountRoutes(r, handlers, hub, settingsSvc.WebhookSecret)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if shutdownOtel != nil {
		if err := shutdownOtel(shutdownCtx); err != nil {
			slog.Error("otel shutdown", "error", err)
		}
	}
	return nil
}
