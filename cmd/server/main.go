package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"dcops-backend/internal/alerting"
	"dcops-backend/internal/api"
	"dcops-backend/internal/app"
	"dcops-backend/internal/auth"
	"dcops-backend/internal/config"
	"dcops-backend/internal/confirm"
	"dcops-backend/internal/logger"
	"dcops-backend/internal/pipeline"
	"dcops-backend/internal/uploads"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "optional YAML config file")
	flag.Parse()

	log := logger.New()
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer a.Close()

	// Without NATS the server runs extraction itself.
	var dispatcher pipeline.Dispatcher
	if a.Bus != nil {
		dispatcher = &pipeline.BusDispatcher{Publisher: a.Bus}
	} else {
		pool := a.NewPool(nil)
		defer pool.Stop()
		dispatcher = pool
		if n, err := pipeline.Reconcile(ctx, a.Repo, pool, 500, log); err != nil {
			log.Error("reconcile error", slog.String("error", err.Error()))
		} else if n > 0 {
			log.Info("re-dispatched pending uploads", slog.Int("count", n))
		}
		// uploads accepted while the queue was full stay pending until here
		go pipeline.ReconcileEvery(ctx, cfg.ReconcileInterval(), a.Repo, pool, 500, log)
	}

	var publisher confirm.Publisher
	if a.Bus != nil {
		publisher = a.Bus
	}
	uploadLimiter := api.NewRateLimiter(cfg.UploadsPerMin, 5)
	go uploadLimiter.Sweep(ctx, 5*time.Minute)

	health := map[string]api.HealthCheck{}
	for name, check := range a.HealthChecks() {
		health[name] = check
	}

	handler := &api.Handler{
		Uploads: &uploads.Service{
			Store:      a.Repo,
			Blobs:      a.Blobs,
			Dispatcher: dispatcher,
			MaxBytes:   cfg.MaxUploadBytes,
			Logger:     log,
		},
		Confirm: &confirm.Service{
			Store:     a.Repo,
			Assets:    a.Inventory,
			Alerts:    a.Engine,
			Publisher: publisher,
			Logger:    log,
		},
		Alerts:         &alerting.Service{Store: a.Repo},
		Catalog:        a.Repo,
		Providers:      a.Providers,
		Retention:      a.Purger,
		Auth:           auth.NewVerifier(cfg.JWTSecret),
		UploadLimiter:  uploadLimiter,
		Health:         health,
		MaxUploadBytes: cfg.MaxUploadBytes,
		RetentionDays:  cfg.RetentionDays,
		Timeout:        10 * time.Second,
		Logger:         log,
	}
	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET not set, trusting X-User-ID and X-User-Role headers")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("dcops api listening", slog.String("port", cfg.Port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", slog.String("error", err.Error()))
	}
}
