package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dcops-backend/internal/app"
	"dcops-backend/internal/bus"
	"dcops-backend/internal/config"
	"dcops-backend/internal/logger"
	"dcops-backend/internal/pipeline"
)

const reconcileLimit = 500

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

	pool := a.NewPool(func(uploadID string, err error) {
		if err != nil {
			log.Error("extraction failed", slog.String("upload_id", uploadID), slog.String("error", err.Error()))
			return
		}
		log.Debug("extraction finished", slog.String("upload_id", uploadID))
	})
	defer pool.Stop()

	if a.Bus != nil {
		sub, err := a.Bus.SubscribeExtractionTasks(log, func(task bus.ExtractionTask) {
			if err := pool.EnqueueWait(ctx, task.UploadID); err != nil {
				log.Warn("extraction task not queued", slog.String("upload_id", task.UploadID), slog.String("error", err.Error()))
			}
		})
		if err != nil {
			log.Error("failed to subscribe to extraction tasks", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer func() { _ = sub.Drain() }()
	} else {
		log.Warn("NATS_URL not set, processing pending uploads found by reconcile only")
	}

	if _, err := reconcile(ctx, a, pool); err != nil {
		log.Error("reconcile error", slog.String("error", err.Error()))
	}

	go pipeline.ReconcileEvery(ctx, cfg.ReconcileInterval(), a.Repo, pool, reconcileLimit, log)
	go a.Purger.Schedule(ctx, cfg.RetentionInterval(), cfg.RetentionDays)
	go startAdminServer(ctx, cfg.AdminPort, a, pool, log)

	log.Info("dcops worker started", slog.Int("workers", cfg.WorkerCount))
	<-ctx.Done()
	log.Info("dcops worker stopping")
}

func reconcile(ctx context.Context, a *app.App, pool *pipeline.Pool) (int, error) {
	return pipeline.Reconcile(ctx, a.Repo, pool, reconcileLimit, a.Logger)
}

func startAdminServer(ctx context.Context, port string, a *app.App, pool *pipeline.Pool, logger *slog.Logger) {
	checks := a.HealthChecks()
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		checkCtx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		status := "ok"
		results := map[string]string{}
		for name, check := range checks {
			if err := check(checkCtx); err != nil {
				status = "degraded"
				results[name] = err.Error()
				continue
			}
			results[name] = "ok"
		}
		if status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"status": status, "checks": results})
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(pool.Stats())
	})
	mux.HandleFunc("/reconcile", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		reqCtx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
		defer cancel()
		n, err := reconcile(reqCtx, a, pool)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": err.Error()})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "queued": n})
	})

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       30 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	logger.Info("worker admin listening", slog.String("port", port))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("admin server error", slog.String("error", err.Error()))
	}
}
