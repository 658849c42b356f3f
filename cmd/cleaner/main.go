package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dcops-backend/internal/blob"
	"dcops-backend/internal/config"
	"dcops-backend/internal/logger"
	"dcops-backend/internal/retention"
	"dcops-backend/internal/storage"
)

// cleaner runs a single retention purge and prints the report. It only needs
// the database and the upload directory.
func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "optional YAML config file")
	days := flag.Int("days", 0, "purge uploads older than this many days (default RETENTION_DAYS)")
	dryRun := flag.Bool("dry-run", false, "report what would be purged without deleting")
	flag.Parse()

	log := logger.New()
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if *days <= 0 {
		*days = cfg.RetentionDays
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	store, err := storage.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()
	blobs, err := blob.NewFSStore(cfg.UploadDir)
	if err != nil {
		log.Error("failed to open upload dir", slog.String("error", err.Error()))
		os.Exit(1)
	}

	purger := &retention.Purger{Store: storage.NewRepository(store), Blobs: blobs, Logger: log}
	var report retention.Report
	if *dryRun {
		report, err = purger.DryRun(ctx, *days)
	} else {
		report, err = purger.Purge(ctx, *days)
	}
	if err != nil {
		log.Error("retention purge failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)
}
