package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dcops-backend/internal/logger"
)

func main() {
	log := logger.New()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	dir := os.Getenv("MIGRATIONS_DIR")
	if dir == "" {
		dir = "migrations"
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		log.Error("failed to connect", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		name text PRIMARY KEY,
		applied_at timestamptz NOT NULL DEFAULT now()
	)`); err != nil {
		log.Error("failed to ensure schema_migrations", slog.String("error", err.Error()))
		os.Exit(1)
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		log.Error("failed to list migrations", slog.String("error", err.Error()))
		os.Exit(1)
	}
	sort.Strings(files)
	for _, file := range files {
		name := filepath.Base(file)
		var applied bool
		if err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name=$1)`, name).Scan(&applied); err != nil {
			log.Error("failed to check migration", slog.String("file", name), slog.String("error", err.Error()))
			os.Exit(1)
		}
		if applied {
			continue
		}
		content, err := os.ReadFile(file)
		if err != nil {
			log.Error("failed to read migration", slog.String("file", name), slog.String("error", err.Error()))
			os.Exit(1)
		}
		err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(content)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name)
			return err
		})
		if err != nil {
			log.Error("failed to apply migration", slog.String("file", name), slog.String("error", err.Error()))
			os.Exit(1)
		}
		log.Info("applied migration", slog.String("file", name))
	}
}
