package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"dcops-backend/internal/alerting"
	"dcops-backend/internal/blob"
	"dcops-backend/internal/bus"
	"dcops-backend/internal/claim"
	"dcops-backend/internal/config"
	"dcops-backend/internal/crypto"
	"dcops-backend/internal/extraction"
	"dcops-backend/internal/inventory"
	"dcops-backend/internal/notify"
	"dcops-backend/internal/pipeline"
	"dcops-backend/internal/providers"
	"dcops-backend/internal/retention"
	"dcops-backend/internal/retry"
	"dcops-backend/internal/storage"
)

const pipelineSlack = 30 * time.Second

// App holds the components shared by the server and worker binaries.
type App struct {
	Config    config.Config
	Logger    *slog.Logger
	Store     *storage.Store
	Repo      *storage.Repository
	Blobs     blob.Store
	Inventory inventory.Directory
	Bus       *bus.Bus
	Claimer   claim.Claimer
	Providers *providers.Service
	Resolver  *extraction.Resolver
	Engine    *alerting.Engine
	Processor *pipeline.Processor
	Purger    *retention.Purger

	closers []func()
}

// Build connects to every configured backend. Optional backends (NATS,
// Valkey, SMTP) are skipped when their settings are empty.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if len(cfg.EncryptionKey) != 32 {
		return nil, errors.New("ENCRYPTION_KEY must be 32 bytes")
	}
	a := &App{Config: cfg, Logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	enc, err := crypto.NewAesGcmEncryptor([]byte(cfg.EncryptionKey))
	if err != nil {
		return nil, fmt.Errorf("init encryptor: %w", err)
	}
	store, err := storage.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)
	a.Repo = storage.NewRepository(store)

	blobs, err := blob.NewFSStore(cfg.UploadDir)
	if err != nil {
		return nil, err
	}
	a.Blobs = blobs

	inv := cfg.InventoryDB()
	dir, err := inventory.NewDirectory(inventory.ConnectionConfig{Type: inv.Type, DSN: inv.DSN})
	if err != nil {
		return nil, fmt.Errorf("open inventory: %w", err)
	}
	a.Inventory = dir
	a.closers = append(a.closers, func() { _ = dir.Close() })

	if cfg.NATSURL != "" {
		b, err := bus.Connect(cfg.NATSURL, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to nats: %w", err)
		}
		a.Bus = b
		a.closers = append(a.closers, b.Close)
	}

	if cfg.ValkeyAddr != "" {
		vc, err := claim.NewValkeyClaimer(cfg.ValkeyAddr, cfg.ValkeyPass)
		if err != nil {
			return nil, fmt.Errorf("connect to valkey: %w", err)
		}
		a.Claimer = vc
		a.closers = append(a.closers, vc.Close)
	} else {
		a.Claimer = claim.NewLocal()
	}

	a.Providers = &providers.Service{Store: a.Repo, Encryptor: enc}
	a.Resolver = &extraction.Resolver{
		Store: a.Providers,
		Defaults: extraction.Defaults{
			Provider: cfg.DefaultProvider,
			Providers: map[string]extraction.ProviderDefaults{
				extraction.ProviderOpenAI: {APIKey: cfg.OpenAI.APIKey, Model: cfg.OpenAI.Model, BaseURL: cfg.OpenAI.BaseURL},
				extraction.ProviderClaude: {APIKey: cfg.Anthropic.APIKey, Model: cfg.Anthropic.Model, BaseURL: cfg.Anthropic.BaseURL},
				extraction.ProviderGemini: {APIKey: cfg.Gemini.APIKey, Model: cfg.Gemini.Model, BaseURL: cfg.Gemini.BaseURL},
			},
		},
		HTTPClient: &http.Client{Timeout: cfg.ExtractionTimeout()},
		Retry:      retry.DefaultConfig(),
		Logger:     logger,
	}

	a.Engine = &alerting.Engine{
		Store:    a.Repo,
		Assets:   dir,
		Teams:    a.Repo,
		Notifier: a.notifier(),
		Logger:   logger,
	}

	var limiter *rate.Limiter
	if cfg.ExtractionRatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.ExtractionRatePerMinute)/60), 1)
	}
	a.Processor = &pipeline.Processor{
		Store:    a.Repo,
		Resolver: a.Resolver,
		Blobs:    blobs,
		Claimer:  a.Claimer,
		Limiter:  limiter,
		Timeout:  cfg.ExtractionTimeout(),
		Logger:   logger,
	}
	a.Purger = &retention.Purger{Store: a.Repo, Blobs: blobs, Logger: logger}

	ok = true
	return a, nil
}

func (a *App) notifier() notify.Notifier {
	var out notify.Fanout
	if a.Config.SMTP.Host != "" {
		s := a.Config.SMTP
		out = append(out, notify.NewSMTPNotifier(notify.SMTPConfig{Host: s.Host, Port: s.Port, User: s.User, Password: s.Password, From: s.From}))
	}
	if a.Bus != nil {
		out = append(out, &notify.BusNotifier{Publisher: a.Bus, Subject: bus.SubjectAlertNotification})
	}
	if len(out) == 0 {
		return notify.LogNotifier{Logger: a.Logger}
	}
	return out
}

// NewPool starts an extraction pool running the processor.
func (a *App) NewPool(onDone func(uploadID string, err error)) *pipeline.Pool {
	return pipeline.NewPool(pipeline.PoolConfig{
		Workers: a.Config.WorkerCount,
		// the processor bounds the provider call; this also covers the blob read and writes
		JobTimeout: a.Config.ExtractionTimeout() + pipelineSlack,
		Handler:    a.Processor.Process,
		OnDone:     onDone,
		Logger:     a.Logger,
	})
}

// HealthChecks lists a ping per configured backend.
func (a *App) HealthChecks() map[string]func(ctx context.Context) error {
	checks := map[string]func(ctx context.Context) error{
		"database":  a.Store.Ping,
		"inventory": a.Inventory.Ping,
	}
	if a.Bus != nil {
		checks["nats"] = func(ctx context.Context) error {
			if !a.Bus.Healthy() {
				return errors.New("disconnected")
			}
			return nil
		}
	}
	if vc, ok := a.Claimer.(*claim.ValkeyClaimer); ok {
		checks["valkey"] = vc.Ping
	}
	return checks
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
