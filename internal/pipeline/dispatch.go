package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dcops-backend/internal/bus"
)

// Dispatcher schedules extraction for an upload without waiting for it.
type Dispatcher interface {
	Enqueue(ctx context.Context, uploadID string) error
}

type Publisher interface {
	Publish(subject string, payload any) error
}

// BusDispatcher hands tasks to the worker queue group over NATS.
type BusDispatcher struct {
	Publisher Publisher
}

func (d *BusDispatcher) Enqueue(ctx context.Context, uploadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.Publisher.Publish(bus.SubjectExtractionRequested, bus.ExtractionTask{UploadID: uploadID}); err != nil {
		return fmt.Errorf("publish extraction task: %w", err)
	}
	return nil
}

type PendingLister interface {
	ListPendingUploadIDs(ctx context.Context, limit int) ([]string, error)
}

// Reconcile re-dispatches uploads still pending, oldest first, so tasks lost
// in a restart are picked up again. It returns how many were dispatched.
func Reconcile(ctx context.Context, store PendingLister, d Dispatcher, limit int, logger *slog.Logger) (int, error) {
	ids, err := store.ListPendingUploadIDs(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list pending uploads: %w", err)
	}
	count := 0
	for _, id := range ids {
		err := d.Enqueue(ctx, id)
		if errors.Is(err, ErrQueueFull) {
			logger.Info("extraction queue full, deferring pending uploads", slog.Int("remaining", len(ids)-count))
			break
		}
		if err != nil {
			logger.Warn("re-dispatch pending upload", slog.String("upload_id", id), slog.String("error", err.Error()))
			continue
		}
		count++
	}
	return count, nil
}

// ReconcileEvery runs Reconcile on a ticker until ctx is done. Uploads left
// pending by a full queue are picked up on the next tick.
func ReconcileEvery(ctx context.Context, interval time.Duration, store PendingLister, d Dispatcher, limit int, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := Reconcile(ctx, store, d, limit, logger)
			if err != nil {
				logger.Error("reconcile error", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				logger.Info("re-dispatched pending uploads", slog.Int("count", n))
			}
		}
	}
}
