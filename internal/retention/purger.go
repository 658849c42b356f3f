package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dcops-backend/internal/blob"
	"dcops-backend/internal/storage"
)

var ErrInvalidInput = errors.New("invalid input")

type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	UploadsCreatedBefore(ctx context.Context, cutoff time.Time) ([]storage.UploadFile, error)
	DeleteSamplesForUploads(ctx context.Context, uploadIDs []string) (int64, error)
	ClearAlertEvidence(ctx context.Context, uploadIDs []string) (int64, error)
	DeleteUploads(ctx context.Context, uploadIDs []string) (int64, error)
}

type Purger struct {
	Store  Store
	Blobs  blob.Store
	Logger *slog.Logger
	Now    func() time.Time
}

// Report summarises one purge run.
type Report struct {
	Cutoff           time.Time `json:"cutoff"`
	DryRun           bool      `json:"dry_run"`
	CandidateUploads int       `json:"candidate_uploads"`
	Uploads          int64     `json:"uploads_deleted"`
	Samples          int64     `json:"samples_deleted"`
	AlertsUnlinked   int64     `json:"alerts_unlinked"`
	FilesDeleted     int       `json:"files_deleted"`
	FileErrors       int       `json:"file_errors"`
}

func (p *Purger) cutoff(days int) (time.Time, error) {
	if days < 1 {
		return time.Time{}, fmt.Errorf("%w: retention days must be at least 1", ErrInvalidInput)
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	return now().UTC().Add(-time.Duration(days) * 24 * time.Hour), nil
}

// Purge removes uploads older than olderThanDays along with their samples,
// and unlinks alerts that cite them as evidence. Rows go in one transaction;
// the image files are removed afterwards and a failed file delete is only
// logged. Running it again with the same cutoff is a no-op.
func (p *Purger) Purge(ctx context.Context, olderThanDays int) (Report, error) {
	cutoff, err := p.cutoff(olderThanDays)
	if err != nil {
		return Report{}, err
	}
	report := Report{Cutoff: cutoff}
	var files []storage.UploadFile

	err = p.Store.InTx(ctx, func(ctx context.Context) error {
		var err error
		files, err = p.Store.UploadsCreatedBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("select expired uploads: %w", err)
		}
		report.CandidateUploads = len(files)
		if len(files) == 0 {
			return nil
		}
		ids := make([]string, 0, len(files))
		for _, f := range files {
			ids = append(ids, f.ID)
		}
		if report.Samples, err = p.Store.DeleteSamplesForUploads(ctx, ids); err != nil {
			return fmt.Errorf("delete samples: %w", err)
		}
		if report.AlertsUnlinked, err = p.Store.ClearAlertEvidence(ctx, ids); err != nil {
			return fmt.Errorf("clear alert evidence: %w", err)
		}
		if report.Uploads, err = p.Store.DeleteUploads(ctx, ids); err != nil {
			return fmt.Errorf("delete uploads: %w", err)
		}
		return nil
	})
	if err != nil {
		return Report{}, err
	}

	for _, f := range files {
		if f.FileHandle == "" {
			continue
		}
		if err := p.Blobs.Delete(ctx, f.FileHandle); err != nil {
			report.FileErrors++
			p.Logger.Warn("purge file delete failed",
				slog.String("upload_id", f.ID),
				slog.String("handle", f.FileHandle),
				slog.String("error", err.Error()))
			continue
		}
		report.FilesDeleted++
	}
	p.Logger.Info("retention purge finished",
		slog.Time("cutoff", cutoff),
		slog.Int64("uploads", report.Uploads),
		slog.Int64("samples", report.Samples),
		slog.Int("file_errors", report.FileErrors))
	return report, nil
}

// DryRun reports which uploads a purge would remove without changing anything.
func (p *Purger) DryRun(ctx context.Context, olderThanDays int) (Report, error) {
	cutoff, err := p.cutoff(olderThanDays)
	if err != nil {
		return Report{}, err
	}
	files, err := p.Store.UploadsCreatedBefore(ctx, cutoff)
	if err != nil {
		return Report{}, fmt.Errorf("select expired uploads: %w", err)
	}
	return Report{Cutoff: cutoff, DryRun: true, CandidateUploads: len(files)}, nil
}

// Schedule runs Purge every interval until ctx is cancelled.
func (p *Purger) Schedule(ctx context.Context, interval time.Duration, olderThanDays int) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := p.Purge(ctx, olderThanDays); err != nil {
				p.Logger.Error("scheduled retention purge failed", slog.String("error", err.Error()))
			}
		case <-ctx.Done():
			return
		}
	}
}
