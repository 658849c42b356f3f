package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"dcops-backend/internal/blob"
	"dcops-backend/internal/claim"
	"dcops-backend/internal/extraction"
	"dcops-backend/internal/models"
	"dcops-backend/internal/storage"
)

type Store interface {
	GetUpload(ctx context.Context, id string) (models.MonitoringUpload, error)
	ApplyExtraction(ctx context.Context, id string, upd storage.ExtractionUpdate) (bool, error)
	MarkUploadFailed(ctx context.Context, id, message string) error
}

type Resolver interface {
	Resolve(ctx context.Context) (extraction.Extractor, error)
}

// Processor runs extraction for one upload at a time and records the outcome
// on the upload row. It never holds a database transaction while a provider
// call is in flight.
type Processor struct {
	Store    Store
	Resolver Resolver
	Blobs    blob.Store
	Claimer  claim.Claimer
	Limiter  *rate.Limiter
	Timeout  time.Duration
	Logger   *slog.Logger
}

const claimSlack = 30 * time.Second

func claimKey(uploadID string) string {
	return "extraction:" + uploadID
}

// Process extracts metrics for uploadID. Missing uploads and uploads that are
// no longer pending are skipped. Any failure after the upload was found,
// including a panic, leaves it in parse_status=error.
func (p *Processor) Process(ctx context.Context, uploadID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extraction panicked: %v", r)
		}
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			p.fail(uploadID, err)
		}
	}()

	upload, err := p.Store.GetUpload(ctx, uploadID)
	if errors.Is(err, storage.ErrNotFound) {
		p.Logger.Debug("upload gone before extraction", slog.String("upload_id", uploadID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load upload: %w", err)
	}
	if upload.ParseStatus != models.ParseStatusPending {
		return nil
	}

	if p.Claimer != nil {
		claimed, err := p.Claimer.Claim(ctx, claimKey(uploadID), p.Timeout+claimSlack)
		switch {
		case err != nil:
			// The pending-only update still guards against double writes.
			p.Logger.Warn("extraction claim unavailable", slog.String("upload_id", uploadID), slog.String("error", err.Error()))
		case !claimed:
			p.Logger.Debug("extraction already claimed", slog.String("upload_id", uploadID))
			return nil
		default:
			defer func() {
				if err := p.Claimer.Release(context.Background(), claimKey(uploadID)); err != nil {
					p.Logger.Warn("release extraction claim", slog.String("upload_id", uploadID), slog.String("error", err.Error()))
				}
			}()
		}
	}

	result, err := p.extract(ctx, upload)
	if err != nil {
		return err
	}

	upd := storage.ExtractionUpdate{
		RawText:     result.RawText,
		Metrics:     result.Metrics,
		Confidence:  result.Confidence,
		Status:      models.ParseStatusReady,
		CaptureTime: result.CaptureTime,
	}
	if !result.OK() {
		msg := extraction.Sanitize(result.Error)
		upd.Status = models.ParseStatusError
		upd.Error = &msg
	}
	applied, err := p.Store.ApplyExtraction(ctx, uploadID, upd)
	if err != nil {
		return fmt.Errorf("store extraction: %w", err)
	}
	if !applied {
		p.Logger.Info("upload left pending state during extraction", slog.String("upload_id", uploadID))
		return nil
	}
	p.Logger.Info("extraction finished",
		slog.String("upload_id", uploadID),
		slog.String("status", string(upd.Status)),
		slog.Int("metrics", len(result.Metrics)))
	return nil
}

func (p *Processor) extract(ctx context.Context, upload models.MonitoringUpload) (extraction.Result, error) {
	extractor, err := p.Resolver.Resolve(ctx)
	if err != nil {
		var cfgErr *extraction.ConfigurationError
		if errors.As(err, &cfgErr) {
			return extraction.ErrorResult(cfgErr.Message), nil
		}
		return extraction.ErrorResult(err.Error()), nil
	}
	data, err := p.Blobs.Read(ctx, upload.FileHandle)
	if err != nil {
		return extraction.Result{}, fmt.Errorf("read image: %w", err)
	}
	if p.Limiter != nil {
		if err := p.Limiter.Wait(ctx); err != nil {
			return extraction.ErrorResult("extraction rate limit wait aborted: " + err.Error()), nil
		}
	}
	callCtx := ctx
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	name := upload.FileName
	if name == "" {
		name = filepath.Base(upload.FileHandle)
	}
	return extractor.Extract(callCtx, extraction.Image{Name: name, MimeType: upload.MimeType, Data: data}), nil
}

func (p *Processor) fail(uploadID string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg := extraction.Sanitize(cause.Error())
	p.Logger.Error("extraction failed", slog.String("upload_id", uploadID), slog.String("error", msg))
	if err := p.Store.MarkUploadFailed(ctx, uploadID, msg); err != nil {
		p.Logger.Error("mark upload failed", slog.String("upload_id", uploadID), slog.String("error", err.Error()))
	}
}
