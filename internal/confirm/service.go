package confirm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"dcops-backend/internal/alerting"
	"dcops-backend/internal/bus"
	"dcops-backend/internal/models"
	"dcops-backend/internal/storage"
)

var (
	ErrNotFound = errors.New("upload not found")
	ErrConflict = errors.New("upload already confirmed")
)

type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	LockUpload(ctx context.Context, id string) (models.MonitoringUpload, error)
	CreateSample(ctx context.Context, rec models.MetricSample) (models.MetricSample, error)
	MarkUploadConfirmed(ctx context.Context, id string) error
}

// Assets resolves an IP address to a known VM or device. Lookups that find
// nothing return (nil, nil).
type Assets interface {
	DeviceByIP(ctx context.Context, ip string) (*models.Device, error)
	VMByIP(ctx context.Context, ip string) (*models.VM, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, s alerting.Sample) (alerting.Outcome, error)
	Notify(ctx context.Context, notes []alerting.Notification)
}

type Publisher interface {
	Publish(subject string, payload any) error
}

type Service struct {
	Store     Store
	Assets    Assets
	Alerts    Evaluator
	Publisher Publisher
	Logger    *slog.Logger
	Now       func() time.Time
}

// Result counts what a confirmation did with each row.
type Result struct {
	UploadID        string `json:"upload_id"`
	SamplesCreated  int    `json:"samples_created"`
	SkippedNoKey    int    `json:"skipped_no_key"`
	SkippedNoValue  int    `json:"skipped_no_value"`
	Unresolved      int    `json:"unresolved"`
	AlertsOpened    int    `json:"alerts_opened"`
	AlertsRefreshed int    `json:"alerts_refreshed"`
}

type confirmedEvent struct {
	UploadID       string `json:"upload_id"`
	SamplesCreated int    `json:"samples_created"`
	AlertsOpened   int    `json:"alerts_opened"`
}

// Confirm turns an upload's metric rows into samples and evaluates each one
// against the alert rules, all in one transaction. edits replaces the stored
// rows when non-nil. Rows without a key, without a resolvable asset or
// without a value are skipped and counted.
func (s *Service) Confirm(ctx context.Context, uploadID string, edits []models.MetricRow, captureTime *time.Time) (Result, error) {
	res := Result{UploadID: uploadID}
	var notes []alerting.Notification

	err := s.Store.InTx(ctx, func(ctx context.Context) error {
		upload, err := s.Store.LockUpload(ctx, uploadID)
		if err != nil {
			return err
		}
		if upload.ParseStatus == models.ParseStatusOK {
			return ErrConflict
		}
		rows := upload.ExtractedMetrics
		if edits != nil {
			rows = edits
		}
		capturedAt := s.now()
		if captureTime != nil {
			capturedAt = *captureTime
		} else if upload.CaptureTime != nil {
			capturedAt = *upload.CaptureTime
		}

		for i, row := range rows {
			key := strings.TrimSpace(row.Key)
			if key == "" {
				res.SkippedNoKey++
				continue
			}
			asset, err := s.resolveAsset(ctx, upload, row)
			if err != nil {
				return fmt.Errorf("row %d: %w", i, err)
			}
			if asset.IsZero() {
				res.Unresolved++
				s.Logger.Info("metric row has no known asset",
					slog.String("upload_id", uploadID),
					slog.String("metric_key", key),
					slog.String("ip_address", deref(row.IPAddress)))
				continue
			}
			if row.Value == nil {
				res.SkippedNoValue++
				continue
			}
			sample, err := s.Store.CreateSample(ctx, models.MetricSample{
				DeviceID:       asset.DeviceID,
				VMID:           asset.VMID,
				CapturedAt:     capturedAt,
				MetricKey:      key,
				Value:          *row.Value,
				Unit:           row.Unit,
				SourceUploadID: &upload.ID,
				Confidence:     row.Confidence,
			})
			if err != nil {
				return fmt.Errorf("store sample %s: %w", key, err)
			}
			res.SamplesCreated++
			outcome, err := s.Alerts.Evaluate(ctx, alerting.Sample{
				Asset:          asset,
				MetricKey:      sample.MetricKey,
				Value:          sample.Value,
				SourceUploadID: &upload.ID,
			})
			if err != nil {
				return fmt.Errorf("evaluate %s: %w", key, err)
			}
			res.AlertsOpened += len(outcome.Created)
			res.AlertsRefreshed += len(outcome.Refreshed)
			notes = append(notes, outcome.Notifications...)
		}
		return s.Store.MarkUploadConfirmed(ctx, uploadID)
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return Result{}, ErrNotFound
		case errors.Is(err, ErrConflict):
			return Result{}, err
		}
		return Result{}, fmt.Errorf("confirm upload %s: %w", uploadID, err)
	}

	s.Alerts.Notify(ctx, notes)
	if s.Publisher != nil {
		evt := confirmedEvent{UploadID: uploadID, SamplesCreated: res.SamplesCreated, AlertsOpened: res.AlertsOpened}
		if err := s.Publisher.Publish(bus.SubjectUploadConfirmed, evt); err != nil {
			s.Logger.Warn("publish upload confirmed", slog.String("upload_id", uploadID), slog.String("error", err.Error()))
		}
	}
	s.Logger.Info("upload confirmed",
		slog.String("upload_id", uploadID),
		slog.Int("samples", res.SamplesCreated),
		slog.Int("unresolved", res.Unresolved),
		slog.Int("alerts_opened", res.AlertsOpened))
	return res, nil
}

// resolveAsset prefers the row's own refs, then the upload's, and finally
// looks the row's IP up as a VM before trying devices.
func (s *Service) resolveAsset(ctx context.Context, upload models.MonitoringUpload, row models.MetricRow) (models.AssetRef, error) {
	asset := models.AssetRef{DeviceID: firstSet(row.DeviceID, upload.DeviceID), VMID: firstSet(row.VMID, upload.VMID)}
	if !asset.IsZero() {
		return asset, nil
	}
	ip := strings.TrimSpace(deref(row.IPAddress))
	if ip == "" || s.Assets == nil {
		return asset, nil
	}
	vm, err := s.Assets.VMByIP(ctx, ip)
	if err != nil {
		return asset, fmt.Errorf("look up vm by ip: %w", err)
	}
	if vm != nil {
		id := vm.ID
		return models.AssetRef{VMID: &id}, nil
	}
	device, err := s.Assets.DeviceByIP(ctx, ip)
	if err != nil {
		return asset, fmt.Errorf("look up device by ip: %w", err)
	}
	if device != nil {
		id := device.ID
		return models.AssetRef{DeviceID: &id}, nil
	}
	return asset, nil
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func firstSet(values ...*string) *string {
	for _, v := range values {
		if v != nil && strings.TrimSpace(*v) != "" {
			return v
		}
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
