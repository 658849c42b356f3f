package uploads

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"dcops-backend/internal/blob"
	"dcops-backend/internal/models"
	"dcops-backend/internal/pipeline"
	"dcops-backend/internal/storage"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrTooLarge         = errors.New("file too large")
	ErrUnsupportedMedia = errors.New("unsupported media type")
	ErrNotFound         = errors.New("upload not found")
)

type Store interface {
	CreateUpload(ctx context.Context, rec models.MonitoringUpload) (models.MonitoringUpload, error)
	GetUpload(ctx context.Context, id string) (models.MonitoringUpload, error)
	ListUploads(ctx context.Context, filter storage.UploadFilter) ([]models.MonitoringUpload, error)
	MarkUploadFailed(ctx context.Context, id, message string) error
}

type Service struct {
	Store      Store
	Blobs      blob.Store
	Dispatcher pipeline.Dispatcher
	MaxBytes   int64
	Logger     *slog.Logger
}

type SubmitInput struct {
	FileName       string
	MimeType       string
	Data           []byte
	DeviceID       *string
	VMID           *string
	LocationID     *string
	CaptureTime    *time.Time
	DashboardLabel *string
	UploadedBy     string
}

// Submit stores the screenshot, records a pending upload and schedules
// extraction. It returns as soon as the task is queued.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (models.MonitoringUpload, error) {
	if len(in.Data) == 0 {
		return models.MonitoringUpload{}, fmt.Errorf("%w: file is empty", ErrInvalidInput)
	}
	if s.MaxBytes > 0 && int64(len(in.Data)) > s.MaxBytes {
		return models.MonitoringUpload{}, ErrTooLarge
	}
	if in.UploadedBy == "" {
		return models.MonitoringUpload{}, fmt.Errorf("%w: uploader is required", ErrInvalidInput)
	}
	mimeType := strings.TrimSpace(in.MimeType)
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(in.Data)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return models.MonitoringUpload{}, fmt.Errorf("%w: %s", ErrUnsupportedMedia, mimeType)
	}
	name := filepath.Base(strings.TrimSpace(in.FileName))
	if name == "." || name == "/" {
		name = ""
	}

	handle, err := s.Blobs.Save(ctx, in.Data, filepath.Ext(name))
	if err != nil {
		return models.MonitoringUpload{}, fmt.Errorf("save image: %w", err)
	}
	created, err := s.Store.CreateUpload(ctx, models.MonitoringUpload{
		DeviceID:       emptyToNil(in.DeviceID),
		VMID:           emptyToNil(in.VMID),
		LocationID:     emptyToNil(in.LocationID),
		FileHandle:     handle,
		FileName:       name,
		MimeType:       mimeType,
		UploadedBy:     in.UploadedBy,
		CaptureTime:    in.CaptureTime,
		DashboardLabel: emptyToNil(in.DashboardLabel),
		ParseStatus:    models.ParseStatusPending,
	})
	if err != nil {
		if delErr := s.Blobs.Delete(context.Background(), handle); delErr != nil {
			s.Logger.Warn("remove orphaned image", slog.String("handle", handle), slog.String("error", delErr.Error()))
		}
		return models.MonitoringUpload{}, fmt.Errorf("create upload: %w", err)
	}

	err = s.Dispatcher.Enqueue(ctx, created.ID)
	if errors.Is(err, pipeline.ErrQueueFull) {
		s.Logger.Warn("extraction queue full, upload left pending", slog.String("upload_id", created.ID))
		return created, nil
	}
	if err != nil {
		msg := "could not schedule extraction: " + err.Error()
		s.Logger.Error("dispatch extraction", slog.String("upload_id", created.ID), slog.String("error", err.Error()))
		if markErr := s.Store.MarkUploadFailed(context.Background(), created.ID, msg); markErr != nil {
			s.Logger.Error("mark upload failed", slog.String("upload_id", created.ID), slog.String("error", markErr.Error()))
		} else {
			created.ParseStatus = models.ParseStatusError
			created.ParseError = &msg
		}
	}
	return created, nil
}

func (s *Service) List(ctx context.Context, filter storage.UploadFilter) ([]models.MonitoringUpload, error) {
	return s.Store.ListUploads(ctx, filter)
}

func (s *Service) Get(ctx context.Context, id string) (models.MonitoringUpload, error) {
	upload, err := s.Store.GetUpload(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return models.MonitoringUpload{}, ErrNotFound
	}
	return upload, err
}

// OpenFile returns the upload together with its original image bytes.
func (s *Service) OpenFile(ctx context.Context, id string) (models.MonitoringUpload, []byte, error) {
	upload, err := s.Get(ctx, id)
	if err != nil {
		return models.MonitoringUpload{}, nil, err
	}
	data, err := s.Blobs.Read(ctx, upload.FileHandle)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return models.MonitoringUpload{}, nil, ErrNotFound
		}
		return models.MonitoringUpload{}, nil, err
	}
	return upload, data, nil
}

func emptyToNil(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
