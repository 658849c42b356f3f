package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"dcops-backend/internal/claim"
	"dcops-backend/internal/extraction"
	"dcops-backend/internal/models"
	"dcops-backend/internal/storage"
)

type fakeStore struct {
	mu      sync.Mutex
	uploads map[string]models.MonitoringUpload
	applied map[string]storage.ExtractionUpdate
	failed  map[string]string
}

func newFakeStore(uploads ...models.MonitoringUpload) *fakeStore {
	s := &fakeStore{uploads: map[string]models.MonitoringUpload{}, applied: map[string]storage.ExtractionUpdate{}, failed: map[string]string{}}
	for _, u := range uploads {
		s.uploads[u.ID] = u
	}
	return s
}

func (s *fakeStore) GetUpload(ctx context.Context, id string) (models.MonitoringUpload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.uploads[id]
	if !ok {
		return models.MonitoringUpload{}, storage.ErrNotFound
	}
	return u, nil
}

func (s *fakeStore) ApplyExtraction(ctx context.Context, id string, upd storage.ExtractionUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.uploads[id]
	if !ok || u.ParseStatus != models.ParseStatusPending {
		return false, nil
	}
	u.ParseStatus = upd.Status
	if u.CaptureTime == nil {
		u.CaptureTime = upd.CaptureTime
	}
	s.uploads[id] = u
	s.applied[id] = upd
	return true, nil
}

func (s *fakeStore) MarkUploadFailed(ctx context.Context, id, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.uploads[id]
	if !ok || u.ParseStatus != models.ParseStatusPending {
		return nil
	}
	u.ParseStatus = models.ParseStatusError
	s.uploads[id] = u
	s.failed[id] = message
	return nil
}

type fakeResolver struct {
	extractor extraction.Extractor
	err       error
}

func (r fakeResolver) Resolve(ctx context.Context) (extraction.Extractor, error) {
	return r.extractor, r.err
}

type fakeExtractor struct {
	result extraction.Result
	panics bool
	calls  int
	seen   extraction.Image
}

func (f *fakeExtractor) Name() string { return "fake" }

func (f *fakeExtractor) Extract(ctx context.Context, img extraction.Image) extraction.Result {
	f.calls++
	f.seen = img
	if f.panics {
		panic("provider exploded")
	}
	return f.result
}

type memBlobs map[string][]byte

func (m memBlobs) Save(ctx context.Context, data []byte, ext string) (string, error) {
	return "", errors.New("not used")
}

func (m memBlobs) Read(ctx context.Context, handle string) ([]byte, error) {
	data, ok := m[handle]
	if !ok {
		return nil, errors.New("no such blob")
	}
	return data, nil
}

func (m memBlobs) Delete(ctx context.Context, handle string) error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pendingUpload(id string) models.MonitoringUpload {
	return models.MonitoringUpload{ID: id, FileHandle: id + ".png", FileName: "grafana.png", MimeType: "image/png", ParseStatus: models.ParseStatusPending}
}

func newProcessor(store *fakeStore, resolver Resolver) *Processor {
	return &Processor{
		Store:    store,
		Resolver: resolver,
		Blobs:    memBlobs{"u1.png": []byte("png-bytes")},
		Claimer:  claim.NewLocal(),
		Timeout:  time.Second,
		Logger:   discardLogger(),
	}
}

func TestProcessStoresReadyResult(t *testing.T) {
	store := newFakeStore(pendingUpload("u1"))
	captured := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ext := &fakeExtractor{result: extraction.Result{
		Status:      extraction.StatusOK,
		RawText:     "CPU 93%",
		Confidence:  0.8,
		CaptureTime: &captured,
		Metrics:     []models.MetricRow{{Key: "cpu_util", Value: models.Float64Ptr(93)}},
	}}
	p := newProcessor(store, fakeResolver{extractor: ext})

	if err := p.Process(context.Background(), "u1"); err != nil {
		t.Fatalf("process: %v", err)
	}
	upd := store.applied["u1"]
	if upd.Status != models.ParseStatusReady || upd.Error != nil || len(upd.Metrics) != 1 {
		t.Fatalf("unexpected update %+v", upd)
	}
	if string(ext.seen.Data) != "png-bytes" || ext.seen.MimeType != "image/png" {
		t.Fatalf("extractor got wrong image %+v", ext.seen)
	}
	if got := store.uploads["u1"].CaptureTime; got == nil || !got.Equal(captured) {
		t.Fatalf("expected capture time to be adopted, got %v", got)
	}
}

func TestProcessConfigurationErrorEndsInError(t *testing.T) {
	store := newFakeStore(pendingUpload("u1"))
	p := newProcessor(store, fakeResolver{err: &extraction.ConfigurationError{Message: "Missing API key for openai"}})

	if err := p.Process(context.Background(), "u1"); err != nil {
		t.Fatalf("process: %v", err)
	}
	upd := store.applied["u1"]
	if upd.Status != models.ParseStatusError || upd.Error == nil || *upd.Error != "Missing API key for openai" {
		t.Fatalf("unexpected update %+v", upd)
	}
	if len(upd.Metrics) != 0 {
		t.Fatalf("expected no metrics")
	}
}

func TestProcessProviderErrorIsSanitized(t *testing.T) {
	store := newFakeStore(pendingUpload("u1"))
	ext := &fakeExtractor{result: extraction.Result{Status: extraction.StatusError, Error: "Incorrect API key provided: sk-abcdefghijklmnop1234"}}
	p := newProcessor(store, fakeResolver{extractor: ext})

	if err := p.Process(context.Background(), "u1"); err != nil {
		t.Fatalf("process: %v", err)
	}
	upd := store.applied["u1"]
	if upd.Status != models.ParseStatusError || upd.Error == nil {
		t.Fatalf("unexpected update %+v", upd)
	}
	if got := *upd.Error; got == ext.result.Error || len(got) == 0 {
		t.Fatalf("expected sanitized error, got %q", got)
	}
}

func TestProcessPanicEndsInError(t *testing.T) {
	store := newFakeStore(pendingUpload("u1"))
	p := newProcessor(store, fakeResolver{extractor: &fakeExtractor{panics: true}})

	if err := p.Process(context.Background(), "u1"); err == nil {
		t.Fatalf("expected error from panic")
	}
	if store.uploads["u1"].ParseStatus != models.ParseStatusError {
		t.Fatalf("expected error status, got %s", store.uploads["u1"].ParseStatus)
	}
	if store.failed["u1"] == "" {
		t.Fatalf("expected failure message")
	}
}

func TestProcessMissingBlobEndsInError(t *testing.T) {
	upload := pendingUpload("u2")
	store := newFakeStore(upload)
	p := newProcessor(store, fakeResolver{extractor: &fakeExtractor{}})

	if err := p.Process(context.Background(), "u2"); err == nil {
		t.Fatalf("expected error")
	}
	if store.uploads["u2"].ParseStatus != models.ParseStatusError {
		t.Fatalf("expected error status")
	}
}

func TestProcessSkips(t *testing.T) {
	t.Run("missing upload", func(t *testing.T) {
		ext := &fakeExtractor{}
		p := newProcessor(newFakeStore(), fakeResolver{extractor: ext})
		if err := p.Process(context.Background(), "gone"); err != nil {
			t.Fatalf("expected no-op, got %v", err)
		}
		if ext.calls != 0 {
			t.Fatalf("extractor must not run")
		}
	})
	t.Run("already confirmed", func(t *testing.T) {
		upload := pendingUpload("u1")
		upload.ParseStatus = models.ParseStatusOK
		store := newFakeStore(upload)
		ext := &fakeExtractor{}
		p := newProcessor(store, fakeResolver{extractor: ext})
		if err := p.Process(context.Background(), "u1"); err != nil {
			t.Fatalf("process: %v", err)
		}
		if ext.calls != 0 || store.uploads["u1"].ParseStatus != models.ParseStatusOK {
			t.Fatalf("confirmed upload must be left alone")
		}
	})
	t.Run("claimed elsewhere", func(t *testing.T) {
		store := newFakeStore(pendingUpload("u1"))
		ext := &fakeExtractor{}
		p := newProcessor(store, fakeResolver{extractor: ext})
		if ok, _ := p.Claimer.Claim(context.Background(), claimKey("u1"), time.Minute); !ok {
			t.Fatalf("pre-claim failed")
		}
		if err := p.Process(context.Background(), "u1"); err != nil {
			t.Fatalf("process: %v", err)
		}
		if ext.calls != 0 {
			t.Fatalf("claimed upload must not be processed twice")
		}
	})
}
