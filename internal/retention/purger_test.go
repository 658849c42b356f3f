package retention

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"dcops-backend/internal/blob"
	"dcops-backend/internal/storage"
)

type upload struct {
	handle  string
	created time.Time
}

type fakeStore struct {
	uploads  map[string]upload
	samples  map[string]string // sample id -> upload id
	evidence map[string]string // alert id -> upload id
	failOn   string
}

func (s *fakeStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	uploads := map[string]upload{}
	for k, v := range s.uploads {
		uploads[k] = v
	}
	samples := map[string]string{}
	for k, v := range s.samples {
		samples[k] = v
	}
	if err := fn(ctx); err != nil {
		s.uploads, s.samples = uploads, samples
		return err
	}
	return nil
}

func (s *fakeStore) UploadsCreatedBefore(ctx context.Context, cutoff time.Time) ([]storage.UploadFile, error) {
	out := []storage.UploadFile{}
	for id, u := range s.uploads {
		if u.created.Before(cutoff) {
			out = append(out, storage.UploadFile{ID: id, FileHandle: u.handle})
		}
	}
	return out, nil
}

func (s *fakeStore) DeleteSamplesForUploads(ctx context.Context, ids []string) (int64, error) {
	var n int64
	for sid, uid := range s.samples {
		if contains(ids, uid) {
			delete(s.samples, sid)
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) ClearAlertEvidence(ctx context.Context, ids []string) (int64, error) {
	var n int64
	for aid, uid := range s.evidence {
		if contains(ids, uid) {
			s.evidence[aid] = ""
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) DeleteUploads(ctx context.Context, ids []string) (int64, error) {
	if s.failOn == "delete" {
		return 0, errors.New("fk violation")
	}
	var n int64
	for _, id := range ids {
		if _, ok := s.uploads[id]; ok {
			delete(s.uploads, id)
			n++
		}
	}
	return n, nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

var now = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Purger, *fakeStore, string) {
	t.Helper()
	dir := t.TempDir()
	blobs, err := blob.NewFSStore(dir)
	if err != nil {
		t.Fatalf("blob store: %v", err)
	}
	oldHandle, err := blobs.Save(context.Background(), []byte("old"), ".png")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	newHandle, err := blobs.Save(context.Background(), []byte("new"), ".png")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	store := &fakeStore{
		uploads: map[string]upload{
			"old":     {handle: oldHandle, created: now.AddDate(0, 0, -120)},
			"missing": {handle: "gone.png", created: now.AddDate(0, 0, -100)},
			"new":     {handle: newHandle, created: now.AddDate(0, 0, -10)},
		},
		samples:  map[string]string{"s1": "old", "s2": "old", "s3": "new"},
		evidence: map[string]string{"a1": "old", "a2": "new"},
	}
	p := &Purger{
		Store:  store,
		Blobs:  blobs,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:    func() time.Time { return now },
	}
	return p, store, dir
}

func TestPurgeRemovesExpiredUploads(t *testing.T) {
	p, store, dir := setup(t)

	report, err := p.Purge(context.Background(), 90)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if report.Uploads != 2 || report.Samples != 2 || report.AlertsUnlinked != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.FilesDeleted != 2 || report.FileErrors != 0 {
		t.Fatalf("missing files must count as deleted, got %+v", report)
	}
	if _, ok := store.uploads["new"]; !ok || store.samples["s3"] != "new" || store.evidence["a2"] != "new" {
		t.Fatalf("recent data must survive")
	}
	if store.evidence["a1"] != "" {
		t.Fatalf("expected evidence to be cleared")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 || entries[0].Name() != filepath.Base(store.uploads["new"].handle) {
		t.Fatalf("expected only the recent file to remain, got %v", entries)
	}
}

func TestPurgeIsIdempotent(t *testing.T) {
	p, _, _ := setup(t)
	if _, err := p.Purge(context.Background(), 90); err != nil {
		t.Fatalf("first purge: %v", err)
	}
	report, err := p.Purge(context.Background(), 90)
	if err != nil {
		t.Fatalf("second purge: %v", err)
	}
	if report.Uploads != 0 || report.Samples != 0 || report.FilesDeleted != 0 {
		t.Fatalf("second purge should be a no-op, got %+v", report)
	}
}

func TestPurgeRollsBackAndKeepsFiles(t *testing.T) {
	p, store, dir := setup(t)
	store.failOn = "delete"
	if _, err := p.Purge(context.Background(), 90); err == nil {
		t.Fatalf("expected error")
	}
	if len(store.samples) != 3 {
		t.Fatalf("samples must be restored on rollback")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 2 {
		t.Fatalf("files must not be deleted when the transaction fails")
	}
}

func TestDryRunAndValidation(t *testing.T) {
	p, store, _ := setup(t)
	report, err := p.DryRun(context.Background(), 90)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if !report.DryRun || report.CandidateUploads != 2 || len(store.uploads) != 3 {
		t.Fatalf("unexpected dry run %+v", report)
	}
	if _, err := p.Purge(context.Background(), 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
