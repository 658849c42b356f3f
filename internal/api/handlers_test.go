package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"dcops-backend/internal/auth"
	"dcops-backend/internal/confirm"
	"dcops-backend/internal/models"
	"dcops-backend/internal/retention"
	"dcops-backend/internal/uploads"
)

const testUUID = "3f1c9a52-8d1e-4d43-9a57-0c1f4b2e7d10"

type fakeUploads struct {
	UploadService
	submitted uploads.SubmitInput
}

func (f *fakeUploads) Submit(ctx context.Context, in uploads.SubmitInput) (models.MonitoringUpload, error) {
	f.submitted = in
	return models.MonitoringUpload{ID: testUUID, FileName: in.FileName, ParseStatus: models.ParseStatusPending}, nil
}

type fakeConfirmer struct {
	edits  []models.MetricRow
	called bool
	err    error
}

func (f *fakeConfirmer) Confirm(ctx context.Context, uploadID string, edits []models.MetricRow, captureTime *time.Time) (confirm.Result, error) {
	f.called = true
	f.edits = edits
	if f.err != nil {
		return confirm.Result{}, f.err
	}
	return confirm.Result{UploadID: uploadID, SamplesCreated: len(edits)}, nil
}

type fakeAlerts struct {
	AlertService
	status    string
	updatedBy string
}

func (f *fakeAlerts) UpdateStatus(ctx context.Context, alertID, status string, note *string, updatedBy string) (models.Alert, error) {
	f.status = status
	f.updatedBy = updatedBy
	return models.Alert{ID: alertID, Status: status}, nil
}

type fakeCatalog struct {
	Catalog
	created []models.AlertRule
}

func (f *fakeCatalog) CreateRule(ctx context.Context, rec models.AlertRule) (models.AlertRule, error) {
	rec.ID = testUUID
	f.created = append(f.created, rec)
	return rec, nil
}

type fakeRetention struct {
	days   int
	dryRun bool
}

func (f *fakeRetention) Purge(ctx context.Context, days int) (retention.Report, error) {
	f.days = days
	return retention.Report{Uploads: 3}, nil
}

func (f *fakeRetention) DryRun(ctx context.Context, days int) (retention.Report, error) {
	f.days = days
	f.dryRun = true
	return retention.Report{DryRun: true, CandidateUploads: 3}, nil
}

type testEnv struct {
	router    http.Handler
	uploads   *fakeUploads
	confirm   *fakeConfirmer
	alerts    *fakeAlerts
	catalog   *fakeCatalog
	retention *fakeRetention
}

func newTestEnv(t *testing.T, mutate func(h *Handler)) testEnv {
	t.Helper()
	env := testEnv{
		uploads:   &fakeUploads{},
		confirm:   &fakeConfirmer{},
		alerts:    &fakeAlerts{},
		catalog:   &fakeCatalog{},
		retention: &fakeRetention{},
	}
	h := &Handler{
		Uploads:        env.uploads,
		Confirm:        env.confirm,
		Alerts:         env.alerts,
		Catalog:        env.catalog,
		Retention:      env.retention,
		Auth:           auth.NewVerifier(""),
		MaxUploadBytes: 1 << 20,
		RetentionDays:  90,
		Timeout:        time.Second,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if mutate != nil {
		mutate(h)
	}
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	env.router = r
	return env
}

func (env testEnv) do(req *http.Request, user, role string) *httptest.ResponseRecorder {
	if user != "" {
		req.Header.Set("X-User-ID", user)
		req.Header.Set("X-User-Role", role)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func multipartUpload(t *testing.T, fields map[string]string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="grafana.png"`)
	hdr.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	_, _ = part.Write(data)
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/monitoring-uploads/", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUploadSubmit(t *testing.T) {
	env := newTestEnv(t, nil)
	req := multipartUpload(t, map[string]string{"device_id": "D1", "capture_time": "2026-03-01T10:00:00Z"}, []byte("\x89PNG\r\n\x1a\n"))

	rec := env.do(req, "user-1", "operator")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	in := env.uploads.submitted
	if in.UploadedBy != "user-1" || in.FileName != "grafana.png" || in.MimeType != "image/png" {
		t.Fatalf("unexpected submit input %+v", in)
	}
	if in.DeviceID == nil || *in.DeviceID != "D1" || in.VMID != nil || in.CaptureTime == nil {
		t.Fatalf("unexpected form fields %+v", in)
	}
}

func TestUploadSubmitRequiresIdentity(t *testing.T) {
	env := newTestEnv(t, nil)
	req := multipartUpload(t, nil, []byte("x"))
	if rec := env.do(req, "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestUploadSubmitRateLimited(t *testing.T) {
	env := newTestEnv(t, func(h *Handler) { h.UploadLimiter = NewRateLimiter(1, 1) })
	first := env.do(multipartUpload(t, nil, []byte("a")), "user-1", "")
	second := env.do(multipartUpload(t, nil, []byte("b")), "user-1", "")
	other := env.do(multipartUpload(t, nil, []byte("c")), "user-2", "")
	if first.Code != http.StatusAccepted || second.Code != http.StatusTooManyRequests || other.Code != http.StatusAccepted {
		t.Fatalf("unexpected codes %d %d %d", first.Code, second.Code, other.Code)
	}
}

func TestUploadConfirm(t *testing.T) {
	t.Run("with edits", func(t *testing.T) {
		env := newTestEnv(t, nil)
		body := `{"metrics":[{"key":"cpu_util","value":95,"ip_address":"10.0.0.5"},{"key":"ram_util","value":null}]}`
		req := httptest.NewRequest(http.MethodPost, "/monitoring-uploads/"+testUUID+"/confirm", strings.NewReader(body))
		rec := env.do(req, "user-1", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if len(env.confirm.edits) != 2 || env.confirm.edits[1].Value != nil {
			t.Fatalf("unexpected edits %+v", env.confirm.edits)
		}
	})
	t.Run("empty body uses stored rows", func(t *testing.T) {
		env := newTestEnv(t, nil)
		req := httptest.NewRequest(http.MethodPost, "/monitoring-uploads/"+testUUID+"/confirm", nil)
		if rec := env.do(req, "user-1", ""); rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if !env.confirm.called || env.confirm.edits != nil {
			t.Fatalf("expected nil edits")
		}
	})
	t.Run("invalid ip", func(t *testing.T) {
		env := newTestEnv(t, nil)
		req := httptest.NewRequest(http.MethodPost, "/monitoring-uploads/"+testUUID+"/confirm", strings.NewReader(`{"metrics":[{"key":"cpu_util","ip_address":"nope"}]}`))
		if rec := env.do(req, "user-1", ""); rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})
	errCases := []struct {
		name string
		err  error
		want int
	}{
		{name: "already confirmed", err: confirm.ErrConflict, want: http.StatusConflict},
		{name: "missing upload", err: confirm.ErrNotFound, want: http.StatusNotFound},
		{name: "unexpected", err: errors.New("db down"), want: http.StatusInternalServerError},
	}
	for _, tc := range errCases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.confirm.err = tc.err
			req := httptest.NewRequest(http.MethodPost, "/monitoring-uploads/"+testUUID+"/confirm", nil)
			if rec := env.do(req, "user-1", ""); rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
	t.Run("malformed id", func(t *testing.T) {
		env := newTestEnv(t, nil)
		req := httptest.NewRequest(http.MethodPost, "/monitoring-uploads/42/confirm", nil)
		if rec := env.do(req, "user-1", ""); rec.Code != http.StatusNotFound || env.confirm.called {
			t.Fatalf("expected 404 without calling the service, got %d", rec.Code)
		}
	})
}

func TestRuleCreate(t *testing.T) {
	body := `{"name":"cpu high","metric_key":"cpu_util","operator":">","threshold":90,"severity":"critical"}`
	tests := []struct {
		name string
		role string
		body string
		want int
	}{
		{name: "non admin", role: "operator", body: body, want: http.StatusForbidden},
		{name: "bad operator", role: "admin", body: strings.Replace(body, `">"`, `"!="`, 1), want: http.StatusBadRequest},
		{name: "missing threshold", role: "admin", body: `{"name":"x","metric_key":"cpu_util","operator":">"}`, want: http.StatusBadRequest},
		{name: "unknown field", role: "admin", body: `{"name":"x","metric_key":"cpu_util","operator":">","threshold":1,"extra":true}`, want: http.StatusBadRequest},
		{name: "created", role: "admin", body: body, want: http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			req := httptest.NewRequest(http.MethodPost, "/alerts/rules", strings.NewReader(tt.body))
			rec := env.do(req, "user-1", tt.role)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
			if tt.want == http.StatusCreated {
				rule := env.catalog.created[0]
				if !rule.Enabled || rule.Threshold != 90 || rule.Severity != "critical" {
					t.Fatalf("unexpected rule %+v", rule)
				}
			}
		})
	}
}

func TestAlertStatusUpdateRecordsUser(t *testing.T) {
	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/alerts/"+testUUID+"/updates", strings.NewReader(`{"status":"ack","note":"on it"}`))
	rec := env.do(req, "user-7", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if env.alerts.status != "ack" || env.alerts.updatedBy != "user-7" {
		t.Fatalf("unexpected update %+v", env.alerts)
	}
}

func TestRetentionPurge(t *testing.T) {
	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/retention/purge?dry_run=true", nil)
	rec := env.do(req, "admin-1", "admin")
	if rec.Code != http.StatusOK || !env.retention.dryRun || env.retention.days != 90 {
		t.Fatalf("unexpected dry run: %d %+v", rec.Code, env.retention)
	}

	req = httptest.NewRequest(http.MethodPost, "/retention/purge?older_than_days=30", nil)
	rec = env.do(req, "admin-1", "admin")
	var report retention.Report
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.retention.days != 30 || report.Uploads != 3 {
		t.Fatalf("unexpected purge %+v", report)
	}

	req = httptest.NewRequest(http.MethodPost, "/retention/purge", nil)
	if rec := env.do(req, "user-1", "operator"); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, func(h *Handler) {
		h.Health = map[string]HealthCheck{
			"database": func(ctx context.Context) error { return nil },
			"nats":     func(ctx context.Context) error { return errors.New("disconnected") },
		}
	})
	rec := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil), "", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	_ = json.NewDecoder(rec.Body).Decode(&body)
	if body.Status != "degraded" || body.Checks["database"] != "ok" {
		t.Fatalf("unexpected body %+v", body)
	}
}
