package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"dcops-backend/internal/alerting"
	"dcops-backend/internal/auth"
	"dcops-backend/internal/confirm"
	"dcops-backend/internal/models"
	"dcops-backend/internal/providers"
	"dcops-backend/internal/retention"
	"dcops-backend/internal/storage"
	"dcops-backend/internal/uploads"
)

type UploadService interface {
	Submit(ctx context.Context, in uploads.SubmitInput) (models.MonitoringUpload, error)
	List(ctx context.Context, filter storage.UploadFilter) ([]models.MonitoringUpload, error)
	Get(ctx context.Context, id string) (models.MonitoringUpload, error)
	OpenFile(ctx context.Context, id string) (models.MonitoringUpload, []byte, error)
}

type Confirmer interface {
	Confirm(ctx context.Context, uploadID string, edits []models.MetricRow, captureTime *time.Time) (confirm.Result, error)
}

type AlertService interface {
	List(ctx context.Context, filter storage.AlertFilter) ([]models.Alert, error)
	Get(ctx context.Context, id string) (alerting.Detail, error)
	Updates(ctx context.Context, id string) ([]models.AlertUpdate, error)
	UpdateStatus(ctx context.Context, alertID, status string, note *string, updatedBy string) (models.Alert, error)
	Assign(ctx context.Context, alertID string, teamID, userID *string) (models.AlertAssignment, error)
}

// Catalog is the rule, group, sample and team storage the API manages directly.
type Catalog interface {
	CreateRule(ctx context.Context, rec models.AlertRule) (models.AlertRule, error)
	UpdateRule(ctx context.Context, rec models.AlertRule) error
	DeleteRule(ctx context.Context, id string) error
	GetRule(ctx context.Context, id string) (models.AlertRule, error)
	ListRules(ctx context.Context) ([]models.AlertRule, error)
	CreateGroup(ctx context.Context, rec models.MetricGroup) (models.MetricGroup, error)
	UpdateGroup(ctx context.Context, rec models.MetricGroup) error
	DeleteGroup(ctx context.Context, id string) error
	GetGroup(ctx context.Context, id string) (models.MetricGroup, error)
	ListGroups(ctx context.Context) ([]models.MetricGroup, error)
	ListSamples(ctx context.Context, filter storage.SampleFilter) ([]models.MetricSample, error)
	CreateTeam(ctx context.Context, rec models.Team) (models.Team, error)
	GetTeam(ctx context.Context, id string) (models.Team, error)
	ListTeams(ctx context.Context) ([]models.Team, error)
}

type ProviderAdmin interface {
	Overview(ctx context.Context) (providers.Overview, error)
	Add(ctx context.Context, provider string, label *string, credential string) (providers.ConfigView, error)
	Select(ctx context.Context, id string) error
	Update(ctx context.Context, id string, label *string, credential *string) error
	Delete(ctx context.Context, id string) error
}

type RetentionRunner interface {
	Purge(ctx context.Context, olderThanDays int) (retention.Report, error)
	DryRun(ctx context.Context, olderThanDays int) (retention.Report, error)
}

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

type Handler struct {
	Uploads        UploadService
	Confirm        Confirmer
	Alerts         AlertService
	Catalog        Catalog
	Providers      ProviderAdmin
	Retention      RetentionRunner
	Auth           *auth.Verifier
	UploadLimiter  *RateLimiter
	Health         map[string]HealthCheck
	MaxUploadBytes int64
	RetentionDays  int
	Timeout        time.Duration
	Logger         *slog.Logger
}

var validate = validator.New()

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(h.Auth.Middleware)
		r.Route("/monitoring-uploads", func(r chi.Router) {
			if h.UploadLimiter != nil {
				r.With(h.UploadLimiter.Middleware).Post("/", h.handleUploadSubmit)
			} else {
				r.Post("/", h.handleUploadSubmit)
			}
			r.Get("/", h.handleUploadList)
			r.Get("/{id}", h.handleUploadGet)
			r.Get("/{id}/file", h.handleUploadFile)
			r.Post("/{id}/confirm", h.handleUploadConfirm)
		})
		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", h.handleAlertList)
			r.Route("/rules", func(r chi.Router) {
				r.Get("/", h.handleRuleList)
				r.Get("/{id}", h.handleRuleGet)
				r.With(auth.RequireAdmin).Post("/", h.handleRuleCreate)
				r.With(auth.RequireAdmin).Put("/{id}", h.handleRuleUpdate)
				r.With(auth.RequireAdmin).Delete("/{id}", h.handleRuleDelete)
			})
			r.Get("/{id}", h.handleAlertGet)
			r.Get("/{id}/updates", h.handleAlertUpdates)
			r.Post("/{id}/updates", h.handleAlertStatus)
			r.With(auth.RequireAdmin).Post("/{id}/assign", h.handleAlertAssign)
		})
		r.Route("/metrics", func(r chi.Router) {
			r.Get("/samples", h.handleSampleList)
			r.Get("/groups", h.handleGroupList)
			r.Get("/groups/{id}", h.handleGroupGet)
			r.With(auth.RequireAdmin).Post("/groups", h.handleGroupCreate)
			r.With(auth.RequireAdmin).Put("/groups/{id}", h.handleGroupUpdate)
			r.With(auth.RequireAdmin).Delete("/groups/{id}", h.handleGroupDelete)
			r.With(auth.RequireAdmin).Post("/groups/{id}/members", h.handleGroupAddMember)
		})
		r.Route("/teams", func(r chi.Router) {
			r.Get("/", h.handleTeamList)
			r.With(auth.RequireAdmin).Post("/", h.handleTeamCreate)
		})
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAdmin)
			r.Get("/llm-config", h.handleProviderOverview)
			r.Post("/llm-config/keys", h.handleProviderAdd)
			r.Patch("/llm-config/select", h.handleProviderSelect)
			r.Patch("/llm-config/keys/{id}", h.handleProviderUpdate)
			r.Delete("/llm-config/keys/{id}", h.handleProviderDelete)
			r.Post("/retention/purge", h.handleRetentionPurge)
		})
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()
	checks := map[string]string{}
	healthy := true
	for name, check := range h.Health {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}
	status := http.StatusOK
	state := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	writeJSON(w, status, map[string]any{"status": state, "checks": checks})
}

func (h *Handler) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(r.Context(), timeout)
}

// pathID reads the {id} route parameter. Ids are UUIDs, so anything else
// cannot exist and is answered with 404 here.
func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "message": "not found"})
		return "", false
	}
	return id, true
}

func currentUser(r *http.Request) string {
	if id, ok := auth.FromContext(r.Context()); ok {
		return id.UserID
	}
	return ""
}

// decodeAndValidate decodes a strict JSON body and runs struct validation.
func decodeAndValidate(r *http.Request, v any) error {
	if err := decodeJSON(r, v); err != nil {
		return err
	}
	return validate.Struct(v)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		details := make([]map[string]string, 0, len(verrs))
		for _, fe := range verrs {
			details = append(details, map[string]string{"field": fe.Namespace(), "rule": fe.Tag()})
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": "validation failed", "details": details})
		return
	}
	writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
}

// writeServiceError maps domain errors onto HTTP statuses. Anything it does
// not recognise is logged and reported as a 500 without details.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, uploads.ErrTooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"ok": false, "message": "file too large"})
	case errors.Is(err, uploads.ErrUnsupportedMedia):
		writeJSON(w, http.StatusUnsupportedMediaType, map[string]any{"ok": false, "message": err.Error()})
	case errors.Is(err, uploads.ErrInvalidInput), errors.Is(err, alerting.ErrInvalidInput),
		errors.Is(err, providers.ErrInvalidInput), errors.Is(err, retention.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, uploads.ErrNotFound), errors.Is(err, confirm.ErrNotFound),
		errors.Is(err, alerting.ErrNotFound), errors.Is(err, providers.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "message": "not found"})
	case errors.Is(err, storage.ErrConflict), errors.Is(err, confirm.ErrConflict), errors.Is(err, alerting.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]any{"ok": false, "message": err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, map[string]any{"ok": false, "message": "request timed out"})
	default:
		h.Logger.Error("request failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "internal error"})
	}
}

func queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}

func parseTime(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return &t, nil
		}
	}
	return nil, errors.New("invalid time: use RFC 3339")
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
