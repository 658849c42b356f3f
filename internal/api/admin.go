package api

import (
	"net/http"
	"strconv"
)

type providerAddRequest struct {
	Provider string  `json:"provider" validate:"required,max=32"`
	Label    *string `json:"label" validate:"omitempty,max=128"`
	APIKey   string  `json:"api_key" validate:"required,max=512"`
}

type providerSelectRequest struct {
	ID string `json:"id" validate:"required,uuid"`
}

type providerUpdateRequest struct {
	Label  *string `json:"label" validate:"omitempty,max=128"`
	APIKey *string `json:"api_key" validate:"omitempty,max=512"`
}

func (h *Handler) writeProviderOverview(w http.ResponseWriter, r *http.Request, status int) {
	ctx, cancel := h.requestContext(r)
	defer cancel()
	overview, err := h.Providers.Overview(ctx)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, status, overview)
}

func (h *Handler) handleProviderOverview(w http.ResponseWriter, r *http.Request) {
	h.writeProviderOverview(w, r, http.StatusOK)
}

func (h *Handler) handleProviderAdd(w http.ResponseWriter, r *http.Request) {
	var req providerAddRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := h.requestContext(r)
	defer cancel()
	if _, err := h.Providers.Add(ctx, req.Provider, req.Label, req.APIKey); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeProviderOverview(w, r, http.StatusCreated)
}

func (h *Handler) handleProviderSelect(w http.ResponseWriter, r *http.Request) {
	var req providerSelectRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := h.requestContext(r)
	defer cancel()
	if err := h.Providers.Select(ctx, req.ID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeProviderOverview(w, r, http.StatusOK)
}

func (h *Handler) handleProviderUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req providerUpdateRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := h.requestContext(r)
	defer cancel()
	if err := h.Providers.Update(ctx, id, req.Label, req.APIKey); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeProviderOverview(w, r, http.StatusOK)
}

func (h *Handler) handleProviderDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.requestContext(r)
	defer cancel()
	if err := h.Providers.Delete(ctx, id); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeProviderOverview(w, r, http.StatusOK)
}

// handleRetentionPurge runs a purge now. older_than_days defaults to the
// configured retention and dry_run=true only reports candidates.
func (h *Handler) handleRetentionPurge(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	days := h.RetentionDays
	if raw := q.Get("older_than_days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": "older_than_days must be an integer"})
			return
		}
		days = parsed
	}
	ctx, cancel := h.requestContext(r)
	defer cancel()
	run := h.Retention.Purge
	if q.Get("dry_run") == "true" {
		run = h.Retention.DryRun
	}
	report, err := run(ctx, days)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
