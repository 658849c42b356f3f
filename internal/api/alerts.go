package api

import (
	"net/http"

	"dcops-backend/internal/storage"
)

type alertStatusRequest struct {
	Status string  `json:"status" validate:"required,max=32"`
	Note   *string `json:"note" validate:"omitempty,max=2000"`
}

type alertAssignRequest struct {
	TeamID *string `json:"team_id" validate:"omitempty,max=128"`
	UserID *string `json:"user_id" validate:"omitempty,max=128"`
}

func (h *Handler) handleAlertList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()
	q := r.URL.Query()
	list, err := h.Alerts.List(ctx, storage.AlertFilter{
		Status:   q.Get("status"),
		DeviceID: q.Get("device_id"),
		VMID:     q.Get("vm_id"),
		Limit:    queryLimit(r),
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleAlertGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.requestContext(r)
	defer cancel()
	detail, err := h.Alerts.Get(ctx, id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) handleAlertUpdates(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.requestContext(r)
	defer cancel()
	list, err := h.Alerts.Updates(ctx, id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleAlertStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req alertStatusRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := h.requestContext(r)
	defer cancel()
	alert, err := h.Alerts.UpdateStatus(ctx, id, req.Status, req.Note, currentUser(r))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (h *Handler) handleAlertAssign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req alertAssignRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := h.requestContext(r)
	defer cancel()
	assignment, err := h.Alerts.Assign(ctx, id, req.TeamID, req.UserID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, assignment)
}
