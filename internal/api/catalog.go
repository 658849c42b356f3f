package api

import (
	"fmt"
	"net/http"
	"strings"

	"dcops-backend/internal/alerting"
	"dcops-backend/internal/models"
	"dcops-backend/internal/storage"
)

type ruleRequest struct {
	Name            string   `json:"name" validate:"required,max=128"`
	GroupID         *string  `json:"group_id" validate:"omitempty,uuid"`
	MetricKey       string   `json:"metric_key" validate:"required,max=64"`
	Operator        string   `json:"operator" validate:"required"`
	Threshold       *float64 `json:"threshold" validate:"required"`
	DurationMinutes int      `json:"duration_minutes" validate:"gte=0,lte=10080"`
	Severity        string   `json:"severity" validate:"omitempty,max=32"`
	MessageTemplate *string  `json:"message_template" validate:"omitempty,max=500"`
	TeamID          *string  `json:"team_id" validate:"omitempty,uuid"`
	Enabled         *bool    `json:"is_enabled"`
}

func (req ruleRequest) toModel(id string) (models.AlertRule, error) {
	op := strings.TrimSpace(req.Operator)
	if !alerting.ValidOperator(op) {
		return models.AlertRule{}, fmt.Errorf("operator must be one of >, >=, <, <=")
	}
	severity := strings.TrimSpace(req.Severity)
	if severity == "" {
		severity = "warning"
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	return models.AlertRule{
		ID:              id,
		Name:            strings.TrimSpace(req.Name),
		GroupID:         req.GroupID,
		MetricKey:       strings.TrimSpace(req.MetricKey),
		Operator:        op,
		Threshold:       *req.Threshold,
		DurationMinutes: req.DurationMinutes,
		Severity:        severity,
		MessageTemplate: req.MessageTemplate,
		TeamID:          req.TeamID,
		Enabled:         enabled,
	}, nil
}

type groupRequest struct {
	Name        string   `json:"name" validate:"required,max=128"`
	Description *string  `json:"description" validate:"omitempty,max=1000"`
	Members     []string `json:"members" validate:"omitempty,max=200,dive,required,max=64"`
}

type groupMemberRequest struct {
	MetricKey string `json:"metric_key" validate:"required,max=64"`
}

type teamRequest struct {
	Name              string  `json:"name" validate:"required,max=128"`
	NotificationAlias *string `json:"notification_alias" validate:"omitempty,email"`
}

func (h *Handler) handleRuleList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()
	list, err := h.Catalog.ListRules(ctx)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleRuleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.requestContext(r)
	defer cancel()
	rule, err := h.Catalog.GetRule(ctx, id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *Handler) handleRuleCreate(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	rec, err := req.toModel("")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := h.requestContext(r)
	defer cancel()
	created, err := h.Catalog.CreateRule(ctx, rec)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleRuleUpdate(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rec, err := req.toModel(id)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := h.requestContext(r)
	defer cancel()
	if err := h.Catalog.UpdateRule(ctx, rec); err != nil {
		h.writeServiceError(w, err)
		return
	}
	updated, err := h.Catalog.GetRule(ctx, id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleRuleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.requestContext(r)
	defer cancel()
	if err := h.Catalog.DeleteRule(ctx, id); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "message": "Rule deleted"})
}

func (h *Handler) handleGroupList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()
	list, err := h.Catalog.ListGroups(ctx)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleGroupGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.requestContext(r)
	defer cancel()
	group, err := h.Catalog.GetGroup(ctx, id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (h *Handler) handleGroupCreate(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := h.requestContext(r)
	defer cancel()
	created, err := h.Catalog.CreateGroup(ctx, models.MetricGroup{
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Members:     req.Members,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleGroupUpdate(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.requestContext(r)
	defer cancel()
	// a missing members field keeps the current member list
	if err := h.Catalog.UpdateGroup(ctx, models.MetricGroup{ID: id, Name: strings.TrimSpace(req.Name), Description: req.Description, Members: req.Members}); err != nil {
		h.writeServiceError(w, err)
		return
	}
	group, err := h.Catalog.GetGroup(ctx, id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (h *Handler) handleGroupDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.requestContext(r)
	defer cancel()
	if err := h.Catalog.DeleteGroup(ctx, id); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "message": "Group deleted"})
}

func (h *Handler) handleGroupAddMember(w http.ResponseWriter, r *http.Request) {
	var req groupMemberRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.requestContext(r)
	defer cancel()
	group, err := h.Catalog.GetGroup(ctx, id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	key := strings.TrimSpace(req.MetricKey)
	for _, m := range group.Members {
		if m == key {
			writeJSON(w, http.StatusOK, group)
			return
		}
	}
	group.Members = append(group.Members, key)
	if err := h.Catalog.UpdateGroup(ctx, group); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (h *Handler) handleSampleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	since, err := parseTime(q.Get("since"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := h.requestContext(r)
	defer cancel()
	list, err := h.Catalog.ListSamples(ctx, storage.SampleFilter{
		DeviceID:  q.Get("device_id"),
		VMID:      q.Get("vm_id"),
		MetricKey: q.Get("metric_key"),
		Since:     since,
		Limit:     queryLimit(r),
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleTeamList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()
	list, err := h.Catalog.ListTeams(ctx)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleTeamCreate(w http.ResponseWriter, r *http.Request) {
	var req teamRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := h.requestContext(r)
	defer cancel()
	created, err := h.Catalog.CreateTeam(ctx, models.Team{Name: strings.TrimSpace(req.Name), NotificationAlias: req.NotificationAlias})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}
