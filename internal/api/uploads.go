package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"dcops-backend/internal/models"
	"dcops-backend/internal/storage"
	"dcops-backend/internal/uploads"
)

const multipartMemory = 8 << 20

type metricRowRequest struct {
	IPAddress  *string  `json:"ip_address" validate:"omitempty,ip"`
	Key        string   `json:"key" validate:"max=64"`
	Value      *float64 `json:"value"`
	Unit       *string  `json:"unit" validate:"omitempty,max=32"`
	Confidence *float64 `json:"confidence" validate:"omitempty,gte=0,lte=1"`
	DeviceID   *string  `json:"device_id" validate:"omitempty,max=128"`
	VMID       *string  `json:"vm_id" validate:"omitempty,max=128"`
}

type confirmRequest struct {
	Metrics     []metricRowRequest `json:"metrics" validate:"omitempty,max=500,dive"`
	CaptureTime *time.Time         `json:"capture_time"`
}

func (h *Handler) handleUploadSubmit(w http.ResponseWriter, r *http.Request) {
	// one extra MiB leaves room for the multipart envelope and form fields
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"ok": false, "message": "file too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": "expected multipart form with a file field"})
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": "file is required"})
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, h.MaxUploadBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": "could not read file"})
		return
	}
	captureTime, err := parseTime(r.FormValue("capture_time"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()
	created, err := h.Uploads.Submit(ctx, uploads.SubmitInput{
		FileName:       header.Filename,
		MimeType:       header.Header.Get("Content-Type"),
		Data:           data,
		DeviceID:       optionalString(r.FormValue("device_id")),
		VMID:           optionalString(r.FormValue("vm_id")),
		LocationID:     optionalString(r.FormValue("location_id")),
		CaptureTime:    captureTime,
		DashboardLabel: optionalString(r.FormValue("dashboard_label")),
		UploadedBy:     currentUser(r),
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, created)
}

func (h *Handler) handleUploadList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()
	q := r.URL.Query()
	list, err := h.Uploads.List(ctx, storage.UploadFilter{
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

func (h *Handler) handleUploadGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.requestContext(r)
	defer cancel()
	upload, err := h.Uploads.Get(ctx, id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, upload)
}

func (h *Handler) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.requestContext(r)
	defer cancel()
	upload, data, err := h.Uploads.OpenFile(ctx, id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", upload.MimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) handleUploadConfirm(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req confirmRequest
	// an empty body confirms the stored rows as they are
	if err := decodeAndValidate(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, err)
		return
	}
	var edits []models.MetricRow
	if req.Metrics != nil {
		edits = make([]models.MetricRow, 0, len(req.Metrics))
		for _, m := range req.Metrics {
			edits = append(edits, models.MetricRow{
				IPAddress:  m.IPAddress,
				Key:        m.Key,
				Value:      m.Value,
				Unit:       m.Unit,
				Confidence: m.Confidence,
				DeviceID:   m.DeviceID,
				VMID:       m.VMID,
			})
		}
	}
	ctx, cancel := h.requestContext(r)
	defer cancel()
	res, err := h.Confirm.Confirm(ctx, id, edits, req.CaptureTime)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "message": "Upload confirmed", "result": res})
}
