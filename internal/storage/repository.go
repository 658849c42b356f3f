package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"dcops-backend/internal/models"
)

type Repository struct {
	Store *Store
}

func NewRepository(store *Store) *Repository {
	return &Repository{Store: store}
}

func (r *Repository) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.Store.InTx(ctx, fn)
}

const uploadColumns = `id, device_id, vm_id, location_id, file_handle, file_name, mime_type, uploaded_by,
	capture_time, dashboard_label, raw_text, extracted_metrics, parse_status, parse_confidence, parse_error, created_at`

func scanUpload(row pgx.Row) (models.MonitoringUpload, error) {
	var rec models.MonitoringUpload
	var metrics []byte
	var status string
	if err := row.Scan(&rec.ID, &rec.DeviceID, &rec.VMID, &rec.LocationID, &rec.FileHandle, &rec.FileName, &rec.MimeType, &rec.UploadedBy,
		&rec.CaptureTime, &rec.DashboardLabel, &rec.RawText, &metrics, &status, &rec.ParseConfidence, &rec.ParseError, &rec.CreatedAt); err != nil {
		return models.MonitoringUpload{}, err
	}
	rec.ParseStatus = models.ParseStatus(status)
	rec.ExtractedMetrics = []models.MetricRow{}
	if len(metrics) > 0 {
		if err := json.Unmarshal(metrics, &rec.ExtractedMetrics); err != nil {
			return models.MonitoringUpload{}, err
		}
	}
	return rec, nil
}

func encodeMetrics(rows []models.MetricRow) ([]byte, error) {
	if rows == nil {
		rows = []models.MetricRow{}
	}
	return json.Marshal(rows)
}

func (r *Repository) CreateUpload(ctx context.Context, rec models.MonitoringUpload) (models.MonitoringUpload, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ParseStatus == "" {
		rec.ParseStatus = models.ParseStatusPending
	}
	metrics, err := encodeMetrics(rec.ExtractedMetrics)
	if err != nil {
		return models.MonitoringUpload{}, err
	}
	row := r.Store.q(ctx).QueryRow(ctx, `
		INSERT INTO monitoring_uploads (id, device_id, vm_id, location_id, file_handle, file_name, mime_type, uploaded_by,
			capture_time, dashboard_label, extracted_metrics, parse_status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,now())
		RETURNING `+uploadColumns,
		rec.ID, rec.DeviceID, rec.VMID, rec.LocationID, rec.FileHandle, rec.FileName, rec.MimeType, rec.UploadedBy,
		rec.CaptureTime, rec.DashboardLabel, metrics, string(rec.ParseStatus),
	)
	created, err := scanUpload(row)
	if err != nil {
		return models.MonitoringUpload{}, mapWriteError(err)
	}
	return created, nil
}

func (r *Repository) GetUpload(ctx context.Context, id string) (models.MonitoringUpload, error) {
	row := r.Store.q(ctx).QueryRow(ctx, `SELECT `+uploadColumns+` FROM monitoring_uploads WHERE id=$1`, id)
	rec, err := scanUpload(row)
	if err != nil {
		return models.MonitoringUpload{}, notFound(err)
	}
	return rec, nil
}

// LockUpload reads an upload and holds a row lock until the surrounding
// transaction ends. It must be called with a context from InTx.
func (r *Repository) LockUpload(ctx context.Context, id string) (models.MonitoringUpload, error) {
	row := r.Store.q(ctx).QueryRow(ctx, `SELECT `+uploadColumns+` FROM monitoring_uploads WHERE id=$1 FOR UPDATE`, id)
	rec, err := scanUpload(row)
	if err != nil {
		return models.MonitoringUpload{}, notFound(err)
	}
	return rec, nil
}

type UploadFilter struct {
	DeviceID string
	VMID     string
	Limit    int
}

func (r *Repository) ListUploads(ctx context.Context, filter UploadFilter) ([]models.MonitoringUpload, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.Store.q(ctx).Query(ctx, `
		SELECT `+uploadColumns+` FROM monitoring_uploads
		WHERE ($1 = '' OR device_id = $1) AND ($2 = '' OR vm_id = $2)
		ORDER BY created_at DESC LIMIT $3`, filter.DeviceID, filter.VMID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []models.MonitoringUpload{}
	for rows.Next() {
		rec, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

// ListPendingUploadIDs returns the oldest uploads still waiting for extraction.
func (r *Repository) ListPendingUploadIDs(ctx context.Context, limit int) ([]string, error) {
	rows, err := r.Store.q(ctx).Query(ctx, `
		SELECT id FROM monitoring_uploads WHERE parse_status='pending' ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type ExtractionUpdate struct {
	RawText     string
	Metrics     []models.MetricRow
	Confidence  float64
	Status      models.ParseStatus
	Error       *string
	CaptureTime *time.Time
}

// ApplyExtraction writes an extraction outcome in one statement. Only pending
// uploads are touched, so a confirmed upload is never pulled back to ready or
// error. The returned bool reports whether a row changed.
func (r *Repository) ApplyExtraction(ctx context.Context, id string, upd ExtractionUpdate) (bool, error) {
	metrics, err := encodeMetrics(upd.Metrics)
	if err != nil {
		return false, err
	}
	tag, err := r.Store.q(ctx).Exec(ctx, `
		UPDATE monitoring_uploads
		SET raw_text=$2, extracted_metrics=$3, parse_confidence=$4, parse_status=$5, parse_error=$6,
			capture_time=COALESCE(capture_time, $7)
		WHERE id=$1 AND parse_status='pending'`,
		id, upd.RawText, metrics, upd.Confidence, string(upd.Status), upd.Error, upd.CaptureTime,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkUploadFailed moves a pending upload to error with the given message.
func (r *Repository) MarkUploadFailed(ctx context.Context, id, message string) error {
	_, err := r.Store.q(ctx).Exec(ctx, `
		UPDATE monitoring_uploads SET parse_status='error', parse_error=$2
		WHERE id=$1 AND parse_status='pending'`, id, message)
	return err
}

func (r *Repository) MarkUploadConfirmed(ctx context.Context, id string) error {
	tag, err := r.Store.q(ctx).Exec(ctx, `UPDATE monitoring_uploads SET parse_status='ok' WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
