package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"dcops-backend/internal/models"
)

func (r *Repository) CreateSample(ctx context.Context, rec models.MetricSample) (models.MetricSample, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := r.Store.q(ctx).Exec(ctx, `
		INSERT INTO metric_samples (id, device_id, vm_id, captured_at, metric_key, value, unit, source_upload_id, confidence)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		rec.ID, rec.DeviceID, rec.VMID, rec.CapturedAt, rec.MetricKey, rec.Value, rec.Unit, rec.SourceUploadID, rec.Confidence,
	)
	if err != nil {
		return models.MetricSample{}, mapWriteError(err)
	}
	return rec, nil
}

type SampleFilter struct {
	DeviceID  string
	VMID      string
	MetricKey string
	Since     *time.Time
	Limit     int
}

func (r *Repository) ListSamples(ctx context.Context, filter SampleFilter) ([]models.MetricSample, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.Store.q(ctx).Query(ctx, `
		SELECT id, device_id, vm_id, captured_at, metric_key, value, unit, source_upload_id, confidence
		FROM metric_samples
		WHERE ($1 = '' OR device_id = $1) AND ($2 = '' OR vm_id = $2) AND ($3 = '' OR metric_key = $3)
			AND ($4::timestamptz IS NULL OR captured_at >= $4)
		ORDER BY captured_at DESC LIMIT $5`,
		filter.DeviceID, filter.VMID, filter.MetricKey, filter.Since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []models.MetricSample{}
	for rows.Next() {
		var rec models.MetricSample
		if err := rows.Scan(&rec.ID, &rec.DeviceID, &rec.VMID, &rec.CapturedAt, &rec.MetricKey, &rec.Value, &rec.Unit, &rec.SourceUploadID, &rec.Confidence); err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

func (r *Repository) CreateGroup(ctx context.Context, rec models.MetricGroup) (models.MetricGroup, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	err := r.InTx(ctx, func(ctx context.Context) error {
		row := r.Store.q(ctx).QueryRow(ctx, `
			INSERT INTO metric_groups (id, name, description, created_at) VALUES ($1,$2,$3,now())
			RETURNING created_at`, rec.ID, rec.Name, rec.Description)
		if err := row.Scan(&rec.CreatedAt); err != nil {
			return mapWriteError(err)
		}
		return r.replaceGroupMembers(ctx, rec.ID, rec.Members)
	})
	if err != nil {
		return models.MetricGroup{}, err
	}
	if rec.Members == nil {
		rec.Members = []string{}
	}
	return rec, nil
}

func (r *Repository) UpdateGroup(ctx context.Context, rec models.MetricGroup) error {
	return r.InTx(ctx, func(ctx context.Context) error {
		tag, err := r.Store.q(ctx).Exec(ctx, `UPDATE metric_groups SET name=$2, description=$3 WHERE id=$1`, rec.ID, rec.Name, rec.Description)
		if err != nil {
			return mapWriteError(err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		if rec.Members == nil {
			return nil
		}
		return r.replaceGroupMembers(ctx, rec.ID, rec.Members)
	})
}

func (r *Repository) replaceGroupMembers(ctx context.Context, groupID string, keys []string) error {
	if _, err := r.Store.q(ctx).Exec(ctx, `DELETE FROM metric_group_members WHERE group_id=$1`, groupID); err != nil {
		return err
	}
	for _, key := range keys {
		if _, err := r.Store.q(ctx).Exec(ctx, `
			INSERT INTO metric_group_members (group_id, metric_key) VALUES ($1,$2) ON CONFLICT DO NOTHING`, groupID, key); err != nil {
			return err
		}
	}
	return nil
}

// DeleteGroup removes a group. Rules scoped to it fall back to unscoped via
// the foreign key's ON DELETE SET NULL.
func (r *Repository) DeleteGroup(ctx context.Context, id string) error {
	tag, err := r.Store.q(ctx).Exec(ctx, `DELETE FROM metric_groups WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) GetGroup(ctx context.Context, id string) (models.MetricGroup, error) {
	var rec models.MetricGroup
	row := r.Store.q(ctx).QueryRow(ctx, `
		SELECT g.id, g.name, g.description, g.created_at,
			COALESCE(array_agg(m.metric_key ORDER BY m.metric_key) FILTER (WHERE m.metric_key IS NOT NULL), '{}')
		FROM metric_groups g LEFT JOIN metric_group_members m ON m.group_id = g.id
		WHERE g.id=$1 GROUP BY g.id`, id)
	if err := row.Scan(&rec.ID, &rec.Name, &rec.Description, &rec.CreatedAt, &rec.Members); err != nil {
		return models.MetricGroup{}, notFound(err)
	}
	return rec, nil
}

func (r *Repository) ListGroups(ctx context.Context) ([]models.MetricGroup, error) {
	rows, err := r.Store.q(ctx).Query(ctx, `
		SELECT g.id, g.name, g.description, g.created_at,
			COALESCE(array_agg(m.metric_key ORDER BY m.metric_key) FILTER (WHERE m.metric_key IS NOT NULL), '{}')
		FROM metric_groups g LEFT JOIN metric_group_members m ON m.group_id = g.id
		GROUP BY g.id ORDER BY g.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []models.MetricGroup{}
	for rows.Next() {
		var rec models.MetricGroup
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Description, &rec.CreatedAt, &rec.Members); err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}
