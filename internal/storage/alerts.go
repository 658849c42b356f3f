package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"dcops-backend/internal/models"
)

const ruleColumns = `id, name, group_id, metric_key, operator, threshold, duration_minutes, severity, message_template, team_id, enabled, created_at`

func scanRule(row pgx.Row) (models.AlertRule, error) {
	var rec models.AlertRule
	err := row.Scan(&rec.ID, &rec.Name, &rec.GroupID, &rec.MetricKey, &rec.Operator, &rec.Threshold, &rec.DurationMinutes,
		&rec.Severity, &rec.MessageTemplate, &rec.TeamID, &rec.Enabled, &rec.CreatedAt)
	return rec, err
}

func (r *Repository) CreateRule(ctx context.Context, rec models.AlertRule) (models.AlertRule, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	row := r.Store.q(ctx).QueryRow(ctx, `
		INSERT INTO alert_rules (id, name, group_id, metric_key, operator, threshold, duration_minutes, severity, message_template, team_id, enabled, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now())
		RETURNING `+ruleColumns,
		rec.ID, rec.Name, rec.GroupID, rec.MetricKey, rec.Operator, rec.Threshold, rec.DurationMinutes, rec.Severity, rec.MessageTemplate, rec.TeamID, rec.Enabled,
	)
	created, err := scanRule(row)
	if err != nil {
		return models.AlertRule{}, mapWriteError(err)
	}
	return created, nil
}

func (r *Repository) UpdateRule(ctx context.Context, rec models.AlertRule) error {
	tag, err := r.Store.q(ctx).Exec(ctx, `
		UPDATE alert_rules
		SET name=$2, group_id=$3, metric_key=$4, operator=$5, threshold=$6, duration_minutes=$7, severity=$8,
			message_template=$9, team_id=$10, enabled=$11
		WHERE id=$1`,
		rec.ID, rec.Name, rec.GroupID, rec.MetricKey, rec.Operator, rec.Threshold, rec.DurationMinutes, rec.Severity, rec.MessageTemplate, rec.TeamID, rec.Enabled,
	)
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) DeleteRule(ctx context.Context, id string) error {
	tag, err := r.Store.q(ctx).Exec(ctx, `DELETE FROM alert_rules WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) GetRule(ctx context.Context, id string) (models.AlertRule, error) {
	rec, err := scanRule(r.Store.q(ctx).QueryRow(ctx, `SELECT `+ruleColumns+` FROM alert_rules WHERE id=$1`, id))
	if err != nil {
		return models.AlertRule{}, notFound(err)
	}
	return rec, nil
}

func (r *Repository) ListRules(ctx context.Context) ([]models.AlertRule, error) {
	return r.queryRules(ctx, `SELECT `+ruleColumns+` FROM alert_rules ORDER BY created_at DESC`)
}

// MatchingRules returns enabled rules for metricKey. With a groupID only
// unscoped rules and rules scoped to that group match; an asset without a
// group is not filtered by scope.
func (r *Repository) MatchingRules(ctx context.Context, metricKey string, groupID *string) ([]models.AlertRule, error) {
	return r.queryRules(ctx, `
		SELECT `+ruleColumns+` FROM alert_rules
		WHERE enabled AND metric_key=$1
			AND ($2::text IS NULL OR group_id IS NULL OR group_id::text = $2::text)
		ORDER BY created_at ASC`, metricKey, groupID)
}

func (r *Repository) queryRules(ctx context.Context, sql string, args ...any) ([]models.AlertRule, error) {
	rows, err := r.Store.q(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []models.AlertRule{}
	for rows.Next() {
		rec, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

const alertColumns = `id, device_id, vm_id, rule_id, status, severity, detected_at, latest_value, summary, evidence_upload_id`

func scanAlert(row pgx.Row) (models.Alert, error) {
	var rec models.Alert
	err := row.Scan(&rec.ID, &rec.DeviceID, &rec.VMID, &rec.RuleID, &rec.Status, &rec.Severity, &rec.DetectedAt,
		&rec.LatestValue, &rec.Summary, &rec.EvidenceUploadID)
	return rec, err
}

// InsertOpenAlert creates an open alert unless an active one already exists
// for the same (rule, device, vm). created is false when the partial unique
// index rejected the row; the caller then refreshes the existing alert.
func (r *Repository) InsertOpenAlert(ctx context.Context, rec models.Alert) (models.Alert, bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	row := r.Store.q(ctx).QueryRow(ctx, `
		INSERT INTO alerts (id, device_id, vm_id, rule_id, status, severity, detected_at, latest_value, summary, evidence_upload_id)
		VALUES ($1,$2,$3,$4,'open',$5,now(),$6,$7,$8)
		ON CONFLICT (rule_id, (COALESCE(device_id, '')), (COALESCE(vm_id, '')))
			WHERE status IN ('open', 'ack', 'in_progress')
		DO NOTHING
		RETURNING `+alertColumns,
		rec.ID, rec.DeviceID, rec.VMID, rec.RuleID, rec.Severity, rec.LatestValue, rec.Summary, rec.EvidenceUploadID,
	)
	created, err := scanAlert(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Alert{}, false, nil
	}
	if err != nil {
		return models.Alert{}, false, mapWriteError(err)
	}
	return created, true, nil
}

// RefreshActiveAlert updates latest_value and summary of the active alert for
// (rule, device, vm) and returns it.
func (r *Repository) RefreshActiveAlert(ctx context.Context, ruleID string, asset models.AssetRef, value float64, summary string) (models.Alert, error) {
	row := r.Store.q(ctx).QueryRow(ctx, `
		UPDATE alerts SET latest_value=$4, summary=$5
		WHERE rule_id=$1 AND COALESCE(device_id, '') = COALESCE($2, '') AND COALESCE(vm_id, '') = COALESCE($3, '')
			AND status IN ('open', 'ack', 'in_progress')
		RETURNING `+alertColumns,
		ruleID, asset.DeviceID, asset.VMID, value, summary,
	)
	rec, err := scanAlert(row)
	if err != nil {
		return models.Alert{}, notFound(err)
	}
	return rec, nil
}

func (r *Repository) GetAlert(ctx context.Context, id string) (models.Alert, error) {
	rec, err := scanAlert(r.Store.q(ctx).QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id=$1`, id))
	if err != nil {
		return models.Alert{}, notFound(err)
	}
	return rec, nil
}

type AlertFilter struct {
	Status   string
	DeviceID string
	VMID     string
	Limit    int
}

func (r *Repository) ListAlerts(ctx context.Context, filter AlertFilter) ([]models.Alert, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.Store.q(ctx).Query(ctx, `
		SELECT `+alertColumns+` FROM alerts
		WHERE ($1 = '' OR status = $1) AND ($2 = '' OR device_id = $2) AND ($3 = '' OR vm_id = $3)
		ORDER BY detected_at DESC LIMIT $4`,
		filter.Status, filter.DeviceID, filter.VMID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []models.Alert{}
	for rows.Next() {
		rec, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

// SetAlertStatus changes an alert's status. Reopening an alert while another
// active one exists for the same key violates the partial index and yields
// ErrConflict.
func (r *Repository) SetAlertStatus(ctx context.Context, id, status string) error {
	tag, err := r.Store.q(ctx).Exec(ctx, `UPDATE alerts SET status=$2 WHERE id=$1`, id, status)
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) CreateAlertUpdate(ctx context.Context, rec models.AlertUpdate) (models.AlertUpdate, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	row := r.Store.q(ctx).QueryRow(ctx, `
		INSERT INTO alert_updates (id, alert_id, status, note, updated_by, updated_at)
		VALUES ($1,$2,$3,$4,$5,now()) RETURNING updated_at`,
		rec.ID, rec.AlertID, rec.Status, rec.Note, rec.UpdatedBy)
	if err := row.Scan(&rec.UpdatedAt); err != nil {
		return models.AlertUpdate{}, mapWriteError(err)
	}
	return rec, nil
}

func (r *Repository) ListAlertUpdates(ctx context.Context, alertID string) ([]models.AlertUpdate, error) {
	rows, err := r.Store.q(ctx).Query(ctx, `
		SELECT id, alert_id, status, note, updated_by, updated_at
		FROM alert_updates WHERE alert_id=$1 ORDER BY updated_at ASC`, alertID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []models.AlertUpdate{}
	for rows.Next() {
		var rec models.AlertUpdate
		if err := rows.Scan(&rec.ID, &rec.AlertID, &rec.Status, &rec.Note, &rec.UpdatedBy, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

func (r *Repository) CreateAssignment(ctx context.Context, rec models.AlertAssignment) (models.AlertAssignment, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	row := r.Store.q(ctx).QueryRow(ctx, `
		INSERT INTO alert_assignments (id, alert_id, team_id, user_id, assigned_at)
		VALUES ($1,$2,$3,$4,now()) RETURNING assigned_at`,
		rec.ID, rec.AlertID, rec.TeamID, rec.UserID)
	if err := row.Scan(&rec.AssignedAt); err != nil {
		return models.AlertAssignment{}, mapWriteError(err)
	}
	return rec, nil
}

func (r *Repository) ListAssignments(ctx context.Context, alertID string) ([]models.AlertAssignment, error) {
	rows, err := r.Store.q(ctx).Query(ctx, `
		SELECT id, alert_id, team_id, user_id, assigned_at
		FROM alert_assignments WHERE alert_id=$1 ORDER BY assigned_at ASC`, alertID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []models.AlertAssignment{}
	for rows.Next() {
		var rec models.AlertAssignment
		if err := rows.Scan(&rec.ID, &rec.AlertID, &rec.TeamID, &rec.UserID, &rec.AssignedAt); err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}
