package storage

import (
	"context"
	"time"
)

type UploadFile struct {
	ID         string
	FileHandle string
}

// UploadsCreatedBefore lists uploads older than cutoff with their blob handles.
func (r *Repository) UploadsCreatedBefore(ctx context.Context, cutoff time.Time) ([]UploadFile, error) {
	rows, err := r.Store.q(ctx).Query(ctx, `
		SELECT id, file_handle FROM monitoring_uploads WHERE created_at < $1 ORDER BY created_at ASC`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []UploadFile{}
	for rows.Next() {
		var rec UploadFile
		if err := rows.Scan(&rec.ID, &rec.FileHandle); err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

func (r *Repository) DeleteSamplesForUploads(ctx context.Context, uploadIDs []string) (int64, error) {
	tag, err := r.Store.q(ctx).Exec(ctx, `DELETE FROM metric_samples WHERE source_upload_id = ANY($1::uuid[])`, uploadIDs)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) ClearAlertEvidence(ctx context.Context, uploadIDs []string) (int64, error) {
	tag, err := r.Store.q(ctx).Exec(ctx, `
		UPDATE alerts SET evidence_upload_id=NULL WHERE evidence_upload_id = ANY($1::uuid[])`, uploadIDs)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) DeleteUploads(ctx context.Context, uploadIDs []string) (int64, error) {
	tag, err := r.Store.q(ctx).Exec(ctx, `DELETE FROM monitoring_uploads WHERE id = ANY($1::uuid[])`, uploadIDs)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
