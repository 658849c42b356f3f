package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"dcops-backend/internal/models"
)

// Provider configs store the credential ciphertext; encryption happens in the
// providers package before rows reach this layer.

func (r *Repository) CreateProviderConfig(ctx context.Context, rec models.ProviderConfig) (models.ProviderConfig, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	row := r.Store.q(ctx).QueryRow(ctx, `
		INSERT INTO extraction_provider_configs (id, provider, label, credential_enc, created_at)
		VALUES ($1,$2,$3,$4,clock_timestamp()) RETURNING created_at`,
		rec.ID, rec.Provider, rec.Label, rec.Credential)
	if err := row.Scan(&rec.CreatedAt); err != nil {
		return models.ProviderConfig{}, mapWriteError(err)
	}
	return rec, nil
}

func (r *Repository) GetProviderConfig(ctx context.Context, id string) (models.ProviderConfig, error) {
	var rec models.ProviderConfig
	row := r.Store.q(ctx).QueryRow(ctx, `
		SELECT id, provider, label, credential_enc, created_at FROM extraction_provider_configs WHERE id=$1`, id)
	if err := row.Scan(&rec.ID, &rec.Provider, &rec.Label, &rec.Credential, &rec.CreatedAt); err != nil {
		return models.ProviderConfig{}, notFound(err)
	}
	return rec, nil
}

// ListProviderConfigs returns configs newest first.
func (r *Repository) ListProviderConfigs(ctx context.Context) ([]models.ProviderConfig, error) {
	rows, err := r.Store.q(ctx).Query(ctx, `
		SELECT id, provider, label, credential_enc, created_at
		FROM extraction_provider_configs ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []models.ProviderConfig{}
	for rows.Next() {
		var rec models.ProviderConfig
		if err := rows.Scan(&rec.ID, &rec.Provider, &rec.Label, &rec.Credential, &rec.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

func (r *Repository) UpdateProviderConfig(ctx context.Context, rec models.ProviderConfig) error {
	tag, err := r.Store.q(ctx).Exec(ctx, `
		UPDATE extraction_provider_configs SET label=$2, credential_enc=$3 WHERE id=$1`,
		rec.ID, rec.Label, rec.Credential)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) DeleteProviderConfig(ctx context.Context, id string) error {
	tag, err := r.Store.q(ctx).Exec(ctx, `DELETE FROM extraction_provider_configs WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SelectedProviderConfigID returns the singleton selection pointer, or nil
// when nothing is selected.
func (r *Repository) SelectedProviderConfigID(ctx context.Context) (*string, error) {
	var id *string
	err := r.Store.q(ctx).QueryRow(ctx, `SELECT selected_config_id FROM extraction_settings WHERE id=1`).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return id, nil
}

func (r *Repository) SetSelectedProviderConfig(ctx context.Context, id *string) error {
	_, err := r.Store.q(ctx).Exec(ctx, `
		INSERT INTO extraction_settings (id, selected_config_id, updated_at) VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET selected_config_id=EXCLUDED.selected_config_id, updated_at=now()`, id)
	return mapWriteError(err)
}
