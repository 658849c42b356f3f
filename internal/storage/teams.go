package storage

import (
	"context"

	"github.com/google/uuid"

	"dcops-backend/internal/models"
)

func (r *Repository) CreateTeam(ctx context.Context, rec models.Team) (models.Team, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	row := r.Store.q(ctx).QueryRow(ctx, `
		INSERT INTO teams (id, name, notification_alias, created_at) VALUES ($1,$2,$3,now()) RETURNING created_at`,
		rec.ID, rec.Name, rec.NotificationAlias)
	if err := row.Scan(&rec.CreatedAt); err != nil {
		return models.Team{}, mapWriteError(err)
	}
	return rec, nil
}

func (r *Repository) GetTeam(ctx context.Context, id string) (models.Team, error) {
	var rec models.Team
	row := r.Store.q(ctx).QueryRow(ctx, `SELECT id, name, notification_alias, created_at FROM teams WHERE id=$1`, id)
	if err := row.Scan(&rec.ID, &rec.Name, &rec.NotificationAlias, &rec.CreatedAt); err != nil {
		return models.Team{}, notFound(err)
	}
	return rec, nil
}

func (r *Repository) ListTeams(ctx context.Context) ([]models.Team, error) {
	rows, err := r.Store.q(ctx).Query(ctx, `SELECT id, name, notification_alias, created_at FROM teams ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []models.Team{}
	for rows.Next() {
		var rec models.Team
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.NotificationAlias, &rec.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}
