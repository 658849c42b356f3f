package alerting

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"dcops-backend/internal/models"
	"dcops-backend/internal/storage"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
)

type ManagementStore interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetAlert(ctx context.Context, id string) (models.Alert, error)
	ListAlerts(ctx context.Context, filter storage.AlertFilter) ([]models.Alert, error)
	SetAlertStatus(ctx context.Context, id, status string) error
	CreateAlertUpdate(ctx context.Context, rec models.AlertUpdate) (models.AlertUpdate, error)
	ListAlertUpdates(ctx context.Context, alertID string) ([]models.AlertUpdate, error)
	CreateAssignment(ctx context.Context, rec models.AlertAssignment) (models.AlertAssignment, error)
	ListAssignments(ctx context.Context, alertID string) ([]models.AlertAssignment, error)
	GetTeam(ctx context.Context, id string) (models.Team, error)
}

// Service handles operator actions on existing alerts.
type Service struct {
	Store ManagementStore
}

var statusPattern = regexp.MustCompile(`^[a-z][a-z_]{0,31}$`)

func (s *Service) List(ctx context.Context, filter storage.AlertFilter) ([]models.Alert, error) {
	return s.Store.ListAlerts(ctx, filter)
}

type Detail struct {
	Alert       models.Alert             `json:"alert"`
	Updates     []models.AlertUpdate     `json:"updates"`
	Assignments []models.AlertAssignment `json:"assignments"`
}

func (s *Service) Get(ctx context.Context, id string) (Detail, error) {
	alert, err := s.Store.GetAlert(ctx, id)
	if err != nil {
		return Detail{}, mapStoreError(err)
	}
	updates, err := s.Store.ListAlertUpdates(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	assignments, err := s.Store.ListAssignments(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	return Detail{Alert: alert, Updates: updates, Assignments: assignments}, nil
}

func (s *Service) Updates(ctx context.Context, id string) ([]models.AlertUpdate, error) {
	if _, err := s.Store.GetAlert(ctx, id); err != nil {
		return nil, mapStoreError(err)
	}
	return s.Store.ListAlertUpdates(ctx, id)
}

// UpdateStatus moves an alert to status and appends an update entry. Moving
// a terminal alert back to an active status fails with ErrConflict when
// another active alert already exists for the same rule and asset.
func (s *Service) UpdateStatus(ctx context.Context, alertID, status string, note *string, updatedBy string) (models.Alert, error) {
	if !statusPattern.MatchString(status) {
		return models.Alert{}, fmt.Errorf("%w: status must be lower-case letters and underscores", ErrInvalidInput)
	}
	var updated models.Alert
	err := s.Store.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.Store.GetAlert(ctx, alertID); err != nil {
			return err
		}
		if err := s.Store.SetAlertStatus(ctx, alertID, status); err != nil {
			return err
		}
		var by *string
		if updatedBy != "" {
			by = &updatedBy
		}
		if _, err := s.Store.CreateAlertUpdate(ctx, models.AlertUpdate{AlertID: alertID, Status: status, Note: note, UpdatedBy: by}); err != nil {
			return err
		}
		var err error
		updated, err = s.Store.GetAlert(ctx, alertID)
		return err
	})
	if err != nil {
		return models.Alert{}, mapStoreError(err)
	}
	return updated, nil
}

// Assign records a new assignment of the alert to a team, a user, or both.
func (s *Service) Assign(ctx context.Context, alertID string, teamID, userID *string) (models.AlertAssignment, error) {
	if (teamID == nil || *teamID == "") && (userID == nil || *userID == "") {
		return models.AlertAssignment{}, fmt.Errorf("%w: team_id or user_id is required", ErrInvalidInput)
	}
	var created models.AlertAssignment
	err := s.Store.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.Store.GetAlert(ctx, alertID); err != nil {
			return err
		}
		if teamID != nil && *teamID != "" {
			if _, err := s.Store.GetTeam(ctx, *teamID); err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return fmt.Errorf("%w: team %s does not exist", ErrInvalidInput, *teamID)
				}
				return err
			}
		} else {
			teamID = nil
		}
		if userID != nil && *userID == "" {
			userID = nil
		}
		var err error
		created, err = s.Store.CreateAssignment(ctx, models.AlertAssignment{AlertID: alertID, TeamID: teamID, UserID: userID})
		return err
	})
	if err != nil {
		return models.AlertAssignment{}, mapStoreError(err)
	}
	return created, nil
}

func mapStoreError(err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, storage.ErrConflict):
		return fmt.Errorf("%w: another active alert exists for this rule and asset", ErrConflict)
	default:
		return err
	}
}
