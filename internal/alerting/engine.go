package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"dcops-backend/internal/models"
	"dcops-backend/internal/notify"
	"dcops-backend/internal/storage"
)

type Store interface {
	MatchingRules(ctx context.Context, metricKey string, groupID *string) ([]models.AlertRule, error)
	InsertOpenAlert(ctx context.Context, rec models.Alert) (models.Alert, bool, error)
	RefreshActiveAlert(ctx context.Context, ruleID string, asset models.AssetRef, value float64, summary string) (models.Alert, error)
	CreateAssignment(ctx context.Context, rec models.AlertAssignment) (models.AlertAssignment, error)
}

type AssetGroups interface {
	GroupOf(ctx context.Context, asset models.AssetRef) (*string, error)
}

type Teams interface {
	GetTeam(ctx context.Context, id string) (models.Team, error)
}

// Sample is one freshly stored metric reading to judge.
type Sample struct {
	Asset          models.AssetRef
	MetricKey      string
	Value          float64
	SourceUploadID *string
}

// Notification is a pending team notice for a newly opened alert. It is sent
// with Engine.Notify once the surrounding transaction has committed.
type Notification struct {
	AlertID string
	TeamID  string
	Summary string
}

type Outcome struct {
	Created       []models.Alert
	Refreshed     []models.Alert
	Notifications []Notification
}

func (o *Outcome) merge(other Outcome) {
	o.Created = append(o.Created, other.Created...)
	o.Refreshed = append(o.Refreshed, other.Refreshed...)
	o.Notifications = append(o.Notifications, other.Notifications...)
}

type Engine struct {
	Store    Store
	Assets   AssetGroups
	Teams    Teams
	Notifier notify.Notifier
	Logger   *slog.Logger
}

// Evaluate judges a sample against every applicable rule. Each breached rule
// either refreshes the active alert for (rule, device, vm) or opens a new one.
// All writes go through ctx, so they join the caller's transaction.
func (e *Engine) Evaluate(ctx context.Context, s Sample) (Outcome, error) {
	var out Outcome
	groupID, err := e.Assets.GroupOf(ctx, s.Asset)
	if err != nil {
		return out, fmt.Errorf("resolve asset group: %w", err)
	}
	rules, err := e.Store.MatchingRules(ctx, s.MetricKey, groupID)
	if err != nil {
		return out, fmt.Errorf("load rules: %w", err)
	}
	for _, rule := range rules {
		if !Compare(rule.Operator, s.Value, rule.Threshold) {
			continue
		}
		res, err := e.apply(ctx, rule, s)
		if err != nil {
			return out, err
		}
		out.merge(res)
	}
	return out, nil
}

func (e *Engine) apply(ctx context.Context, rule models.AlertRule, s Sample) (Outcome, error) {
	var out Outcome
	summary := Summary(rule, s.Value)
	value := s.Value
	ruleID := rule.ID
	// The active alert may be resolved between a refused insert and the
	// refresh, so try the pair twice before giving up.
	for attempt := 0; attempt < 2; attempt++ {
		created, inserted, err := e.Store.InsertOpenAlert(ctx, models.Alert{
			DeviceID:         s.Asset.DeviceID,
			VMID:             s.Asset.VMID,
			RuleID:           &ruleID,
			Severity:         rule.Severity,
			LatestValue:      &value,
			Summary:          &summary,
			EvidenceUploadID: s.SourceUploadID,
		})
		if err != nil {
			return out, fmt.Errorf("open alert for rule %s: %w", rule.ID, err)
		}
		if inserted {
			out.Created = append(out.Created, created)
			if rule.TeamID != nil {
				if _, err := e.Store.CreateAssignment(ctx, models.AlertAssignment{AlertID: created.ID, TeamID: rule.TeamID}); err != nil {
					return out, fmt.Errorf("assign alert %s: %w", created.ID, err)
				}
				out.Notifications = append(out.Notifications, Notification{AlertID: created.ID, TeamID: *rule.TeamID, Summary: summary})
			}
			return out, nil
		}
		refreshed, err := e.Store.RefreshActiveAlert(ctx, rule.ID, s.Asset, s.Value, summary)
		if err == nil {
			out.Refreshed = append(out.Refreshed, refreshed)
			return out, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return out, fmt.Errorf("refresh alert for rule %s: %w", rule.ID, err)
		}
	}
	return out, fmt.Errorf("alert for rule %s changed concurrently", rule.ID)
}

// Notify delivers pending notifications. Failures are logged and never
// returned, so they cannot affect alerts that already exist.
func (e *Engine) Notify(ctx context.Context, notes []Notification) {
	for _, n := range notes {
		if err := e.notifyOne(ctx, n); err != nil {
			e.Logger.Warn("alert notification failed",
				slog.String("alert_id", n.AlertID),
				slog.String("team_id", n.TeamID),
				slog.String("error", err.Error()))
		}
	}
}

func (e *Engine) notifyOne(ctx context.Context, n Notification) error {
	if e.Notifier == nil {
		return nil
	}
	team, err := e.Teams.GetTeam(ctx, n.TeamID)
	if err != nil {
		return fmt.Errorf("load team: %w", err)
	}
	if team.NotificationAlias == nil || *team.NotificationAlias == "" {
		e.Logger.Debug("team has no notification alias", slog.String("team_id", team.ID))
		return nil
	}
	subject := "Alert: " + n.Summary
	body := fmt.Sprintf("Alert %s: %s", n.AlertID, n.Summary)
	return e.Notifier.Notify(ctx, *team.NotificationAlias, subject, body)
}
