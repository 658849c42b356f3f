package storage

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"dcops-backend/internal/models"
)

func setupTestRepository(t *testing.T) (*Repository, func()) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL or DATABASE_URL not set")
	}
	store, err := NewStore(context.Background(), dsn)
	if err != nil {
		t.Fatalf("failed to connect to db: %v", err)
	}
	schema, err := os.ReadFile("../../migrations/0001_init.sql")
	if err != nil {
		t.Fatalf("failed to read schema: %v", err)
	}
	if _, err := store.Pool.Exec(context.Background(), string(schema)); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
	return NewRepository(store), store.Close
}

func createTestUpload(t *testing.T, repo *Repository, deviceID string) models.MonitoringUpload {
	t.Helper()
	upload, err := repo.CreateUpload(context.Background(), models.MonitoringUpload{
		DeviceID:   models.StringPtr(deviceID),
		FileHandle: uuid.NewString() + ".png",
		FileName:   "dash.png",
		MimeType:   "image/png",
		UploadedBy: "tester",
	})
	if err != nil {
		t.Fatalf("create upload: %v", err)
	}
	return upload
}

func TestApplyExtractionOnlyTouchesPending(t *testing.T) {
	repo, cleanup := setupTestRepository(t)
	defer cleanup()
	ctx := context.Background()

	upload := createTestUpload(t, repo, "dev-"+uuid.NewString())
	captured := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	changed, err := repo.ApplyExtraction(ctx, upload.ID, ExtractionUpdate{
		RawText:     "{}",
		Metrics:     []models.MetricRow{{Key: "cpu_util", Value: models.Float64Ptr(42)}},
		Confidence:  0.8,
		Status:      models.ParseStatusReady,
		CaptureTime: &captured,
	})
	if err != nil || !changed {
		t.Fatalf("expected first apply to change row, changed=%v err=%v", changed, err)
	}
	got, err := repo.GetUpload(ctx, upload.ID)
	if err != nil {
		t.Fatalf("get upload: %v", err)
	}
	if got.ParseStatus != models.ParseStatusReady || len(got.ExtractedMetrics) != 1 {
		t.Fatalf("unexpected upload state: %+v", got)
	}
	if got.CaptureTime == nil || !got.CaptureTime.Equal(captured) {
		t.Fatalf("expected capture time adopted, got %v", got.CaptureTime)
	}

	changed, err = repo.ApplyExtraction(ctx, upload.ID, ExtractionUpdate{Status: models.ParseStatusError})
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if changed {
		t.Fatalf("expected non-pending upload to be left alone")
	}
}

func TestInsertOpenAlertDedupsActiveAlert(t *testing.T) {
	repo, cleanup := setupTestRepository(t)
	defer cleanup()
	ctx := context.Background()

	rule, err := repo.CreateRule(ctx, models.AlertRule{
		Name: "cpu high", MetricKey: "cpu_util", Operator: ">", Threshold: 90, Severity: "critical", Enabled: true,
	})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	deviceID := "dev-" + uuid.NewString()
	asset := models.AssetRef{DeviceID: &deviceID}

	first, created, err := repo.InsertOpenAlert(ctx, models.Alert{
		DeviceID: &deviceID, RuleID: &rule.ID, Severity: "critical", LatestValue: models.Float64Ptr(95), Summary: models.StringPtr("cpu_util > 90"),
	})
	if err != nil || !created {
		t.Fatalf("expected alert to be created, created=%v err=%v", created, err)
	}
	_, created, err = repo.InsertOpenAlert(ctx, models.Alert{
		DeviceID: &deviceID, RuleID: &rule.ID, Severity: "critical", LatestValue: models.Float64Ptr(97),
	})
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if created {
		t.Fatalf("expected conflict on active alert")
	}
	refreshed, err := repo.RefreshActiveAlert(ctx, rule.ID, asset, 97, "cpu_util > 90")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refreshed.ID != first.ID || refreshed.LatestValue == nil || *refreshed.LatestValue != 97 {
		t.Fatalf("unexpected refreshed alert: %+v", refreshed)
	}

	if err := repo.SetAlertStatus(ctx, first.ID, models.AlertStatusResolved); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	_, created, err = repo.InsertOpenAlert(ctx, models.Alert{
		DeviceID: &deviceID, RuleID: &rule.ID, Severity: "critical", LatestValue: models.Float64Ptr(99),
	})
	if err != nil || !created {
		t.Fatalf("expected new alert after resolve, created=%v err=%v", created, err)
	}
	if err := repo.SetAlertStatus(ctx, first.ID, models.AlertStatusOpen); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict reopening alert, got %v", err)
	}
}

func TestInTxRollsBack(t *testing.T) {
	repo, cleanup := setupTestRepository(t)
	defer cleanup()
	ctx := context.Background()

	var id string
	boom := errors.New("boom")
	err := repo.InTx(ctx, func(ctx context.Context) error {
		team, err := repo.CreateTeam(ctx, models.Team{Name: "team-" + uuid.NewString()})
		if err != nil {
			return err
		}
		id = team.ID
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := repo.GetTeam(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected rolled back team, got %v", err)
	}
}

func TestMatchingRulesHonoursGroupScope(t *testing.T) {
	repo, cleanup := setupTestRepository(t)
	defer cleanup()
	ctx := context.Background()

	key := "k_" + uuid.NewString()[:8]
	group, err := repo.CreateGroup(ctx, models.MetricGroup{Name: "g-" + uuid.NewString(), Members: []string{key}})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if _, err := repo.CreateRule(ctx, models.AlertRule{Name: "global", MetricKey: key, Operator: ">", Threshold: 1, Severity: "warning", Enabled: true}); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	if _, err := repo.CreateRule(ctx, models.AlertRule{Name: "scoped", MetricKey: key, Operator: ">", Threshold: 1, Severity: "warning", Enabled: true, GroupID: &group.ID}); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	if _, err := repo.CreateRule(ctx, models.AlertRule{Name: "off", MetricKey: key, Operator: ">", Threshold: 1, Severity: "warning", Enabled: false}); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	ungrouped, err := repo.MatchingRules(ctx, key, nil)
	if err != nil {
		t.Fatalf("matching rules: %v", err)
	}
	if len(ungrouped) != 2 {
		t.Fatalf("expected enabled rules regardless of scope, got %+v", ungrouped)
	}
	inGroup, err := repo.MatchingRules(ctx, key, &group.ID)
	if err != nil {
		t.Fatalf("matching rules: %v", err)
	}
	if len(inGroup) != 2 {
		t.Fatalf("expected global and scoped rules, got %+v", inGroup)
	}
	other := uuid.NewString()
	elsewhere, err := repo.MatchingRules(ctx, key, &other)
	if err != nil {
		t.Fatalf("matching rules: %v", err)
	}
	if len(elsewhere) != 1 || elsewhere[0].Name != "global" {
		t.Fatalf("expected only the unscoped rule for another group, got %+v", elsewhere)
	}
}
