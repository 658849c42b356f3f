package models

import "time"

type ParseStatus string

const (
	ParseStatusPending ParseStatus = "pending"
	ParseStatusReady   ParseStatus = "ready"
	ParseStatusError   ParseStatus = "error"
	ParseStatusOK      ParseStatus = "ok"
)

// Alert statuses form an open set; these are the ones the engine knows about.
const (
	AlertStatusOpen       = "open"
	AlertStatusAck        = "ack"
	AlertStatusInProgress = "in_progress"
	AlertStatusResolved   = "resolved"
)

// ActiveAlertStatuses are the non-terminal statuses. At most one alert per
// (rule, device, vm) may hold one of them.
var ActiveAlertStatuses = []string{AlertStatusOpen, AlertStatusAck, AlertStatusInProgress}

func IsActiveAlertStatus(status string) bool {
	for _, s := range ActiveAlertStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// AssetRef points at a device, a VM, or (transiently) neither.
type AssetRef struct {
	DeviceID *string `json:"device_id"`
	VMID     *string `json:"vm_id"`
}

func (a AssetRef) IsZero() bool {
	return a.DeviceID == nil && a.VMID == nil
}

// MetricRow is one extracted or user-edited metric reading. Key is an open
// vocabulary; a nil Value means the reading was not visible.
type MetricRow struct {
	IPAddress  *string  `json:"ip_address,omitempty"`
	Key        string   `json:"key"`
	Value      *float64 `json:"value"`
	Unit       *string  `json:"unit,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	DeviceID   *string  `json:"device_id,omitempty"`
	VMID       *string  `json:"vm_id,omitempty"`
}

type MonitoringUpload struct {
	ID               string      `json:"id"`
	DeviceID         *string     `json:"device_id"`
	VMID             *string     `json:"vm_id"`
	LocationID       *string     `json:"location_id"`
	FileHandle       string      `json:"-"`
	FileName         string      `json:"file_name"`
	MimeType         string      `json:"mime_type"`
	UploadedBy       string      `json:"uploaded_by"`
	CaptureTime      *time.Time  `json:"capture_time"`
	DashboardLabel   *string     `json:"dashboard_label"`
	RawText          *string     `json:"raw_text"`
	ExtractedMetrics []MetricRow `json:"extracted_metrics"`
	ParseStatus      ParseStatus `json:"parse_status"`
	ParseConfidence  *float64    `json:"parse_confidence"`
	ParseError       *string     `json:"parse_error"`
	CreatedAt        time.Time   `json:"created_at"`
}

func (u MonitoringUpload) Asset() AssetRef {
	return AssetRef{DeviceID: u.DeviceID, VMID: u.VMID}
}

type MetricSample struct {
	ID             string    `json:"id"`
	DeviceID       *string   `json:"device_id"`
	VMID           *string   `json:"vm_id"`
	CapturedAt     time.Time `json:"captured_at"`
	MetricKey      string    `json:"metric_key"`
	Value          float64   `json:"value"`
	Unit           *string   `json:"unit"`
	SourceUploadID *string   `json:"source_upload_id"`
	Confidence     *float64  `json:"confidence"`
}

type MetricGroup struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	Members     []string  `json:"members"`
	CreatedAt   time.Time `json:"created_at"`
}

type AlertRule struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	GroupID         *string   `json:"group_id"`
	MetricKey       string    `json:"metric_key"`
	Operator        string    `json:"operator"`
	Threshold       float64   `json:"threshold"`
	DurationMinutes int       `json:"duration_minutes"`
	Severity        string    `json:"severity"`
	MessageTemplate *string   `json:"message_template"`
	TeamID          *string   `json:"team_id"`
	Enabled         bool      `json:"enabled"`
	CreatedAt       time.Time `json:"created_at"`
}

type Alert struct {
	ID               string    `json:"id"`
	DeviceID         *string   `json:"device_id"`
	VMID             *string   `json:"vm_id"`
	RuleID           *string   `json:"rule_id"`
	Status           string    `json:"status"`
	Severity         string    `json:"severity"`
	DetectedAt       time.Time `json:"detected_at"`
	LatestValue      *float64  `json:"latest_value"`
	Summary          *string   `json:"summary"`
	EvidenceUploadID *string   `json:"evidence_upload_id"`
}

type AlertUpdate struct {
	ID        string    `json:"id"`
	AlertID   string    `json:"alert_id"`
	Status    string    `json:"status"`
	Note      *string   `json:"note"`
	UpdatedBy *string   `json:"updated_by"`
	UpdatedAt time.Time `json:"updated_at"`
}

type AlertAssignment struct {
	ID         string    `json:"id"`
	AlertID    string    `json:"alert_id"`
	TeamID     *string   `json:"team_id"`
	UserID     *string   `json:"user_id"`
	AssignedAt time.Time `json:"assigned_at"`
}

type Team struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	NotificationAlias *string   `json:"notification_alias"`
	CreatedAt         time.Time `json:"created_at"`
}

// ProviderConfig is a stored extraction provider credential. Credential holds
// the ciphertext when read from storage and the plaintext once decrypted.
type ProviderConfig struct {
	ID         string    `json:"id"`
	Provider   string    `json:"provider"`
	Label      *string   `json:"label"`
	Credential string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// Device and VM are read-only views of assets owned by the inventory system.
type Device struct {
	ID        string
	IPAddress string
	GroupID   *string
}

type VM struct {
	ID        string
	IPAddress string
	GroupID   *string
}

func StringPtr(s string) *string {
	return &s
}

func Float64Ptr(f float64) *float64 {
	return &f
}
