package store

import "time"

// RequestStatus is the lifecycle state of an export or deletion request.
type RequestStatus string

// Request states. Requests are cancellable only while pending.
const (
	StatusPending    RequestStatus = "pending"
	StatusProcessing RequestStatus = "processing"
	StatusCompleted  RequestStatus = "completed"
	StatusFailed     RequestStatus = "failed"
	StatusCancelled  RequestStatus = "cancelled"
)

// ExportFormat is the artifact format of an export request.
type ExportFormat string

// Export formats.
const (
	FormatJSON ExportFormat = "json"
	FormatCSV  ExportFormat = "csv"
)

// RetentionPolicy governs how long session data is kept.
type RetentionPolicy struct {
	ID                      string   `json:"id"`
	Name                    string   `json:"name"`
	RetentionPeriodDays     int      `json:"retention_period_days"`
	WarningPeriodDays       int      `json:"warning_period_days"`
	GracePeriodDays         int      `json:"grace_period_days"`
	AutoDelete              bool     `json:"auto_delete"`
	RequireConfirmation     bool     `json:"require_confirmation"`
	ApplicablePrivacyLevels []string `json:"applicable_privacy_levels"`
}

// ExportRequest tracks an asynchronous export job.
type ExportRequest struct {
	ID           string        `json:"id"`
	UserID       string        `json:"user_id"`
	RecordingIDs []string      `json:"recording_ids"`
	Format       ExportFormat  `json:"format"`
	Status       RequestStatus `json:"status"`
	ArtifactPath string        `json:"artifact_path,omitempty"`
	Error        string        `json:"error,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// DeletionRequest tracks an asynchronous deletion job. The purge never
// executes while the request is unconfirmed.
type DeletionRequest struct {
	ID            string        `json:"id"`
	UserID        string        `json:"user_id"`
	RecordingIDs  []string      `json:"recording_ids"`
	Reason        string        `json:"reason,omitempty"`
	Status        RequestStatus `json:"status"`
	CodeHash      []byte        `json:"-"`
	CodeExpiresAt time.Time     `json:"code_expires_at"`
	Error         string        `json:"error,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// HandlingEntry is one row of the append-only data-handling log.
type HandlingEntry struct {
	ID          int64     `json:"id"`
	Action      string    `json:"action"`
	RecordingID string    `json:"recording_id,omitempty"`
	PerformedBy string    `json:"performed_by,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Details     string    `json:"details,omitempty"`
}

// SessionSummary is session metadata without the event log.
type SessionSummary struct {
	ID              string    `json:"id"`
	SubjectID       string    `json:"subject_id"`
	DocumentID      string    `json:"document_id"`
	DocumentTitle   string    `json:"document_title"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	PrivacyLevel    string    `json:"privacy_level"`
	TotalKeystrokes int       `json:"total_keystrokes"`
	TotalCharacters int       `json:"total_characters"`
	AverageWPM      float64   `json:"average_wpm"`
	CreatedAt       time.Time `json:"created_at"`
	PurgedAt        time.Time `json:"purged_at,omitempty"`
}

// Purged reports whether event payloads have been purged.
func (s SessionSummary) Purged() bool {
	return !s.PurgedAt.IsZero()
}
