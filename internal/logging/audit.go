package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType represents the type of data-handling audit event.
type AuditEventType string

// Audit event types.
const (
	AuditEventSessionStart      AuditEventType = "session_start"
	AuditEventSessionEnd        AuditEventType = "session_end"
	AuditEventSessionPersisted  AuditEventType = "session_persisted"
	AuditEventExportRequested   AuditEventType = "export_requested"
	AuditEventExportCompleted   AuditEventType = "export_completed"
	AuditEventDeletionRequested AuditEventType = "deletion_requested"
	AuditEventDeletionConfirmed AuditEventType = "deletion_confirmed"
	AuditEventDeletionCancelled AuditEventType = "deletion_cancelled"
	AuditEventPurge             AuditEventType = "purge_executed"
	AuditEventPolicyChange      AuditEventType = "policy_change"
	AuditEventAccessDenied      AuditEventType = "access_denied"
	AuditEventError             AuditEventType = "error"
)

// AuditEvent records one privacy-relevant action against session data.
// The audit trail is append-only and is never itself subject to the
// deletion flows it records.
type AuditEvent struct {
	Timestamp   time.Time      `json:"timestamp"`
	EventType   AuditEventType `json:"event_type"`
	Component   string         `json:"component"`
	RecordingID string         `json:"recording_id,omitempty"`
	SubjectID   string         `json:"subject_id,omitempty"`
	PerformedBy string         `json:"performed_by,omitempty"`
	Action      string         `json:"action"`
	Result      string         `json:"result"` // "success", "failure", "denied"
	Details     map[string]any `json:"details,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// AuditLoggerConfig holds configuration for the audit logger.
type AuditLoggerConfig struct {
	// FilePath is the path to the audit log file.
	FilePath string

	// MaxSize is the maximum size in MB before rotation.
	MaxSize int64

	// MaxAge is the maximum age in days before deletion of rotated files.
	MaxAge int

	// MaxBackups is the maximum number of rotated files to keep.
	MaxBackups int

	// Compress gzips rotated files.
	Compress bool

	// Component is the default component name for audit events.
	Component string
}

// DefaultAuditConfig returns default audit logger configuration.
//
// Audit files are retained longer than operational logs because they
// back the data-handling accountability trail.
func DefaultAuditConfig() *AuditLoggerConfig {
	return &AuditLoggerConfig{
		FilePath:   defaultAuditLogPath(),
		MaxSize:    50,
		MaxAge:     365,
		MaxBackups: 12,
		Compress:   true,
		Component:  "typetrace",
	}
}

// defaultAuditLogPath returns the platform-specific default audit log path.
func defaultAuditLogPath() string {
	return filepath.Join(filepath.Dir(defaultLogPath()), "audit.log")
}

// AuditLogger writes the append-only data-handling trail.
type AuditLogger struct {
	config  *AuditLoggerConfig
	rotator *FileRotator
	logger  *slog.Logger
	mu      sync.Mutex
}

var (
	defaultAuditLogger *AuditLogger
	auditLoggerOnce    sync.Once
)

// DefaultAuditLogger returns the default global audit logger.
func DefaultAuditLogger() *AuditLogger {
	auditLoggerOnce.Do(func() {
		var err error
		defaultAuditLogger, err = NewAuditLogger(DefaultAuditConfig())
		if err != nil {
			defaultAuditLogger = &AuditLogger{
				config: DefaultAuditConfig(),
				logger: slog.Default(),
			}
		}
	})
	return defaultAuditLogger
}

// NewAuditLogger creates a new AuditLogger.
func NewAuditLogger(cfg *AuditLoggerConfig) (*AuditLogger, error) {
	if cfg == nil {
		cfg = DefaultAuditConfig()
	}

	rotator, err := NewFileRotator(&Config{
		FilePath:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxAge:     cfg.MaxAge,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("create audit rotator: %w", err)
	}

	return &AuditLogger{
		config:  cfg,
		rotator: rotator,
		logger:  slog.New(slog.NewJSONHandler(rotator, &slog.HandlerOptions{Level: LevelInfo})),
	}, nil
}

// Log writes an audit event.
func (a *AuditLogger) Log(ctx context.Context, event AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Component == "" {
		event.Component = a.config.Component
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	data = append(data, '\n')
	if a.rotator != nil {
		if _, err := a.rotator.Write(data); err != nil {
			return fmt.Errorf("write audit event: %w", err)
		}
		return nil
	}

	// Fallback logger path (no rotator configured).
	a.logger.InfoContext(ctx, "audit", slog.String("event", string(data)))
	return nil
}

// LogSessionStart logs the start of a capture session.
func (a *AuditLogger) LogSessionStart(ctx context.Context, recordingID, subjectID string, details map[string]any) error {
	return a.Log(ctx, AuditEvent{
		EventType:   AuditEventSessionStart,
		Action:      "capture_started",
		Result:      "success",
		RecordingID: recordingID,
		SubjectID:   subjectID,
		Details:     details,
	})
}

// LogSessionEnd logs the finalization of a capture session.
func (a *AuditLogger) LogSessionEnd(ctx context.Context, recordingID string, details map[string]any) error {
	return a.Log(ctx, AuditEvent{
		EventType:   AuditEventSessionEnd,
		Action:      "capture_finalized",
		Result:      "success",
		RecordingID: recordingID,
		Details:     details,
	})
}

// LogExport logs an export lifecycle event.
func (a *AuditLogger) LogExport(ctx context.Context, eventType AuditEventType, requestedBy, recordingID string, success bool, details map[string]any) error {
	result := "success"
	if !success {
		result = "failure"
	}
	return a.Log(ctx, AuditEvent{
		EventType:   eventType,
		Action:      "export",
		Result:      result,
		RecordingID: recordingID,
		PerformedBy: requestedBy,
		Details:     details,
	})
}

// LogDeletion logs a deletion lifecycle event.
func (a *AuditLogger) LogDeletion(ctx context.Context, eventType AuditEventType, requestedBy, recordingID string, details map[string]any) error {
	return a.Log(ctx, AuditEvent{
		EventType:   eventType,
		Action:      "deletion",
		Result:      "success",
		RecordingID: recordingID,
		PerformedBy: requestedBy,
		Details:     details,
	})
}

// LogAccessDenied logs a rejected request.
func (a *AuditLogger) LogAccessDenied(ctx context.Context, requestedBy, recordingID, reason string) error {
	return a.Log(ctx, AuditEvent{
		EventType:   AuditEventAccessDenied,
		Action:      "request_rejected",
		Result:      "denied",
		RecordingID: recordingID,
		PerformedBy: requestedBy,
		Details:     map[string]any{"reason": reason},
	})
}

// LogError logs a failed operation.
func (a *AuditLogger) LogError(ctx context.Context, operation string, err error, details map[string]any) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventError,
		Action:    operation,
		Result:    "failure",
		Error:     err.Error(),
		Details:   details,
	})
}

// Close closes the audit logger.
func (a *AuditLogger) Close() error {
	if a.rotator != nil {
		return a.rotator.Close()
	}
	return nil
}

// Sync flushes any buffered audit events.
func (a *AuditLogger) Sync() error {
	if a.rotator != nil {
		return a.rotator.Sync()
	}
	return nil
}

// Audit logs an audit event using the default audit logger.
func Audit(ctx context.Context, event AuditEvent) error {
	return DefaultAuditLogger().Log(ctx, event)
}
