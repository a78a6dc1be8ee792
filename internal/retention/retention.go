// Package retention implements the data retention lifecycle for
// recorded sessions: policies, status computation, user-driven export
// and deletion requests, and scheduled auto-delete.
//
// Every state-changing operation appends a data-handling log entry and
// an audit event. The handling log is append-only and is never itself
// subject to the deletion flows it records.
package retention

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"typetrace/internal/event"
	"typetrace/internal/logging"
	"typetrace/internal/store"
)

// Errors
var (
	ErrUnauthorized     = errors.New("retention: requester is not the recording subject")
	ErrDeletionInFlight = errors.New("retention: a deletion is already in flight for this recording")
	ErrAlreadyDeleted   = errors.New("retention: recording already deleted")
	ErrNotPending       = errors.New("retention: request is no longer pending")
	ErrInvalidCode      = errors.New("retention: invalid confirmation code")
	ErrCodeExpired      = errors.New("retention: confirmation code expired")
	ErrNoPolicy         = errors.New("retention: no policy for privacy level")
)

// Config controls retention background work.
type Config struct {
	// SweepInterval is how often the auto-delete sweeper runs.
	SweepInterval time.Duration

	// ConfirmationTTL is how long a deletion confirmation code stays
	// valid.
	ConfirmationTTL time.Duration

	// ExportDir is where export artifacts are written.
	ExportDir string
}

// DefaultConfig returns retention defaults.
func DefaultConfig() Config {
	return Config{
		SweepInterval:   time.Hour,
		ConfirmationTTL: 15 * time.Minute,
		ExportDir:       "exports",
	}
}

// Manager coordinates retention policies, export and deletion requests,
// and the auto-delete sweeper over the session store.
type Manager struct {
	cfg    Config
	store  *store.Store
	logger *logging.Logger
	audit  *logging.AuditLogger
	codes  *codeIssuer
	export *exporter

	// mu serializes deletion state transitions so at most one purge
	// can be in flight per recording.
	mu sync.Mutex

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewManager creates a retention manager, seeding the default policy
// set when the store holds none.
func NewManager(cfg Config, s *store.Store, logger *logging.Logger, audit *logging.AuditLogger) (*Manager, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Hour
	}
	if cfg.ConfirmationTTL <= 0 {
		cfg.ConfirmationTTL = 15 * time.Minute
	}

	codes, err := newCodeIssuer()
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:    cfg,
		store:  s,
		logger: logger.WithComponent("retention"),
		audit:  audit,
		codes:  codes,
		stopCh: make(chan struct{}),
	}
	m.export = newExporter(cfg.ExportDir, s, m.logger, audit)

	if err := m.seedDefaultPolicies(); err != nil {
		return nil, err
	}
	return m, nil
}

// Start launches the export worker and the auto-delete sweeper.
func (m *Manager) Start() {
	m.export.start()
	m.wg.Add(1)
	go m.sweepLoop()
}

// Close stops background work and waits for it to drain.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.export.stop()
	m.wg.Wait()
}

// seedDefaultPolicies installs one policy per privacy level. Lower
// privacy levels keep data longer since they hold less.
func (m *Manager) seedDefaultPolicies() error {
	existing, err := m.store.ListPolicies()
	if err != nil {
		return fmt.Errorf("list policies: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	defaults := []store.RetentionPolicy{
		{
			ID:                      "full-90d",
			Name:                    "Full capture, 90 days",
			RetentionPeriodDays:     90,
			WarningPeriodDays:       14,
			GracePeriodDays:         7,
			AutoDelete:              true,
			RequireConfirmation:     true,
			ApplicablePrivacyLevels: []string{string(event.PrivacyFull)},
		},
		{
			ID:                      "anonymized-180d",
			Name:                    "Anonymized capture, 180 days",
			RetentionPeriodDays:     180,
			WarningPeriodDays:       14,
			GracePeriodDays:         7,
			AutoDelete:              true,
			RequireConfirmation:     true,
			ApplicablePrivacyLevels: []string{string(event.PrivacyAnonymized)},
		},
		{
			ID:                      "metadata-365d",
			Name:                    "Metadata only, 365 days",
			RetentionPeriodDays:     365,
			WarningPeriodDays:       30,
			GracePeriodDays:         14,
			AutoDelete:              false,
			RequireConfirmation:     false,
			ApplicablePrivacyLevels: []string{string(event.PrivacyMetadataOnly)},
		},
	}
	for i := range defaults {
		if err := m.store.UpsertPolicy(&defaults[i]); err != nil {
			return fmt.Errorf("seed policy %s: %w", defaults[i].ID, err)
		}
	}
	m.logger.Info("seeded default retention policies", "count", len(defaults))
	return nil
}

// PolicyFor returns the active policy for a privacy level.
func (m *Manager) PolicyFor(level event.PrivacyLevel) (store.RetentionPolicy, error) {
	policies, err := m.store.ListPolicies()
	if err != nil {
		return store.RetentionPolicy{}, fmt.Errorf("list policies: %w", err)
	}
	for _, p := range policies {
		for _, l := range p.ApplicablePrivacyLevels {
			if l == string(level) {
				return p, nil
			}
		}
	}
	return store.RetentionPolicy{}, fmt.Errorf("%w: %s", ErrNoPolicy, level)
}

// SetPolicy installs or replaces a policy and records the change.
func (m *Manager) SetPolicy(ctx context.Context, p store.RetentionPolicy, performedBy string) error {
	if err := m.store.UpsertPolicy(&p); err != nil {
		return err
	}
	m.appendHandling("policy_change", "", performedBy,
		fmt.Sprintf("policy %s: retention %dd, grace %dd, auto_delete %t",
			p.ID, p.RetentionPeriodDays, p.GracePeriodDays, p.AutoDelete))
	if m.audit != nil {
		m.audit.Log(ctx, logging.AuditEvent{
			EventType:   logging.AuditEventPolicyChange,
			Component:   "retention",
			PerformedBy: performedBy,
			Action:      "set_policy",
			Result:      "success",
			Details:     map[string]any{"policy_id": p.ID},
		})
	}
	return nil
}

// StatusFor computes the retention status of a recording as of now.
func (m *Manager) StatusFor(recordingID string, now time.Time) (RetentionStatus, error) {
	sum, err := m.store.GetSummary(recordingID)
	if err != nil {
		return RetentionStatus{}, err
	}
	policy, err := m.PolicyFor(event.PrivacyLevel(sum.PrivacyLevel))
	if err != nil {
		return RetentionStatus{}, err
	}
	return ComputeStatus(sum.CreatedAt, policy, now), nil
}

// RequestExport opens an asynchronous export job for the given
// recordings. The requester must be the subject of every recording.
func (m *Manager) RequestExport(ctx context.Context, userID string, recordingIDs []string, format store.ExportFormat) (*store.ExportRequest, error) {
	if err := m.authorize(ctx, userID, recordingIDs); err != nil {
		return nil, err
	}

	req := &store.ExportRequest{
		ID:           uuid.NewString(),
		UserID:       userID,
		RecordingIDs: recordingIDs,
		Format:       format,
		Status:       store.StatusPending,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if err := m.store.InsertExportRequest(req); err != nil {
		return nil, fmt.Errorf("create export request: %w", err)
	}

	m.appendHandling("export_requested", strings.Join(recordingIDs, ","), userID,
		fmt.Sprintf("format=%s request=%s", format, req.ID))
	if m.audit != nil {
		m.audit.LogExport(ctx, logging.AuditEventExportRequested, userID,
			strings.Join(recordingIDs, ","), true, map[string]any{"request_id": req.ID, "format": string(format)})
	}

	m.export.enqueue(req.ID)
	return req, nil
}

// CancelExport cancels a pending export request. Requests past pending
// cannot be cancelled.
func (m *Manager) CancelExport(ctx context.Context, requestID, userID string) error {
	req, err := m.store.GetExportRequest(requestID)
	if err != nil {
		return err
	}
	if req.UserID != userID {
		m.denyAccess(ctx, userID, requestID, "cancel export of another user")
		return ErrUnauthorized
	}
	if req.Status != store.StatusPending {
		return fmt.Errorf("%w: status %s", ErrNotPending, req.Status)
	}
	if err := m.store.UpdateExportRequest(requestID, store.StatusCancelled, "", ""); err != nil {
		return err
	}
	m.appendHandling("export_cancelled", strings.Join(req.RecordingIDs, ","), userID, "request="+requestID)
	return nil
}

// DeletionOutcome is the result of a deletion request.
type DeletionOutcome struct {
	Request *store.DeletionRequest

	// ConfirmationCode is set when the policy requires confirmation.
	// It is delivered out-of-band and never persisted.
	ConfirmationCode string

	// AlreadyDeleted lists requested recordings that were purged
	// before this request.
	AlreadyDeleted []string
}

// RequestDeletion opens a deletion request for the given recordings.
// When the governing policy requires confirmation the purge waits for
// ConfirmDeletion; otherwise it executes immediately. Recordings that
// are already purged are reported, not re-purged.
func (m *Manager) RequestDeletion(ctx context.Context, userID string, recordingIDs []string, reason string) (*DeletionOutcome, error) {
	if err := m.authorize(ctx, userID, recordingIDs); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	outcome := &DeletionOutcome{}
	var remaining []string
	needConfirmation := false
	for _, id := range recordingIDs {
		sum, err := m.store.GetSummary(id)
		if err != nil {
			return nil, err
		}
		if sum.Purged() {
			outcome.AlreadyDeleted = append(outcome.AlreadyDeleted, id)
			continue
		}
		if active, err := m.store.ActiveDeletionFor(id); err != nil {
			return nil, err
		} else if active != nil {
			return nil, fmt.Errorf("%w: recording %s (request %s)", ErrDeletionInFlight, id, active.ID)
		}
		policy, err := m.PolicyFor(event.PrivacyLevel(sum.PrivacyLevel))
		if err != nil {
			return nil, err
		}
		if policy.RequireConfirmation {
			needConfirmation = true
		}
		remaining = append(remaining, id)
	}

	if len(remaining) == 0 {
		return outcome, ErrAlreadyDeleted
	}

	req := &store.DeletionRequest{
		ID:           uuid.NewString(),
		UserID:       userID,
		RecordingIDs: remaining,
		Reason:       reason,
		Status:       store.StatusPending,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	if needConfirmation {
		code, hash, err := m.codes.Issue()
		if err != nil {
			return nil, err
		}
		req.CodeHash = hash
		req.CodeExpiresAt = time.Now().Add(m.cfg.ConfirmationTTL)
		outcome.ConfirmationCode = code
	}

	if err := m.store.InsertDeletionRequest(req); err != nil {
		return nil, fmt.Errorf("create deletion request: %w", err)
	}
	outcome.Request = req

	m.appendHandling("deletion_requested", strings.Join(remaining, ","), userID,
		fmt.Sprintf("request=%s reason=%q confirmation=%t", req.ID, reason, needConfirmation))
	if m.audit != nil {
		m.audit.LogDeletion(ctx, logging.AuditEventDeletionRequested, userID,
			strings.Join(remaining, ","), map[string]any{"request_id": req.ID, "confirmation_required": needConfirmation})
	}

	if !needConfirmation {
		if err := m.executePurgeLocked(ctx, req); err != nil {
			return outcome, err
		}
	}
	return outcome, nil
}

// ConfirmDeletion validates the confirmation code and executes the
// purge. Expired codes are rejected and the request stays pending until
// cancelled or re-requested.
func (m *Manager) ConfirmDeletion(ctx context.Context, requestID, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, err := m.store.GetDeletionRequest(requestID)
	if err != nil {
		return err
	}
	if req.Status != store.StatusPending {
		return fmt.Errorf("%w: status %s", ErrNotPending, req.Status)
	}
	if len(req.CodeHash) == 0 {
		return ErrInvalidCode
	}
	if time.Now().After(req.CodeExpiresAt) {
		m.appendHandling("deletion_confirmation_rejected", strings.Join(req.RecordingIDs, ","), req.UserID,
			"request="+requestID+" expired code")
		return ErrCodeExpired
	}
	if !m.codes.Verify(code, req.CodeHash) {
		m.appendHandling("deletion_confirmation_rejected", strings.Join(req.RecordingIDs, ","), req.UserID,
			"request="+requestID+" invalid code")
		return ErrInvalidCode
	}

	m.appendHandling("deletion_confirmed", strings.Join(req.RecordingIDs, ","), req.UserID, "request="+requestID)
	if m.audit != nil {
		m.audit.LogDeletion(ctx, logging.AuditEventDeletionConfirmed, req.UserID,
			strings.Join(req.RecordingIDs, ","), map[string]any{"request_id": req.ID})
	}
	return m.executePurgeLocked(ctx, req)
}

// CancelDeletion cancels a pending deletion request.
func (m *Manager) CancelDeletion(ctx context.Context, requestID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, err := m.store.GetDeletionRequest(requestID)
	if err != nil {
		return err
	}
	if req.UserID != userID {
		m.denyAccess(ctx, userID, requestID, "cancel deletion of another user")
		return ErrUnauthorized
	}
	if req.Status != store.StatusPending {
		return fmt.Errorf("%w: status %s", ErrNotPending, req.Status)
	}
	if err := m.store.UpdateDeletionRequest(requestID, store.StatusCancelled, ""); err != nil {
		return err
	}
	m.appendHandling("deletion_cancelled", strings.Join(req.RecordingIDs, ","), userID, "request="+requestID)
	if m.audit != nil {
		m.audit.LogDeletion(ctx, logging.AuditEventDeletionCancelled, userID,
			strings.Join(req.RecordingIDs, ","), map[string]any{"request_id": req.ID})
	}
	return nil
}

// executePurgeLocked transitions the request to processing and purges
// event payloads. Session metadata and the handling log survive.
// Caller holds m.mu.
func (m *Manager) executePurgeLocked(ctx context.Context, req *store.DeletionRequest) error {
	if err := m.store.UpdateDeletionRequest(req.ID, store.StatusProcessing, ""); err != nil {
		return err
	}

	for _, id := range req.RecordingIDs {
		purged, err := m.store.PurgeEvents(id)
		if err != nil {
			if uerr := m.store.UpdateDeletionRequest(req.ID, store.StatusFailed, err.Error()); uerr != nil {
				m.logger.Error("mark deletion failed", "request_id", req.ID, "error", uerr)
			}
			return fmt.Errorf("purge recording %s: %w", id, err)
		}
		if !purged {
			continue
		}
		m.appendHandling("purge_executed", id, req.UserID, "request="+req.ID)
		if m.audit != nil {
			m.audit.LogDeletion(ctx, logging.AuditEventPurge, req.UserID, id,
				map[string]any{"request_id": req.ID})
		}
		m.logger.Info("purged recording", "recording_id", id, "request_id", req.ID)
	}

	return m.store.UpdateDeletionRequest(req.ID, store.StatusCompleted, "")
}

// authorize checks that userID is the subject of every recording.
func (m *Manager) authorize(ctx context.Context, userID string, recordingIDs []string) error {
	for _, id := range recordingIDs {
		sum, err := m.store.GetSummary(id)
		if err != nil {
			return err
		}
		if sum.SubjectID != userID {
			m.denyAccess(ctx, userID, id, "requester is not the recording subject")
			return fmt.Errorf("%w: recording %s", ErrUnauthorized, id)
		}
	}
	return nil
}

func (m *Manager) denyAccess(ctx context.Context, userID, target, reason string) {
	m.appendHandling("access_denied", target, userID, reason)
	if m.audit != nil {
		m.audit.LogAccessDenied(ctx, userID, target, reason)
	}
}

// appendHandling writes one data-handling log row. Failures are logged
// rather than propagated so audit trouble never blocks the operation
// it describes.
func (m *Manager) appendHandling(action, recordingID, performedBy, details string) {
	_, err := m.store.AppendHandlingEntry(&store.HandlingEntry{
		Action:      action,
		RecordingID: recordingID,
		PerformedBy: performedBy,
		Timestamp:   time.Now(),
		Details:     details,
	})
	if err != nil {
		m.logger.Error("append handling entry", "action", action, "error", err)
	}
}

// sweepLoop runs the auto-delete sweeper until Close.
func (m *Manager) sweepLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if err := m.Sweep(context.Background(), time.Now()); err != nil {
				m.logger.Error("retention sweep", "error", err)
			}
		}
	}
}

// Sweep purges recordings whose status has reached Expired under an
// auto-delete policy. It runs as scheduled background work, never as
// part of a user-facing request path.
func (m *Manager) Sweep(ctx context.Context, now time.Time) error {
	sessions, err := m.store.ListSessions(store.SessionFilter{})
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	purged := 0
	for _, sum := range sessions {
		if sum.Purged() {
			continue
		}
		policy, err := m.PolicyFor(event.PrivacyLevel(sum.PrivacyLevel))
		if err != nil {
			m.logger.Warn("no policy for session", "session_id", sum.ID, "privacy_level", sum.PrivacyLevel)
			continue
		}
		if !policy.AutoDelete {
			continue
		}
		if ComputeStatus(sum.CreatedAt, policy, now).Status != StatusExpired {
			continue
		}

		m.mu.Lock()
		active, err := m.store.ActiveDeletionFor(sum.ID)
		if err == nil && active == nil {
			if done, perr := m.store.PurgeEvents(sum.ID); perr == nil && done {
				purged++
				m.appendHandling("auto_purge_executed", sum.ID, "system",
					fmt.Sprintf("policy=%s expired=%s", policy.ID, sum.CreatedAt.AddDate(0, 0, policy.RetentionPeriodDays).Format(time.RFC3339)))
				if m.audit != nil {
					m.audit.LogDeletion(ctx, logging.AuditEventPurge, "system", sum.ID,
						map[string]any{"policy_id": policy.ID, "auto_delete": true})
				}
			} else if perr != nil {
				m.logger.Error("auto purge", "session_id", sum.ID, "error", perr)
			}
		}
		m.mu.Unlock()
	}

	if purged > 0 {
		m.logger.Info("retention sweep complete", "purged", purged)
	}
	return nil
}
