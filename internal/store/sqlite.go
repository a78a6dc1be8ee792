// Package store persists session records, retention policies,
// export/deletion requests, and the data-handling log in SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"typetrace/internal/event"
)

// Schema for the typetrace session store.
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id               TEXT PRIMARY KEY,
    subject_id       TEXT NOT NULL,
    document_id      TEXT NOT NULL,
    document_title   TEXT,
    start_time_ms    INTEGER NOT NULL,
    end_time_ms      INTEGER NOT NULL,
    privacy_level    TEXT NOT NULL,
    total_keystrokes INTEGER NOT NULL,
    total_characters INTEGER NOT NULL,
    average_wpm      REAL NOT NULL,
    created_at_ms    INTEGER NOT NULL,
    purged_at_ms     INTEGER
);

CREATE INDEX IF NOT EXISTS idx_sessions_subject ON sessions(subject_id, start_time_ms);
CREATE INDEX IF NOT EXISTS idx_sessions_document ON sessions(document_id, start_time_ms);

CREATE TABLE IF NOT EXISTS events (
    session_id   TEXT NOT NULL REFERENCES sessions(id),
    seq          INTEGER NOT NULL,
    timestamp_ms INTEGER NOT NULL,
    kind         TEXT NOT NULL,
    caret_start  INTEGER NOT NULL,
    caret_end    INTEGER NOT NULL,
    payload      TEXT,
    is_paste     INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (session_id, seq)
);

CREATE TABLE IF NOT EXISTS retention_policies (
    id              TEXT PRIMARY KEY,
    name            TEXT NOT NULL,
    retention_days  INTEGER NOT NULL,
    warning_days    INTEGER NOT NULL,
    grace_days      INTEGER NOT NULL,
    auto_delete     INTEGER NOT NULL,
    require_confirm INTEGER NOT NULL DEFAULT 1,
    privacy_levels  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS export_requests (
    id            TEXT PRIMARY KEY,
    user_id       TEXT NOT NULL,
    recording_ids TEXT NOT NULL,
    format        TEXT NOT NULL,
    status        TEXT NOT NULL,
    artifact_path TEXT,
    error         TEXT,
    created_at_ms INTEGER NOT NULL,
    updated_at_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS deletion_requests (
    id              TEXT PRIMARY KEY,
    user_id         TEXT NOT NULL,
    recording_ids   TEXT NOT NULL,
    reason          TEXT,
    status          TEXT NOT NULL,
    code_hash       BLOB,
    code_expires_ms INTEGER NOT NULL,
    error           TEXT,
    created_at_ms   INTEGER NOT NULL,
    updated_at_ms   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS data_handling_log (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    action        TEXT NOT NULL,
    recording_id  TEXT,
    performed_by  TEXT,
    timestamp_ms  INTEGER NOT NULL,
    details       TEXT
);

CREATE INDEX IF NOT EXISTS idx_handling_recording ON data_handling_log(recording_id, timestamp_ms);
`

// Errors
var (
	ErrNotFound      = errors.New("store: record not found")
	ErrAlreadyExists = errors.New("store: record already exists")
)

// Store is the SQLite session store.
type Store struct {
	db *sql.DB
}

// DefaultBusyTimeout is the SQLite busy timeout used by Open.
const DefaultBusyTimeout = 5 * time.Second

// Open opens or creates the SQLite database at the given path and runs
// migrations.
func Open(path string) (*Store, error) {
	return OpenWithBusyTimeout(path, DefaultBusyTimeout)
}

// OpenWithBusyTimeout is Open with an explicit SQLite busy timeout.
// Non-positive timeouts fall back to DefaultBusyTimeout.
func OpenWithBusyTimeout(path string, busyTimeout time.Duration) (*Store, error) {
	if busyTimeout <= 0 {
		busyTimeout = DefaultBusyTimeout
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=%d",
		path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveSession persists a finalized session record with its events in a
// single transaction. Events are expected to be redacted for the
// record's privacy level before they reach the store.
func (s *Store) SaveSession(rec *event.SessionRecord) error {
	if _, err := s.GetSummary(rec.ID); err == nil {
		return fmt.Errorf("%w: session %s", ErrAlreadyExists, rec.ID)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO sessions (id, subject_id, document_id, document_title, start_time_ms, end_time_ms,
			privacy_level, total_keystrokes, total_characters, average_wpm, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SubjectID, rec.DocumentID, rec.DocumentTitle,
		rec.StartTime.UnixMilli(), rec.EndTime.UnixMilli(),
		string(rec.PrivacyLevel), rec.TotalKeystrokes, rec.TotalCharacters, rec.AverageWPM,
		time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO events (session_id, seq, timestamp_ms, kind, caret_start, caret_end, payload, is_paste)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare event insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range rec.Events {
		if _, err := stmt.Exec(rec.ID, e.Seq, e.TimestampMs, string(e.Kind),
			e.CaretStart, e.CaretEnd, e.Payload, boolToInt(e.IsPaste)); err != nil {
			return fmt.Errorf("insert event %d: %w", e.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetSession retrieves a session record with its full event log.
func (s *Store) GetSession(id string) (*event.SessionRecord, error) {
	summary, err := s.GetSummary(id)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT seq, timestamp_ms, kind, caret_start, caret_end, payload, is_paste
		FROM events WHERE session_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []event.KeystrokeEvent
	for rows.Next() {
		var e event.KeystrokeEvent
		var kind string
		var payload sql.NullString
		var isPaste int
		if err := rows.Scan(&e.Seq, &e.TimestampMs, &kind, &e.CaretStart, &e.CaretEnd, &payload, &isPaste); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Kind = event.Kind(kind)
		e.Payload = payload.String
		e.IsPaste = isPaste != 0
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return &event.SessionRecord{
		ID:              summary.ID,
		SubjectID:       summary.SubjectID,
		DocumentID:      summary.DocumentID,
		DocumentTitle:   summary.DocumentTitle,
		StartTime:       summary.StartTime,
		EndTime:         summary.EndTime,
		PrivacyLevel:    event.PrivacyLevel(summary.PrivacyLevel),
		Events:          events,
		TotalKeystrokes: summary.TotalKeystrokes,
		TotalCharacters: summary.TotalCharacters,
		AverageWPM:      summary.AverageWPM,
	}, nil
}

// GetSummary retrieves session metadata without loading events.
func (s *Store) GetSummary(id string) (*SessionSummary, error) {
	row := s.db.QueryRow(`
		SELECT id, subject_id, document_id, document_title, start_time_ms, end_time_ms,
			privacy_level, total_keystrokes, total_characters, average_wpm, created_at_ms, purged_at_ms
		FROM sessions WHERE id = ?`, id)

	summary, err := scanSummary(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return summary, nil
}

// SessionFilter narrows ListSessions results.
type SessionFilter struct {
	SubjectID  string
	DocumentID string
	IDs        []string
}

// ListSessions returns session summaries matching the filter, oldest
// first.
func (s *Store) ListSessions(filter SessionFilter) ([]SessionSummary, error) {
	query := `
		SELECT id, subject_id, document_id, document_title, start_time_ms, end_time_ms,
			privacy_level, total_keystrokes, total_characters, average_wpm, created_at_ms, purged_at_ms
		FROM sessions WHERE 1=1`
	var args []any

	if filter.SubjectID != "" {
		query += " AND subject_id = ?"
		args = append(args, filter.SubjectID)
	}
	if filter.DocumentID != "" {
		query += " AND document_id = ?"
		args = append(args, filter.DocumentID)
	}
	if len(filter.IDs) > 0 {
		query += " AND id IN (?" + repeatPlaceholder(len(filter.IDs)-1) + ")"
		for _, id := range filter.IDs {
			args = append(args, id)
		}
	}
	query += " ORDER BY start_time_ms ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var summaries []SessionSummary
	for rows.Next() {
		summary, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		summaries = append(summaries, *summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return summaries, nil
}

// PurgeEvents removes event rows for a session and marks the session
// purged. The session metadata row survives for the audit trail.
// Purging an already purged session is a no-op returning false.
func (s *Store) PurgeEvents(sessionID string) (bool, error) {
	summary, err := s.GetSummary(sessionID)
	if err != nil {
		return false, err
	}
	if summary.Purged() {
		return false, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM events WHERE session_id = ?`, sessionID); err != nil {
		return false, fmt.Errorf("delete events: %w", err)
	}
	if _, err := tx.Exec(`UPDATE sessions SET purged_at_ms = ? WHERE id = ?`,
		time.Now().UnixMilli(), sessionID); err != nil {
		return false, fmt.Errorf("mark purged: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit transaction: %w", err)
	}
	return true, nil
}

// --- Retention policies ---

// UpsertPolicy inserts or replaces a retention policy.
func (s *Store) UpsertPolicy(p *RetentionPolicy) error {
	levels, err := json.Marshal(p.ApplicablePrivacyLevels)
	if err != nil {
		return fmt.Errorf("marshal privacy levels: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO retention_policies (id, name, retention_days, warning_days, grace_days, auto_delete, require_confirm, privacy_levels)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.RetentionPeriodDays, p.WarningPeriodDays, p.GracePeriodDays,
		boolToInt(p.AutoDelete), boolToInt(p.RequireConfirmation), string(levels),
	)
	if err != nil {
		return fmt.Errorf("upsert policy: %w", err)
	}
	return nil
}

// ListPolicies returns all retention policies.
func (s *Store) ListPolicies() ([]RetentionPolicy, error) {
	rows, err := s.db.Query(`
		SELECT id, name, retention_days, warning_days, grace_days, auto_delete, require_confirm, privacy_levels
		FROM retention_policies ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query policies: %w", err)
	}
	defer rows.Close()

	var policies []RetentionPolicy
	for rows.Next() {
		var p RetentionPolicy
		var autoDelete, requireConfirm int
		var levels string
		if err := rows.Scan(&p.ID, &p.Name, &p.RetentionPeriodDays, &p.WarningPeriodDays,
			&p.GracePeriodDays, &autoDelete, &requireConfirm, &levels); err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		p.AutoDelete = autoDelete != 0
		p.RequireConfirmation = requireConfirm != 0
		if err := json.Unmarshal([]byte(levels), &p.ApplicablePrivacyLevels); err != nil {
			return nil, fmt.Errorf("unmarshal privacy levels: %w", err)
		}
		policies = append(policies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate policies: %w", err)
	}
	return policies, nil
}

// --- Export requests ---

// InsertExportRequest persists a new export request.
func (s *Store) InsertExportRequest(r *ExportRequest) error {
	ids, err := json.Marshal(r.RecordingIDs)
	if err != nil {
		return fmt.Errorf("marshal recording ids: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO export_requests (id, user_id, recording_ids, format, status, artifact_path, error, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, string(ids), string(r.Format), string(r.Status),
		r.ArtifactPath, r.Error, r.CreatedAt.UnixMilli(), r.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert export request: %w", err)
	}
	return nil
}

// GetExportRequest retrieves an export request by ID.
func (s *Store) GetExportRequest(id string) (*ExportRequest, error) {
	var r ExportRequest
	var ids, format, status string
	var artifact, errMsg sql.NullString
	var createdMs, updatedMs int64

	err := s.db.QueryRow(`
		SELECT id, user_id, recording_ids, format, status, artifact_path, error, created_at_ms, updated_at_ms
		FROM export_requests WHERE id = ?`, id,
	).Scan(&r.ID, &r.UserID, &ids, &format, &status, &artifact, &errMsg, &createdMs, &updatedMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get export request: %w", err)
	}

	if err := json.Unmarshal([]byte(ids), &r.RecordingIDs); err != nil {
		return nil, fmt.Errorf("unmarshal recording ids: %w", err)
	}
	r.Format = ExportFormat(format)
	r.Status = RequestStatus(status)
	r.ArtifactPath = artifact.String
	r.Error = errMsg.String
	r.CreatedAt = time.UnixMilli(createdMs)
	r.UpdatedAt = time.UnixMilli(updatedMs)
	return &r, nil
}

// UpdateExportRequest transitions an export request's status and
// artifact fields.
func (s *Store) UpdateExportRequest(id string, status RequestStatus, artifactPath, errMsg string) error {
	res, err := s.db.Exec(`
		UPDATE export_requests SET status = ?, artifact_path = ?, error = ?, updated_at_ms = ?
		WHERE id = ?`,
		string(status), artifactPath, errMsg, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("update export request: %w", err)
	}
	return requireRow(res)
}

// --- Deletion requests ---

// InsertDeletionRequest persists a new deletion request.
func (s *Store) InsertDeletionRequest(r *DeletionRequest) error {
	ids, err := json.Marshal(r.RecordingIDs)
	if err != nil {
		return fmt.Errorf("marshal recording ids: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO deletion_requests (id, user_id, recording_ids, reason, status, code_hash, code_expires_ms, error, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, string(ids), r.Reason, string(r.Status), r.CodeHash,
		r.CodeExpiresAt.UnixMilli(), r.Error, r.CreatedAt.UnixMilli(), r.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert deletion request: %w", err)
	}
	return nil
}

// GetDeletionRequest retrieves a deletion request by ID.
func (s *Store) GetDeletionRequest(id string) (*DeletionRequest, error) {
	var r DeletionRequest
	var ids, status string
	var reason, errMsg sql.NullString
	var expiresMs, createdMs, updatedMs int64

	err := s.db.QueryRow(`
		SELECT id, user_id, recording_ids, reason, status, code_hash, code_expires_ms, error, created_at_ms, updated_at_ms
		FROM deletion_requests WHERE id = ?`, id,
	).Scan(&r.ID, &r.UserID, &ids, &reason, &status, &r.CodeHash, &expiresMs, &errMsg, &createdMs, &updatedMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get deletion request: %w", err)
	}

	if err := json.Unmarshal([]byte(ids), &r.RecordingIDs); err != nil {
		return nil, fmt.Errorf("unmarshal recording ids: %w", err)
	}
	r.Reason = reason.String
	r.Status = RequestStatus(status)
	r.CodeExpiresAt = time.UnixMilli(expiresMs)
	r.Error = errMsg.String
	r.CreatedAt = time.UnixMilli(createdMs)
	r.UpdatedAt = time.UnixMilli(updatedMs)
	return &r, nil
}

// UpdateDeletionRequest transitions a deletion request's status.
func (s *Store) UpdateDeletionRequest(id string, status RequestStatus, errMsg string) error {
	res, err := s.db.Exec(`
		UPDATE deletion_requests SET status = ?, error = ?, updated_at_ms = ?
		WHERE id = ?`,
		string(status), errMsg, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("update deletion request: %w", err)
	}
	return requireRow(res)
}

// ActiveDeletionFor returns the pending or processing deletion request
// covering the given recording, if any. At most one deletion may be in
// flight per recording.
func (s *Store) ActiveDeletionFor(recordingID string) (*DeletionRequest, error) {
	rows, err := s.db.Query(`
		SELECT id FROM deletion_requests
		WHERE status IN ('pending', 'processing')
		ORDER BY created_at_ms ASC`)
	if err != nil {
		return nil, fmt.Errorf("query active deletions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan deletion id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deletions: %w", err)
	}

	for _, id := range ids {
		req, err := s.GetDeletionRequest(id)
		if err != nil {
			return nil, err
		}
		for _, rid := range req.RecordingIDs {
			if rid == recordingID {
				return req, nil
			}
		}
	}
	return nil, nil
}

// --- Data-handling log ---

// AppendHandlingEntry appends a row to the data-handling log. The log
// is append-only: the store exposes no update or delete for it, and it
// is never subject to the deletion flow it records.
func (s *Store) AppendHandlingEntry(e *HandlingEntry) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO data_handling_log (action, recording_id, performed_by, timestamp_ms, details)
		VALUES (?, ?, ?, ?, ?)`,
		e.Action, e.RecordingID, e.PerformedBy, e.Timestamp.UnixMilli(), e.Details)
	if err != nil {
		return 0, fmt.Errorf("append handling entry: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	return id, nil
}

// QueryHandlingLog returns log entries, newest first, optionally
// filtered by recording.
func (s *Store) QueryHandlingLog(recordingID string, limit int) ([]HandlingEntry, error) {
	query := `
		SELECT id, action, recording_id, performed_by, timestamp_ms, details
		FROM data_handling_log`
	var args []any
	if recordingID != "" {
		query += " WHERE recording_id = ?"
		args = append(args, recordingID)
	}
	query += " ORDER BY timestamp_ms DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query handling log: %w", err)
	}
	defer rows.Close()

	var entries []HandlingEntry
	for rows.Next() {
		var e HandlingEntry
		var recording, performedBy, details sql.NullString
		var tsMs int64
		if err := rows.Scan(&e.ID, &e.Action, &recording, &performedBy, &tsMs, &details); err != nil {
			return nil, fmt.Errorf("scan handling entry: %w", err)
		}
		e.RecordingID = recording.String
		e.PerformedBy = performedBy.String
		e.Details = details.String
		e.Timestamp = time.UnixMilli(tsMs)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate handling entries: %w", err)
	}
	return entries, nil
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSummary(row rowScanner) (*SessionSummary, error) {
	var s SessionSummary
	var title sql.NullString
	var startMs, endMs, createdMs int64
	var purgedMs sql.NullInt64

	err := row.Scan(&s.ID, &s.SubjectID, &s.DocumentID, &title, &startMs, &endMs,
		&s.PrivacyLevel, &s.TotalKeystrokes, &s.TotalCharacters, &s.AverageWPM, &createdMs, &purgedMs)
	if err != nil {
		return nil, err
	}

	s.DocumentTitle = title.String
	s.StartTime = time.UnixMilli(startMs)
	s.EndTime = time.UnixMilli(endMs)
	s.CreatedAt = time.UnixMilli(createdMs)
	if purgedMs.Valid {
		s.PurgedAt = time.UnixMilli(purgedMs.Int64)
	}
	return &s, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}
