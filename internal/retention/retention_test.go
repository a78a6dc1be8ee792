package retention

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"typetrace/internal/event"
	"typetrace/internal/store"
)

func testPolicy() store.RetentionPolicy {
	return store.RetentionPolicy{
		ID:                      "test-90d",
		Name:                    "Test",
		RetentionPeriodDays:     90,
		WarningPeriodDays:       14,
		GracePeriodDays:         7,
		AutoDelete:              true,
		RequireConfirmation:     true,
		ApplicablePrivacyLevels: []string{"full"},
	}
}

func TestComputeStatusLifecycle(t *testing.T) {
	policy := testPolicy()
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		now  time.Time
		want Status
	}{
		{"fresh recording", created.AddDate(0, 0, 1), StatusActive},
		{"day before warning", created.AddDate(0, 0, 75), StatusActive},
		{"warning window opens", created.AddDate(0, 0, 76), StatusWarning},
		{"last warning day", created.AddDate(0, 0, 89), StatusWarning},
		{"retention period ends", created.AddDate(0, 0, 90), StatusGracePeriod},
		{"last grace day", created.AddDate(0, 0, 96), StatusGracePeriod},
		{"grace period ends", created.AddDate(0, 0, 97), StatusExpired},
		{"long expired", created.AddDate(1, 0, 0), StatusExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := ComputeStatus(created, policy, tt.now)
			assert.Equal(t, tt.want, rs.Status)
		})
	}
}

func TestComputeStatusFields(t *testing.T) {
	policy := testPolicy()
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := created.AddDate(0, 0, 10)

	rs := ComputeStatus(created, policy, now)
	assert.Equal(t, 80, rs.DaysRemaining)
	assert.Equal(t, created.AddDate(0, 0, 90), rs.ExpiresAt)
	assert.Equal(t, created.AddDate(0, 0, 97), rs.ScheduledDeletion)

	// Pure function: same inputs, same output.
	assert.Equal(t, rs, ComputeStatus(created, policy, now))

	expired := ComputeStatus(created, policy, created.AddDate(0, 0, 200))
	assert.Zero(t, expired.DaysRemaining)
}

func TestCodeIssuer(t *testing.T) {
	issuer, err := newCodeIssuer()
	require.NoError(t, err)

	code, tag, err := issuer.Issue()
	require.NoError(t, err)
	assert.Len(t, code, codeGroups*codeGroupLen+codeGroups-1)
	assert.Contains(t, code, "-")

	assert.True(t, issuer.Verify(code, tag))
	assert.False(t, issuer.Verify("AAAA-AAAA", tag))
	assert.False(t, issuer.Verify("", tag))

	// Codes are unique across issues.
	second, _, err := issuer.Issue()
	require.NoError(t, err)
	assert.NotEqual(t, code, second)
}

// --- Manager tests ---

func newTestManager(t *testing.T, ttl time.Duration) (*Manager, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "typetrace.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	m, err := NewManager(Config{
		SweepInterval:   time.Hour,
		ConfirmationTTL: ttl,
		ExportDir:       filepath.Join(t.TempDir(), "exports"),
	}, s, nil, nil)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m, s
}

func saveSession(t *testing.T, s *store.Store, id, subject string, level event.PrivacyLevel) {
	t.Helper()
	start := time.Now().Add(-time.Hour)
	rec := &event.SessionRecord{
		ID:           id,
		SubjectID:    subject,
		DocumentID:   "doc-1",
		StartTime:    start,
		EndTime:      start.Add(10 * time.Minute),
		PrivacyLevel: level,
		Events: []event.KeystrokeEvent{
			{Seq: 1, TimestampMs: 0, Kind: event.KindInsert, Payload: "h"},
			{Seq: 2, TimestampMs: 150, Kind: event.KindInsert, CaretStart: 1, CaretEnd: 1, Payload: "i"},
		},
		TotalKeystrokes: 2,
		TotalCharacters: 2,
	}
	require.NoError(t, s.SaveSession(rec))
}

func TestSeedDefaultPolicies(t *testing.T) {
	m, s := newTestManager(t, time.Minute)

	for _, level := range []event.PrivacyLevel{
		event.PrivacyFull, event.PrivacyAnonymized, event.PrivacyMetadataOnly,
	} {
		p, err := m.PolicyFor(level)
		require.NoError(t, err, "no policy for %s", level)
		assert.Contains(t, p.ApplicablePrivacyLevels, string(level))
	}

	// A second manager over the same store must not duplicate.
	m2, err := NewManager(DefaultConfig(), s, nil, nil)
	require.NoError(t, err)
	defer m2.Close()

	policies, err := s.ListPolicies()
	require.NoError(t, err)
	assert.Len(t, policies, 3)
}

func TestRequestDeletionUnauthorized(t *testing.T) {
	m, s := newTestManager(t, time.Minute)
	saveSession(t, s, "s1", "alice", event.PrivacyFull)

	_, err := m.RequestDeletion(context.Background(), "mallory", []string{"s1"}, "")
	assert.ErrorIs(t, err, ErrUnauthorized)

	// The denial is recorded.
	entries, err := s.QueryHandlingLog("s1", 0)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "access_denied", entries[0].Action)
}

func TestDeletionWithConfirmation(t *testing.T) {
	m, s := newTestManager(t, time.Minute)
	saveSession(t, s, "s1", "alice", event.PrivacyFull)
	ctx := context.Background()

	outcome, err := m.RequestDeletion(ctx, "alice", []string{"s1"}, "cleanup")
	require.NoError(t, err)
	require.NotNil(t, outcome.Request)
	assert.NotEmpty(t, outcome.ConfirmationCode)
	assert.Equal(t, store.StatusPending, outcome.Request.Status)

	// Unconfirmed requests never purge.
	rec, err := s.GetSession("s1")
	require.NoError(t, err)
	assert.NotEmpty(t, rec.Events)

	// A wrong code is rejected and the request stays pending.
	err = m.ConfirmDeletion(ctx, outcome.Request.ID, "ZZZZ-ZZZZ")
	assert.ErrorIs(t, err, ErrInvalidCode)
	req, err := s.GetDeletionRequest(outcome.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, req.Status)

	// The right code executes the purge.
	require.NoError(t, m.ConfirmDeletion(ctx, outcome.Request.ID, outcome.ConfirmationCode))
	req, err = s.GetDeletionRequest(outcome.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, req.Status)

	summary, err := s.GetSummary("s1")
	require.NoError(t, err)
	assert.True(t, summary.Purged())
	assert.Equal(t, "alice", summary.SubjectID)

	// The handling log recorded the full flow.
	entries, err := s.QueryHandlingLog("s1", 0)
	require.NoError(t, err)
	actions := make([]string, len(entries))
	for i, e := range entries {
		actions[i] = e.Action
	}
	assert.Contains(t, actions, "deletion_requested")
	assert.Contains(t, actions, "purge_executed")
}

func TestConfirmDeletionExpiredCode(t *testing.T) {
	m, s := newTestManager(t, time.Nanosecond)
	saveSession(t, s, "s1", "alice", event.PrivacyFull)
	ctx := context.Background()

	outcome, err := m.RequestDeletion(ctx, "alice", []string{"s1"}, "")
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	err = m.ConfirmDeletion(ctx, outcome.Request.ID, outcome.ConfirmationCode)
	assert.ErrorIs(t, err, ErrCodeExpired)

	rec, err := s.GetSession("s1")
	require.NoError(t, err)
	assert.NotEmpty(t, rec.Events, "expired confirmation must not purge")
}

func TestDeletionWithoutConfirmation(t *testing.T) {
	m, s := newTestManager(t, time.Minute)
	saveSession(t, s, "s1", "alice", event.PrivacyMetadataOnly)

	outcome, err := m.RequestDeletion(context.Background(), "alice", []string{"s1"}, "")
	require.NoError(t, err)
	assert.Empty(t, outcome.ConfirmationCode)

	req, err := s.GetDeletionRequest(outcome.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, req.Status)

	summary, err := s.GetSummary("s1")
	require.NoError(t, err)
	assert.True(t, summary.Purged())
}

func TestOneDeletionInFlightPerRecording(t *testing.T) {
	m, s := newTestManager(t, time.Minute)
	saveSession(t, s, "s1", "alice", event.PrivacyFull)
	ctx := context.Background()

	_, err := m.RequestDeletion(ctx, "alice", []string{"s1"}, "")
	require.NoError(t, err)

	_, err = m.RequestDeletion(ctx, "alice", []string{"s1"}, "")
	assert.ErrorIs(t, err, ErrDeletionInFlight)
}

func TestDeleteAlreadyDeleted(t *testing.T) {
	m, s := newTestManager(t, time.Minute)
	saveSession(t, s, "s1", "alice", event.PrivacyFull)
	ctx := context.Background()

	_, err := s.PurgeEvents("s1")
	require.NoError(t, err)

	outcome, err := m.RequestDeletion(ctx, "alice", []string{"s1"}, "")
	assert.ErrorIs(t, err, ErrAlreadyDeleted)
	assert.Equal(t, []string{"s1"}, outcome.AlreadyDeleted)
	assert.Nil(t, outcome.Request)
}

func TestCancelDeletion(t *testing.T) {
	m, s := newTestManager(t, time.Minute)
	saveSession(t, s, "s1", "alice", event.PrivacyFull)
	ctx := context.Background()

	outcome, err := m.RequestDeletion(ctx, "alice", []string{"s1"}, "")
	require.NoError(t, err)

	// Only the requester may cancel.
	err = m.CancelDeletion(ctx, outcome.Request.ID, "mallory")
	assert.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, m.CancelDeletion(ctx, outcome.Request.ID, "alice"))

	// Confirmation after cancellation is refused.
	err = m.ConfirmDeletion(ctx, outcome.Request.ID, outcome.ConfirmationCode)
	assert.ErrorIs(t, err, ErrNotPending)

	rec, err := s.GetSession("s1")
	require.NoError(t, err)
	assert.NotEmpty(t, rec.Events)

	// With the first request cancelled, a new one may open.
	_, err = m.RequestDeletion(ctx, "alice", []string{"s1"}, "second try")
	require.NoError(t, err)
}

func TestSweepAutoDeletesExpired(t *testing.T) {
	m, s := newTestManager(t, time.Minute)
	saveSession(t, s, "s1", "alice", event.PrivacyFull)
	saveSession(t, s, "s2", "alice", event.PrivacyMetadataOnly)
	ctx := context.Background()

	// Make the full-capture policy expire immediately; the
	// metadata-only policy keeps auto-delete off.
	expireNow := testPolicy()
	expireNow.ID = "full-90d"
	expireNow.RetentionPeriodDays = 0
	expireNow.WarningPeriodDays = 0
	expireNow.GracePeriodDays = 0
	require.NoError(t, m.SetPolicy(ctx, expireNow, "admin"))

	require.NoError(t, m.Sweep(ctx, time.Now()))

	s1, err := s.GetSummary("s1")
	require.NoError(t, err)
	assert.True(t, s1.Purged(), "expired auto-delete session should be purged")

	s2, err := s.GetSummary("s2")
	require.NoError(t, err)
	assert.False(t, s2.Purged(), "non-auto-delete session must survive")

	// The purge is attributed to the system, not a user request.
	entries, err := s.QueryHandlingLog("s1", 0)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "auto_purge_executed", entries[0].Action)
	assert.Equal(t, "system", entries[0].PerformedBy)

	// Sweeping again is a no-op.
	require.NoError(t, m.Sweep(ctx, time.Now()))
}
