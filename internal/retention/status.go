package retention

import (
	"time"

	"typetrace/internal/store"
)

// Status is a recording's position in the retention lifecycle.
type Status string

// Lifecycle states, in order.
const (
	StatusActive      Status = "active"
	StatusWarning     Status = "warning"
	StatusGracePeriod Status = "grace_period"
	StatusExpired     Status = "expired"
)

// RetentionStatus is the computed lifecycle state of one recording
// under one policy at one instant.
type RetentionStatus struct {
	Status Status `json:"status"`

	// DaysRemaining counts whole days until the retention period ends.
	// Zero once the period has ended.
	DaysRemaining int `json:"days_remaining"`

	// ExpiresAt is the end of the retention period.
	ExpiresAt time.Time `json:"expires_at"`

	// ScheduledDeletion is the end of the grace period, after which
	// auto-delete may purge the recording.
	ScheduledDeletion time.Time `json:"scheduled_deletion"`
}

// ComputeStatus derives the retention status of a recording created at
// createdAt under the given policy, as of now. It is a pure function
// of its inputs: recomputing with the same arguments always yields the
// same result.
//
// The lifecycle is Active until the warning window opens, Warning
// until the retention period ends, GracePeriod until the grace period
// ends, then Expired.
func ComputeStatus(createdAt time.Time, policy store.RetentionPolicy, now time.Time) RetentionStatus {
	expiresAt := createdAt.AddDate(0, 0, policy.RetentionPeriodDays)
	warningAt := expiresAt.AddDate(0, 0, -policy.WarningPeriodDays)
	graceEnd := expiresAt.AddDate(0, 0, policy.GracePeriodDays)

	rs := RetentionStatus{
		ExpiresAt:         expiresAt,
		ScheduledDeletion: graceEnd,
	}

	switch {
	case now.Before(warningAt):
		rs.Status = StatusActive
	case now.Before(expiresAt):
		rs.Status = StatusWarning
	case now.Before(graceEnd):
		rs.Status = StatusGracePeriod
	default:
		rs.Status = StatusExpired
	}

	if remaining := expiresAt.Sub(now); remaining > 0 {
		rs.DaysRemaining = int(remaining.Hours() / 24)
	}
	return rs
}
