// Package event defines the keystroke event log that forms the
// authoritative record of a writing session.
//
// An event log is an ordered sequence of KeystrokeEvents with strictly
// increasing sequence numbers and monotonically non-decreasing timestamps.
// Replaying every event of a valid log against an empty document
// reproduces the content that existed when capture stopped.
package event

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Kind identifies the type of editing action an event records.
type Kind string

// Event kinds.
const (
	KindInsert     Kind = "insert"
	KindDelete     Kind = "delete"
	KindSelect     Kind = "select"
	KindPaste      Kind = "paste"
	KindPauseStart Kind = "pause_start"
	KindPauseEnd   Kind = "pause_end"
)

// Errors
var (
	ErrOutOfOrder   = errors.New("event: log is out of order")
	ErrInvalidRange = errors.New("event: caret range out of bounds")
	ErrUnknownKind  = errors.New("event: unknown event kind")
)

// KeystrokeEvent is a single captured editing action.
//
// Timestamps are milliseconds since session start. CaretStart and
// CaretEnd delimit the affected rune range [start, end); for a plain
// insertion both are equal to the caret position.
type KeystrokeEvent struct {
	Seq         uint64 `json:"seq"`
	TimestampMs int64  `json:"timestamp_ms"`
	Kind        Kind   `json:"kind"`
	CaretStart  int    `json:"caret_start"`
	CaretEnd    int    `json:"caret_end"`
	Payload     string `json:"payload,omitempty"`
	IsPaste     bool   `json:"is_paste,omitempty"`
}

// PayloadLen returns the rune length of the event payload.
func (e KeystrokeEvent) PayloadLen() int {
	return utf8.RuneCountInString(e.Payload)
}

// IsEdit reports whether the event changes document content.
func (e KeystrokeEvent) IsEdit() bool {
	switch e.Kind {
	case KindInsert, KindDelete, KindPaste:
		return true
	}
	return false
}

// SessionRecord is the persisted form of one capture session.
//
// While a session is live the record is owned by the capturing
// Recorder; once persisted it is owned by the store and immutable
// apart from retention purges.
type SessionRecord struct {
	ID              string           `json:"id"`
	SubjectID       string           `json:"subject_id"`
	DocumentID      string           `json:"document_id"`
	DocumentTitle   string           `json:"document_title"`
	StartTime       time.Time        `json:"start_time"`
	EndTime         time.Time        `json:"end_time"`
	PrivacyLevel    PrivacyLevel     `json:"privacy_level"`
	Events          []KeystrokeEvent `json:"events"`
	TotalKeystrokes int              `json:"total_keystrokes"`
	TotalCharacters int              `json:"total_characters"`
	AverageWPM      float64          `json:"average_wpm"`
}

// Duration returns the total elapsed time of the recorded session.
func (r *SessionRecord) Duration() time.Duration {
	if len(r.Events) == 0 {
		return 0
	}
	last := r.Events[len(r.Events)-1]
	return time.Duration(last.TimestampMs) * time.Millisecond
}

// ValidateOrdering checks the log invariants: strictly increasing
// sequence numbers and monotonically non-decreasing timestamps.
// It returns ErrOutOfOrder wrapped with the offending index.
func ValidateOrdering(events []KeystrokeEvent) error {
	for i := 1; i < len(events); i++ {
		if events[i].Seq <= events[i-1].Seq {
			return fmt.Errorf("%w: sequence %d -> %d at index %d",
				ErrOutOfOrder, events[i-1].Seq, events[i].Seq, i)
		}
		if events[i].TimestampMs < events[i-1].TimestampMs {
			return fmt.Errorf("%w: timestamp %dms -> %dms at index %d",
				ErrOutOfOrder, events[i-1].TimestampMs, events[i].TimestampMs, i)
		}
	}
	return nil
}

// Apply applies a single event to document content and returns the
// new content and caret position.
//
// Insert and Paste replace the caret range with the payload. Delete
// removes the caret range. Select and pause markers leave content
// untouched. Caret ranges are clamped against the current content so
// that a log captured from a sink that briefly disagreed with the
// internal model still applies deterministically.
func Apply(content string, e KeystrokeEvent) (string, int, error) {
	runes := []rune(content)
	start, end := clampRange(e.CaretStart, e.CaretEnd, len(runes))

	switch e.Kind {
	case KindInsert, KindPaste:
		var b strings.Builder
		b.Grow(len(content) + len(e.Payload))
		b.WriteString(string(runes[:start]))
		b.WriteString(e.Payload)
		b.WriteString(string(runes[end:]))
		return b.String(), start + e.PayloadLen(), nil

	case KindDelete:
		// A zero-width delete range removes the rune before the caret,
		// matching backspace semantics from hosts that report only a
		// caret position.
		if start == end && start > 0 {
			start--
		}
		return string(runes[:start]) + string(runes[end:]), start, nil

	case KindSelect:
		return content, end, nil

	case KindPauseStart, KindPauseEnd:
		return content, end, nil

	default:
		return content, end, fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
}

// Replay applies events[0:n] in order to an empty document and returns
// the resulting content. It assumes the log has already been validated.
func Replay(events []KeystrokeEvent, n int) (string, error) {
	if n > len(events) {
		n = len(events)
	}
	content := ""
	for i := 0; i < n; i++ {
		var err error
		content, _, err = Apply(content, events[i])
		if err != nil {
			return "", fmt.Errorf("replay event %d: %w", i, err)
		}
	}
	return content, nil
}

func clampRange(start, end, n int) (int, int) {
	if start < 0 {
		start = 0
	}
	if end < start {
		end = start
	}
	if start > n {
		start = n
	}
	if end > n {
		end = n
	}
	return start, end
}
