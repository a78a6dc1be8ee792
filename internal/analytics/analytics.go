// Package analytics derives writing-session metrics from a keystroke
// event log.
//
// All computations are pure passes over an immutable log: Compute
// never mutates its input and is safe to run concurrently across
// distinct sessions. Score weights are explicit configuration
// (Weights), never inline constants.
package analytics

import (
	"math"
	"strings"
	"time"

	"typetrace/internal/event"
)

// Pause bucket boundaries.
const (
	ShortPauseMaxMs  int64 = 2000
	MediumPauseMaxMs int64 = 10000
)

// CharsPerWord is the conventional characters-per-word divisor for
// words-per-minute calculations.
const CharsPerWord = 5.0

// PauseBuckets partitions inter-event gaps by length. Every gap falls
// in exactly one bucket.
type PauseBuckets struct {
	Short  int `json:"short"`  // gap < 2s
	Medium int `json:"medium"` // 2s <= gap <= 10s
	Long   int `json:"long"`   // gap > 10s
}

// Total returns the number of bucketed gaps.
func (b PauseBuckets) Total() int {
	return b.Short + b.Medium + b.Long
}

// Burst is a contiguous typing run with short inter-key gaps.
type Burst struct {
	StartMs    int64         `json:"start_ms"`
	Duration   time.Duration `json:"duration"`
	Keystrokes int           `json:"keystrokes"`
	AverageWPM float64       `json:"average_wpm"`
}

// RevisionKind classifies an edit over previously written text.
type RevisionKind string

// Revision kinds.
const (
	RevisionInsertion   RevisionKind = "insertion"
	RevisionDeletion    RevisionKind = "deletion"
	RevisionReplacement RevisionKind = "replacement"
)

// RevisionPattern records one edit that overlapped a previously
// written span.
type RevisionPattern struct {
	Type   RevisionKind `json:"type"`
	Length int          `json:"length"`
}

// SessionAnalytics is the full metric set of one writing session.
type SessionAnalytics struct {
	SessionID       string `json:"session_id,omitempty"`
	SubjectID       string `json:"subject_id,omitempty"`
	DocumentID      string `json:"document_id,omitempty"`
	TotalEvents     int    `json:"total_events"`
	TotalKeystrokes int    `json:"total_keystrokes"`
	ProductiveWords int    `json:"productive_words"`

	TotalDuration     time.Duration `json:"total_duration"`
	ActiveWritingTime time.Duration `json:"active_writing_time"`
	WordsPerMinute    float64       `json:"words_per_minute"`

	PauseBuckets     PauseBuckets      `json:"pause_buckets"`
	Bursts           []Burst           `json:"bursts"`
	EditingRatio     float64           `json:"editing_ratio"`
	RevisionPatterns []RevisionPattern `json:"revision_patterns"`

	FocusScore        float64     `json:"focus_score"`
	ProductivityScore float64     `json:"productivity_score"`
	EngagementScore   float64     `json:"engagement_score"`
	SessionType       SessionType `json:"session_type"`
}

// Compute derives SessionAnalytics from an event log. The log is not
// mutated; an empty log yields zeroed metrics with an Exploratory
// classification.
func Compute(events []event.KeystrokeEvent, w Weights) SessionAnalytics {
	a := SessionAnalytics{
		Bursts:           []Burst{},
		RevisionPatterns: []RevisionPattern{},
	}
	a.TotalEvents = len(events)
	if len(events) == 0 {
		a.SessionType = TypeExploratory
		return a
	}

	a.TotalDuration = time.Duration(events[len(events)-1].TimestampMs) * time.Millisecond
	a.TotalKeystrokes = countKeystrokes(events)
	a.ProductiveWords = productiveWords(events)
	a.ActiveWritingTime = activeWritingTime(events, w.PauseThresholdMs)
	a.WordsPerMinute = wordsPerMinute(a.ProductiveWords, a.ActiveWritingTime)
	a.PauseBuckets = bucketPauses(events)
	a.Bursts = detectBursts(events, w.BurstGapMs, w.BurstMinKeystrokes)
	a.EditingRatio = editingRatio(events)
	a.RevisionPatterns = revisionPatterns(events)

	a.FocusScore = focusScore(a, w)
	a.ProductivityScore = productivityScore(a, w)
	a.EngagementScore = engagementScore(a, events, w)
	a.SessionType = Classify(a, w)
	return a
}

// countKeystrokes counts edit events (insert, delete, paste).
func countKeystrokes(events []event.KeystrokeEvent) int {
	n := 0
	for _, e := range events {
		if e.IsEdit() {
			n++
		}
	}
	return n
}

// productiveWords counts whitespace-separated words in the final
// reconstructed document. For purged or metadata-only logs the payloads
// are empty and the count falls back to zero.
func productiveWords(events []event.KeystrokeEvent) int {
	content, err := event.Replay(events, len(events))
	if err != nil || content == "" {
		return 0
	}
	return len(strings.Fields(content))
}

// activeWritingTime sums inter-event gaps at or below the pause
// threshold. Gaps above the threshold are excluded entirely.
func activeWritingTime(events []event.KeystrokeEvent, thresholdMs int64) time.Duration {
	var activeMs int64
	for i := 1; i < len(events); i++ {
		gap := events[i].TimestampMs - events[i-1].TimestampMs
		if gap <= thresholdMs {
			activeMs += gap
		}
	}
	return time.Duration(activeMs) * time.Millisecond
}

// wordsPerMinute is productiveWords / activeWritingMinutes.
func wordsPerMinute(words int, active time.Duration) float64 {
	minutes := active.Minutes()
	if minutes <= 0 {
		return 0
	}
	return float64(words) / minutes
}

// bucketPauses partitions every inter-event gap into exactly one
// bucket: <2s short, 2s-10s medium, >10s long.
func bucketPauses(events []event.KeystrokeEvent) PauseBuckets {
	var b PauseBuckets
	for i := 1; i < len(events); i++ {
		gap := events[i].TimestampMs - events[i-1].TimestampMs
		switch {
		case gap < ShortPauseMaxMs:
			b.Short++
		case gap <= MediumPauseMaxMs:
			b.Medium++
		default:
			b.Long++
		}
	}
	return b
}

// detectBursts finds contiguous runs of edit events whose inter-key
// gaps stay below gapMs, keeping runs of at least minKeystrokes.
// Bursts are returned in chronological order.
func detectBursts(events []event.KeystrokeEvent, gapMs int64, minKeystrokes int) []Burst {
	bursts := []Burst{}
	if gapMs <= 0 || minKeystrokes <= 0 {
		return bursts
	}

	var run []event.KeystrokeEvent
	flush := func() {
		if len(run) >= minKeystrokes {
			bursts = append(bursts, summarizeBurst(run))
		}
		run = run[:0]
	}

	var lastTs int64
	for _, e := range events {
		if !e.IsEdit() {
			continue
		}
		if len(run) > 0 && e.TimestampMs-lastTs >= gapMs {
			flush()
		}
		run = append(run, e)
		lastTs = e.TimestampMs
	}
	flush()
	return bursts
}

func summarizeBurst(run []event.KeystrokeEvent) Burst {
	durMs := run[len(run)-1].TimestampMs - run[0].TimestampMs
	chars := 0
	for _, e := range run {
		if e.Kind == event.KindInsert || e.Kind == event.KindPaste {
			chars += e.PayloadLen()
		}
	}
	wpm := 0.0
	if durMs > 0 {
		minutes := float64(durMs) / 60000.0
		wpm = (float64(chars) / CharsPerWord) / minutes
	}
	return Burst{
		StartMs:    run[0].TimestampMs,
		Duration:   time.Duration(durMs) * time.Millisecond,
		Keystrokes: len(run),
		AverageWPM: wpm,
	}
}

// editingRatio is (deletions + reposition-then-edit events) divided by
// total keystrokes. A reposition-then-edit is an insert whose caret
// does not continue from the previous edit's end position.
func editingRatio(events []event.KeystrokeEvent) float64 {
	total := 0
	editing := 0
	expectedCaret := -1
	for _, e := range events {
		if !e.IsEdit() {
			continue
		}
		total++
		switch e.Kind {
		case event.KindDelete:
			editing++
		case event.KindInsert, event.KindPaste:
			if expectedCaret >= 0 && e.CaretStart != expectedCaret {
				editing++
			}
		}
		expectedCaret = e.CaretStart + e.PayloadLen()
		if e.Kind == event.KindDelete {
			expectedCaret = e.CaretStart
			if e.CaretStart == e.CaretEnd && e.CaretStart > 0 {
				expectedCaret = e.CaretStart - 1
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(editing) / float64(total)
}

// revisionPatterns records edits that land inside previously written
// spans, tracked against the high-water caret position.
func revisionPatterns(events []event.KeystrokeEvent) []RevisionPattern {
	patterns := []RevisionPattern{}
	highWater := 0
	for _, e := range events {
		if !e.IsEdit() {
			continue
		}
		if e.CaretStart < highWater {
			patterns = append(patterns, classifyRevision(e))
		}
		if end := e.CaretStart + e.PayloadLen(); end > highWater {
			highWater = end
		}
	}
	return patterns
}

func classifyRevision(e event.KeystrokeEvent) RevisionPattern {
	switch {
	case e.Kind == event.KindDelete:
		length := e.CaretEnd - e.CaretStart
		if length == 0 {
			length = 1
		}
		return RevisionPattern{Type: RevisionDeletion, Length: length}
	case e.CaretEnd > e.CaretStart:
		return RevisionPattern{Type: RevisionReplacement, Length: e.CaretEnd - e.CaretStart}
	default:
		return RevisionPattern{Type: RevisionInsertion, Length: e.PayloadLen()}
	}
}

// focusScore scores 0-100 from the pause distribution and burst
// density: short pauses and frequent bursts raise it, long pauses
// lower it.
func focusScore(a SessionAnalytics, w Weights) float64 {
	gaps := a.PauseBuckets.Total()
	if gaps == 0 {
		return 0
	}
	shortRatio := float64(a.PauseBuckets.Short) / float64(gaps)
	longRatio := float64(a.PauseBuckets.Long) / float64(gaps)

	burstCoverage := 0.0
	if a.TotalKeystrokes > 0 {
		inBurst := 0
		for _, b := range a.Bursts {
			inBurst += b.Keystrokes
		}
		burstCoverage = float64(inBurst) / float64(a.TotalKeystrokes)
	}

	score := 100 * (w.FocusShortPauseWeight*shortRatio +
		w.FocusBurstWeight*burstCoverage +
		w.FocusLongPausePenalty*(1-longRatio))
	return clampScore(score)
}

// productivityScore scores 0-100 from WPM relative to the configured
// target plus the output-to-duration ratio.
func productivityScore(a SessionAnalytics, w Weights) float64 {
	wpmComponent := 0.0
	if w.ProductivityWPMTarget > 0 {
		wpmComponent = math.Min(a.WordsPerMinute/w.ProductivityWPMTarget, 1)
	}

	outputComponent := 0.0
	if a.TotalDuration > 0 {
		wordsPerTotalMinute := float64(a.ProductiveWords) / a.TotalDuration.Minutes()
		if w.ProductivityWPMTarget > 0 {
			outputComponent = math.Min(wordsPerTotalMinute/w.ProductivityWPMTarget, 1)
		}
	}

	score := 100 * (w.ProductivityWPMWeight*wpmComponent +
		w.ProductivityOutputWeight*outputComponent)
	return clampScore(score)
}

// engagementScore scores 0-100 from the active-time ratio and typing
// rhythm consistency (inverse coefficient of variation of sub-threshold
// gaps).
func engagementScore(a SessionAnalytics, events []event.KeystrokeEvent, w Weights) float64 {
	activeRatio := 0.0
	if a.TotalDuration > 0 {
		activeRatio = math.Min(a.ActiveWritingTime.Seconds()/a.TotalDuration.Seconds(), 1)
	}

	consistency := gapConsistency(events, w.PauseThresholdMs)

	score := 100 * (w.EngagementActiveWeight*activeRatio +
		w.EngagementConsistencyWeight*consistency)
	return clampScore(score)
}

// gapConsistency returns 1 - CV of inter-event gaps at or below the
// pause threshold, clamped to [0, 1]. A steady rhythm approaches 1.
func gapConsistency(events []event.KeystrokeEvent, thresholdMs int64) float64 {
	var gaps []float64
	for i := 1; i < len(events); i++ {
		gap := events[i].TimestampMs - events[i-1].TimestampMs
		if gap <= thresholdMs {
			gaps = append(gaps, float64(gap))
		}
	}
	if len(gaps) < 2 {
		return 0
	}

	mean := 0.0
	for _, g := range gaps {
		mean += g
	}
	mean /= float64(len(gaps))
	if mean == 0 {
		return 1
	}

	variance := 0.0
	for _, g := range gaps {
		d := g - mean
		variance += d * d
	}
	variance /= float64(len(gaps))
	cv := math.Sqrt(variance) / mean

	consistency := 1 - cv
	if consistency < 0 {
		return 0
	}
	if consistency > 1 {
		return 1
	}
	return consistency
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
