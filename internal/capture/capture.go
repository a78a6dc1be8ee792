// Package capture records editing actions from a host editor into an
// ordered keystroke event log.
//
// The input path is non-blocking: HandleAction appends to an in-memory
// buffer under a short lock and returns. A background flusher drains
// the buffer into the session log, and persistence happens only at
// finalization. If the store is unavailable when a session finalizes,
// the record lands in a fallback cache and is retried later - a
// completed session is never dropped.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"typetrace/internal/event"
	"typetrace/internal/logging"
)

// ActionType identifies the editing action reported by the host.
type ActionType string

// Host action types.
const (
	ActionInsert ActionType = "insert"
	ActionDelete ActionType = "delete"
	ActionSelect ActionType = "select"
)

// Action is one editing action from the host editor.
type Action struct {
	Timestamp  time.Time
	Type       ActionType
	Data       string
	CaretStart int
	CaretEnd   int
}

// Persister saves finalized session records. *store.Store satisfies it.
type Persister interface {
	SaveSession(rec *event.SessionRecord) error
}

// FallbackPutter caches records that failed to persist.
type FallbackPutter interface {
	Put(rec *event.SessionRecord) error
}

// Config controls a capture session.
type Config struct {
	// SampleRate is the sampling tick; insertions longer than
	// PasteThreshold arriving within one tick are flagged as pastes.
	SampleRate time.Duration

	// BufferSize is the hot-buffer threshold that triggers an
	// asynchronous flush into the session log.
	BufferSize int

	// PasteThreshold is the insertion rune length above which a
	// single-tick insertion is treated as a paste.
	PasteThreshold int

	EnablePasteDetection    bool
	EnableSelectionTracking bool
	EnableTimingAnalysis    bool

	// InactivityTimeout finalizes an idle session. 0 disables it.
	InactivityTimeout time.Duration

	// PrivacyLevel bounds what survives persistence.
	PrivacyLevel event.PrivacyLevel
}

// DefaultConfig returns sensible capture defaults.
func DefaultConfig() Config {
	return Config{
		SampleRate:              50 * time.Millisecond,
		BufferSize:              256,
		PasteThreshold:          3,
		EnablePasteDetection:    true,
		EnableSelectionTracking: true,
		EnableTimingAnalysis:    true,
		InactivityTimeout:       5 * time.Minute,
		PrivacyLevel:            event.PrivacyFull,
	}
}

// Errors
var (
	ErrNotRecording     = errors.New("capture: no session in progress")
	ErrAlreadyRecording = errors.New("capture: session already in progress")
	ErrAlreadyStopped   = errors.New("capture: session already finalized")
)

// Recorder captures one session at a time.
type Recorder struct {
	mu sync.Mutex

	config Config
	store  Persister
	cache  FallbackPutter
	logger *logging.Logger
	audit  *logging.AuditLogger

	// Live session state
	sessionID     string
	subjectID     string
	documentID    string
	documentTitle string
	startTime     time.Time
	startMono     time.Time

	seq     uint64
	pending []event.KeystrokeEvent // hot buffer, drained by the flusher
	log     []event.KeystrokeEvent // session event log

	// Internal document model; kept so sink unavailability never
	// loses events.
	content string
	caret   int

	recording bool
	paused    bool
	stopOnce  *sync.Once
	final     *event.SessionRecord

	flushCh    chan struct{}
	flushDone  chan struct{}
	inactivity *time.Timer
}

// NewRecorder creates a Recorder that persists via p and falls back to
// cache on persistence failure.
func NewRecorder(cfg Config, p Persister, cache FallbackPutter, logger *logging.Logger) *Recorder {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultConfig().SampleRate
	}
	return &Recorder{
		config: cfg,
		store:  p,
		cache:  cache,
		logger: logger.WithComponent("capture"),
		audit:  logging.DefaultAuditLogger(),
	}
}

// Start begins a new capture session and returns its ID.
func (r *Recorder) Start(subjectID, documentID, documentTitle string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return "", ErrAlreadyRecording
	}

	r.sessionID = uuid.NewString()
	r.subjectID = subjectID
	r.documentID = documentID
	r.documentTitle = documentTitle
	r.startTime = time.Now()
	r.startMono = r.startTime
	r.seq = 0
	r.pending = nil
	r.log = nil
	r.content = ""
	r.caret = 0
	r.recording = true
	r.paused = false
	r.stopOnce = new(sync.Once)
	r.final = nil
	r.flushCh = make(chan struct{}, 1)
	r.flushDone = make(chan struct{})

	go r.flushLoop(r.flushCh, r.flushDone)
	r.resetInactivityLocked()

	r.logger.Info("capture started",
		"session_id", r.sessionID, "document_id", documentID)
	_ = r.audit.LogSessionStart(context.Background(), r.sessionID, subjectID,
		map[string]any{"document_id": documentID})

	return r.sessionID, nil
}

// HandleAction records one editing action. It never blocks on I/O.
func (r *Recorder) HandleAction(a Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording {
		return ErrNotRecording
	}
	if a.Type == ActionSelect && !r.config.EnableSelectionTracking {
		return nil
	}

	e := r.buildEventLocked(a)
	r.pending = append(r.pending, e)

	// Keep the internal model current so a vanished sink costs nothing.
	r.content, r.caret, _ = event.Apply(r.content, e)

	if len(r.pending) >= r.config.BufferSize {
		select {
		case r.flushCh <- struct{}{}:
		default:
		}
	}

	r.resetInactivityLocked()
	return nil
}

// buildEventLocked converts a host action into a sequenced event.
func (r *Recorder) buildEventLocked(a Action) event.KeystrokeEvent {
	r.seq++

	ts := a.Timestamp
	if ts.IsZero() || !r.config.EnableTimingAnalysis {
		ts = time.Now()
	}
	offset := ts.Sub(r.startMono)
	if offset < 0 {
		offset = 0
	}
	offset = r.clampMonotonicLocked(offset)

	e := event.KeystrokeEvent{
		Seq:         r.seq,
		TimestampMs: offset.Milliseconds(),
		CaretStart:  a.CaretStart,
		CaretEnd:    a.CaretEnd,
		Payload:     a.Data,
	}

	switch a.Type {
	case ActionInsert:
		e.Kind = event.KindInsert
		if r.config.EnablePasteDetection && utf8.RuneCountInString(a.Data) > r.config.PasteThreshold {
			e.Kind = event.KindPaste
			e.IsPaste = true
		}
	case ActionDelete:
		e.Kind = event.KindDelete
	case ActionSelect:
		e.Kind = event.KindSelect
	default:
		e.Kind = event.KindInsert
	}
	return e
}

// Pause emits a PauseStart marker. The gap until Resume is excluded
// from active writing time but counted in total elapsed time.
func (r *Recorder) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording {
		return ErrNotRecording
	}
	if r.paused {
		return nil
	}
	r.paused = true
	r.appendMarkerLocked(event.KindPauseStart)
	return nil
}

// Resume emits the matching PauseEnd marker.
func (r *Recorder) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording {
		return ErrNotRecording
	}
	if !r.paused {
		return nil
	}
	r.paused = false
	r.appendMarkerLocked(event.KindPauseEnd)
	r.resetInactivityLocked()
	return nil
}

// clampMonotonicLocked keeps timestamps non-decreasing even if host
// clocks jitter. The hot buffer holds the freshest events; once the
// flusher has drained it the session log holds the high-water mark.
func (r *Recorder) clampMonotonicLocked(offset time.Duration) time.Duration {
	last := int64(-1)
	if n := len(r.pending); n > 0 {
		last = r.pending[n-1].TimestampMs
	} else if n := len(r.log); n > 0 {
		last = r.log[n-1].TimestampMs
	}
	if offset.Milliseconds() < last {
		return time.Duration(last) * time.Millisecond
	}
	return offset
}

func (r *Recorder) appendMarkerLocked(kind event.Kind) {
	r.seq++
	offset := r.clampMonotonicLocked(time.Since(r.startMono))
	r.pending = append(r.pending, event.KeystrokeEvent{
		Seq:         r.seq,
		TimestampMs: offset.Milliseconds(),
		Kind:        kind,
		CaretStart:  r.caret,
		CaretEnd:    r.caret,
	})
}

// Stop finalizes the session and returns the record. Safe to call once
// per session; subsequent calls return ErrAlreadyStopped with the same
// record.
func (r *Recorder) Stop() (*event.SessionRecord, error) {
	r.mu.Lock()

	if r.stopOnce == nil {
		r.mu.Unlock()
		return nil, ErrNotRecording
	}
	if !r.recording {
		rec := r.final
		r.mu.Unlock()
		if rec != nil {
			return rec, ErrAlreadyStopped
		}
		return nil, ErrNotRecording
	}

	once := r.stopOnce
	r.mu.Unlock()

	var rec *event.SessionRecord
	var err error
	once.Do(func() {
		rec, err = r.finalize("stop")
	})
	if rec == nil && err == nil {
		// Lost the race with the inactivity timer; return its result.
		r.mu.Lock()
		rec = r.final
		r.mu.Unlock()
	}
	return rec, err
}

// finalize ends the session, computes aggregates, persists, and clears
// buffers. Both explicit Stop and the inactivity timeout land here.
func (r *Recorder) finalize(reason string) (*event.SessionRecord, error) {
	r.mu.Lock()

	if !r.recording {
		rec := r.final
		r.mu.Unlock()
		return rec, nil
	}

	r.recording = false
	if r.inactivity != nil {
		r.inactivity.Stop()
		r.inactivity = nil
	}

	// Drain the hot buffer into the log.
	r.log = append(r.log, r.pending...)
	r.pending = nil
	close(r.flushCh)

	events := r.log
	r.log = nil

	endTime := time.Now()
	rec := &event.SessionRecord{
		ID:              r.sessionID,
		SubjectID:       r.subjectID,
		DocumentID:      r.documentID,
		DocumentTitle:   r.documentTitle,
		StartTime:       r.startTime,
		EndTime:         endTime,
		PrivacyLevel:    r.config.PrivacyLevel,
		Events:          event.Redact(events, r.config.PrivacyLevel),
		TotalKeystrokes: countEdits(events),
		TotalCharacters: utf8.RuneCountInString(r.content),
	}
	rec.AverageWPM = averageWPM(rec.TotalCharacters, activeDuration(events))
	r.final = rec
	flushDone := r.flushDone
	r.content = ""
	r.caret = 0
	r.mu.Unlock()

	<-flushDone

	r.logger.Info("capture finalized",
		"session_id", rec.ID, "reason", reason,
		"events", len(rec.Events), "average_wpm", rec.AverageWPM)
	_ = r.audit.LogSessionEnd(context.Background(), rec.ID,
		map[string]any{"reason": reason, "events": len(rec.Events)})

	if err := r.persist(rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// persist saves the record, falling back to the local cache so the
// session survives a dead store.
func (r *Recorder) persist(rec *event.SessionRecord) error {
	if r.store == nil {
		return nil
	}
	err := r.store.SaveSession(rec)
	if err == nil {
		return nil
	}

	r.logger.Warn("persist failed, caching session",
		"session_id", rec.ID, "error", err)
	if r.cache != nil {
		if cacheErr := r.cache.Put(rec); cacheErr != nil {
			return fmt.Errorf("persist session: %w (fallback cache also failed: %v)", err, cacheErr)
		}
		return nil
	}
	return fmt.Errorf("persist session: %w", err)
}

// flushLoop drains the hot buffer into the session log off the input
// path. It exits when the flush channel closes at finalization.
func (r *Recorder) flushLoop(flushCh chan struct{}, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.config.SampleRate * 4)
	defer ticker.Stop()

	for {
		select {
		case _, ok := <-flushCh:
			if !ok {
				return
			}
			r.flush()
		case <-ticker.C:
			r.flush()
		}
	}
}

// flush moves pending events into the session log.
func (r *Recorder) flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) == 0 || !r.recording {
		return
	}
	r.log = append(r.log, r.pending...)
	r.pending = nil
}

// resetInactivityLocked restarts the auto-stop timer.
func (r *Recorder) resetInactivityLocked() {
	if r.config.InactivityTimeout <= 0 {
		return
	}
	if r.inactivity != nil {
		r.inactivity.Stop()
	}
	once := r.stopOnce
	r.inactivity = time.AfterFunc(r.config.InactivityTimeout, func() {
		once.Do(func() {
			_, _ = r.finalize("inactivity_timeout")
		})
	})
}

// Statistics is a live snapshot for UI polling.
type Statistics struct {
	SessionID       string        `json:"session_id"`
	Recording       bool          `json:"recording"`
	Paused          bool          `json:"paused"`
	Elapsed         time.Duration `json:"elapsed"`
	TotalEvents     int           `json:"total_events"`
	TotalKeystrokes int           `json:"total_keystrokes"`
	TotalCharacters int           `json:"total_characters"`
	PasteEvents     int           `json:"paste_events"`
	KeystrokesPerMin float64      `json:"keystrokes_per_minute"`
}

// Statistics returns a snapshot of the live session.
func (r *Recorder) Statistics() Statistics {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := make([]event.KeystrokeEvent, 0, len(r.log)+len(r.pending))
	all = append(all, r.log...)
	all = append(all, r.pending...)

	stats := Statistics{
		SessionID:       r.sessionID,
		Recording:       r.recording,
		Paused:          r.paused,
		TotalEvents:     len(all),
		TotalKeystrokes: countEdits(all),
		TotalCharacters: utf8.RuneCountInString(r.content),
	}
	if r.recording {
		stats.Elapsed = time.Since(r.startMono)
		if minutes := stats.Elapsed.Minutes(); minutes > 0 {
			stats.KeystrokesPerMin = float64(stats.TotalKeystrokes) / minutes
		}
	}
	for _, e := range all {
		if e.IsPaste {
			stats.PasteEvents++
		}
	}
	return stats
}

// RecordingStatus reports whether a session is live and its ID.
func (r *Recorder) RecordingStatus() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID, r.recording
}

// Content returns the recorder's internal document model.
func (r *Recorder) Content() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.content
}

// countEdits counts content-changing events.
func countEdits(events []event.KeystrokeEvent) int {
	n := 0
	for _, e := range events {
		if e.IsEdit() {
			n++
		}
	}
	return n
}

// activeDuration is total elapsed time minus explicit pause gaps.
func activeDuration(events []event.KeystrokeEvent) time.Duration {
	if len(events) == 0 {
		return 0
	}
	totalMs := events[len(events)-1].TimestampMs

	var pausedMs int64
	var pauseStart int64 = -1
	for _, e := range events {
		switch e.Kind {
		case event.KindPauseStart:
			pauseStart = e.TimestampMs
		case event.KindPauseEnd:
			if pauseStart >= 0 {
				pausedMs += e.TimestampMs - pauseStart
				pauseStart = -1
			}
		}
	}

	active := totalMs - pausedMs
	if active < 0 {
		active = 0
	}
	return time.Duration(active) * time.Millisecond
}

// averageWPM estimates words per minute using the 5-chars-per-word
// convention over active writing time.
func averageWPM(characters int, active time.Duration) float64 {
	minutes := active.Minutes()
	if minutes <= 0 {
		return 0
	}
	return (float64(characters) / 5.0) / minutes
}
