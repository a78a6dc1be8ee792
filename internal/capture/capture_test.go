package capture

import (
	"errors"
	"strings"
	"testing"
	"time"

	"typetrace/internal/event"
)

// memPersister is a Persister that can be told to fail.
type memPersister struct {
	saved []*event.SessionRecord
	fail  error
}

func (p *memPersister) SaveSession(rec *event.SessionRecord) error {
	if p.fail != nil {
		return p.fail
	}
	p.saved = append(p.saved, rec)
	return nil
}

// memCache is a FallbackPutter backed by a slice.
type memCache struct {
	put []*event.SessionRecord
}

func (c *memCache) Put(rec *event.SessionRecord) error {
	c.put = append(c.put, rec)
	return nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SampleRate = time.Millisecond
	cfg.BufferSize = 4
	cfg.InactivityTimeout = 0
	return cfg
}

func newTestRecorder(t *testing.T, cfg Config) (*Recorder, *memPersister) {
	t.Helper()
	p := &memPersister{}
	return NewRecorder(cfg, p, nil, nil), p
}

func insertAt(ts time.Time, data string, caret int) Action {
	return Action{Timestamp: ts, Type: ActionInsert, Data: data, CaretStart: caret, CaretEnd: caret}
}

func TestStartHandleStop(t *testing.T) {
	rec, p := newTestRecorder(t, testConfig())

	id, err := rec.Start("alice", "doc-1", "Essay")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if id == "" {
		t.Fatal("Start returned empty session ID")
	}

	base := time.Now()
	for i, ch := range []string{"h", "e", "l", "l", "o"} {
		a := insertAt(base.Add(time.Duration(i)*100*time.Millisecond), ch, i)
		if err := rec.HandleAction(a); err != nil {
			t.Fatalf("HandleAction %d: %v", i, err)
		}
	}

	record, err := rec.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if record.ID != id {
		t.Errorf("record ID = %q, want %q", record.ID, id)
	}
	if len(record.Events) != 5 {
		t.Fatalf("got %d events, want 5", len(record.Events))
	}
	if err := event.ValidateOrdering(record.Events); err != nil {
		t.Errorf("finalized log violates ordering: %v", err)
	}
	if record.TotalKeystrokes != 5 {
		t.Errorf("TotalKeystrokes = %d, want 5", record.TotalKeystrokes)
	}
	if record.TotalCharacters != 5 {
		t.Errorf("TotalCharacters = %d, want 5", record.TotalCharacters)
	}
	if len(p.saved) != 1 {
		t.Fatalf("persisted %d records, want 1", len(p.saved))
	}

	content, err := event.Replay(record.Events, len(record.Events))
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if content != "hello" {
		t.Errorf("replayed content = %q, want %q", content, "hello")
	}
}

func TestStopTwice(t *testing.T) {
	rec, _ := newTestRecorder(t, testConfig())
	if _, err := rec.Start("alice", "doc-1", ""); err != nil {
		t.Fatal(err)
	}
	first, err := rec.Stop()
	if err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	second, err := rec.Stop()
	if !errors.Is(err, ErrAlreadyStopped) {
		t.Fatalf("second Stop error = %v, want ErrAlreadyStopped", err)
	}
	if second != first {
		t.Error("second Stop returned a different record")
	}
}

func TestLifecycleErrors(t *testing.T) {
	rec, _ := newTestRecorder(t, testConfig())

	if err := rec.HandleAction(insertAt(time.Now(), "x", 0)); !errors.Is(err, ErrNotRecording) {
		t.Errorf("HandleAction before Start = %v, want ErrNotRecording", err)
	}
	if _, err := rec.Stop(); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Stop before Start = %v, want ErrNotRecording", err)
	}

	if _, err := rec.Start("alice", "doc-1", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := rec.Start("alice", "doc-2", ""); !errors.Is(err, ErrAlreadyRecording) {
		t.Errorf("second Start = %v, want ErrAlreadyRecording", err)
	}
	if _, err := rec.Stop(); err != nil {
		t.Fatal(err)
	}
}

func TestPasteDetection(t *testing.T) {
	cfg := testConfig()
	cfg.PasteThreshold = 3
	rec, _ := newTestRecorder(t, cfg)
	if _, err := rec.Start("alice", "doc-1", ""); err != nil {
		t.Fatal(err)
	}

	base := time.Now()
	if err := rec.HandleAction(insertAt(base, "hi", 0)); err != nil {
		t.Fatal(err)
	}
	if err := rec.HandleAction(insertAt(base.Add(time.Second), "pasted text", 2)); err != nil {
		t.Fatal(err)
	}

	record, err := rec.Stop()
	if err != nil {
		t.Fatal(err)
	}
	if got := record.Events[0].Kind; got != event.KindInsert {
		t.Errorf("short insertion kind = %s, want insert", got)
	}
	if got := record.Events[1].Kind; got != event.KindPaste {
		t.Errorf("long insertion kind = %s, want paste", got)
	}
	if !record.Events[1].IsPaste {
		t.Error("long insertion not flagged IsPaste")
	}
}

func TestPasteDetectionDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.EnablePasteDetection = false
	rec, _ := newTestRecorder(t, cfg)
	if _, err := rec.Start("alice", "doc-1", ""); err != nil {
		t.Fatal(err)
	}
	if err := rec.HandleAction(insertAt(time.Now(), "a very long pasted run", 0)); err != nil {
		t.Fatal(err)
	}
	record, err := rec.Stop()
	if err != nil {
		t.Fatal(err)
	}
	if record.Events[0].Kind != event.KindInsert || record.Events[0].IsPaste {
		t.Errorf("paste detection disabled but got kind %s (is_paste %t)",
			record.Events[0].Kind, record.Events[0].IsPaste)
	}
}

func TestSelectionTrackingDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.EnableSelectionTracking = false
	rec, _ := newTestRecorder(t, cfg)
	if _, err := rec.Start("alice", "doc-1", ""); err != nil {
		t.Fatal(err)
	}
	if err := rec.HandleAction(Action{Timestamp: time.Now(), Type: ActionSelect, CaretStart: 0, CaretEnd: 3}); err != nil {
		t.Fatal(err)
	}
	record, err := rec.Stop()
	if err != nil {
		t.Fatal(err)
	}
	if len(record.Events) != 0 {
		t.Errorf("got %d events, want selections dropped", len(record.Events))
	}
}

func TestPauseResumeMarkers(t *testing.T) {
	rec, _ := newTestRecorder(t, testConfig())
	if _, err := rec.Start("alice", "doc-1", ""); err != nil {
		t.Fatal(err)
	}

	if err := rec.Pause(); err != nil {
		t.Fatal(err)
	}
	// Pausing twice adds no second marker.
	if err := rec.Pause(); err != nil {
		t.Fatal(err)
	}
	if err := rec.Resume(); err != nil {
		t.Fatal(err)
	}

	record, err := rec.Stop()
	if err != nil {
		t.Fatal(err)
	}
	if len(record.Events) != 2 {
		t.Fatalf("got %d events, want pause_start and pause_end", len(record.Events))
	}
	if record.Events[0].Kind != event.KindPauseStart {
		t.Errorf("first marker = %s, want pause_start", record.Events[0].Kind)
	}
	if record.Events[1].Kind != event.KindPauseEnd {
		t.Errorf("second marker = %s, want pause_end", record.Events[1].Kind)
	}
	if err := event.ValidateOrdering(record.Events); err != nil {
		t.Errorf("markers violate ordering: %v", err)
	}
}

func TestTimestampsNeverRegress(t *testing.T) {
	rec, _ := newTestRecorder(t, testConfig())
	if _, err := rec.Start("alice", "doc-1", ""); err != nil {
		t.Fatal(err)
	}

	// Host clock jitters backwards between actions.
	base := time.Now()
	stamps := []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 200 * time.Millisecond}
	for i, d := range stamps {
		if err := rec.HandleAction(insertAt(base.Add(d), "a", i)); err != nil {
			t.Fatal(err)
		}
	}

	record, err := rec.Stop()
	if err != nil {
		t.Fatal(err)
	}
	if err := event.ValidateOrdering(record.Events); err != nil {
		t.Errorf("jittered input produced invalid ordering: %v", err)
	}
	if record.Events[2].TimestampMs < record.Events[1].TimestampMs {
		t.Errorf("timestamp regressed: %d after %d",
			record.Events[2].TimestampMs, record.Events[1].TimestampMs)
	}
}

func TestPauseMarkerAfterFlushKeepsOrdering(t *testing.T) {
	rec, _ := newTestRecorder(t, testConfig())
	if _, err := rec.Start("alice", "doc-1", ""); err != nil {
		t.Fatal(err)
	}

	// Host timestamps run well ahead of wall clock, then the flusher
	// drains the hot buffer before a pause marker is stamped.
	if err := rec.HandleAction(insertAt(time.Now().Add(10*time.Second), "a", 0)); err != nil {
		t.Fatal(err)
	}
	rec.flush()

	if err := rec.Pause(); err != nil {
		t.Fatal(err)
	}
	if err := rec.Resume(); err != nil {
		t.Fatal(err)
	}

	record, err := rec.Stop()
	if err != nil {
		t.Fatal(err)
	}
	if err := event.ValidateOrdering(record.Events); err != nil {
		t.Errorf("pause after flush produced invalid ordering: %v", err)
	}
	if len(record.Events) != 3 {
		t.Fatalf("got %d events, want insert + pause markers", len(record.Events))
	}
	if record.Events[1].TimestampMs < record.Events[0].TimestampMs {
		t.Errorf("pause marker at %dms precedes flushed event at %dms",
			record.Events[1].TimestampMs, record.Events[0].TimestampMs)
	}
}

func TestZeroSampleRateDoesNotPanic(t *testing.T) {
	cfg := testConfig()
	cfg.SampleRate = 0
	rec, p := newTestRecorder(t, cfg)

	if _, err := rec.Start("alice", "doc-1", ""); err != nil {
		t.Fatal(err)
	}
	if err := rec.HandleAction(insertAt(time.Now(), "a", 0)); err != nil {
		t.Fatal(err)
	}
	if _, err := rec.Stop(); err != nil {
		t.Fatal(err)
	}
	if len(p.saved) != 1 {
		t.Fatalf("persisted %d records, want 1", len(p.saved))
	}
}

func TestFallbackCacheOnPersistFailure(t *testing.T) {
	p := &memPersister{fail: errors.New("store offline")}
	cache := &memCache{}
	rec := NewRecorder(testConfig(), p, cache, nil)

	id, err := rec.Start("alice", "doc-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := rec.HandleAction(insertAt(time.Now(), "x", 0)); err != nil {
		t.Fatal(err)
	}

	record, err := rec.Stop()
	if err != nil {
		t.Fatalf("Stop with fallback cache: %v", err)
	}
	if record == nil || record.ID != id {
		t.Fatal("Stop did not return the finalized record")
	}
	if len(cache.put) != 1 {
		t.Fatalf("cached %d records, want 1", len(cache.put))
	}
	if cache.put[0].ID != id {
		t.Errorf("cached record ID = %q, want %q", cache.put[0].ID, id)
	}
}

func TestPersistFailureWithoutCache(t *testing.T) {
	p := &memPersister{fail: errors.New("store offline")}
	rec := NewRecorder(testConfig(), p, nil, nil)

	if _, err := rec.Start("alice", "doc-1", ""); err != nil {
		t.Fatal(err)
	}
	record, err := rec.Stop()
	if err == nil {
		t.Fatal("Stop succeeded with a dead store and no cache")
	}
	if record == nil {
		t.Error("record should still be returned on persist failure")
	}
}

func TestInactivityFinalizes(t *testing.T) {
	cfg := testConfig()
	cfg.InactivityTimeout = 30 * time.Millisecond
	rec, p := newTestRecorder(t, cfg)

	if _, err := rec.Start("alice", "doc-1", ""); err != nil {
		t.Fatal(err)
	}
	if err := rec.HandleAction(insertAt(time.Now(), "x", 0)); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, live := rec.RecordingStatus(); !live {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session never finalized on inactivity")
		}
		time.Sleep(5 * time.Millisecond)
	}

	record, err := rec.Stop()
	if !errors.Is(err, ErrAlreadyStopped) {
		t.Fatalf("Stop after timeout = %v, want ErrAlreadyStopped", err)
	}
	if record == nil || len(record.Events) != 1 {
		t.Fatal("timeout finalization lost the event log")
	}
	if len(p.saved) != 1 {
		t.Errorf("persisted %d records, want 1", len(p.saved))
	}
}

func TestAnonymizedPersistence(t *testing.T) {
	cfg := testConfig()
	cfg.PrivacyLevel = event.PrivacyAnonymized
	rec, p := newTestRecorder(t, cfg)

	if _, err := rec.Start("alice", "doc-1", ""); err != nil {
		t.Fatal(err)
	}
	if err := rec.HandleAction(insertAt(time.Now(), "secret", 0)); err != nil {
		t.Fatal(err)
	}
	record, err := rec.Stop()
	if err != nil {
		t.Fatal(err)
	}

	for _, e := range record.Events {
		if strings.Contains(e.Payload, "secret") {
			t.Fatalf("anonymized record leaked payload %q", e.Payload)
		}
	}
	// Aggregates are computed before redaction.
	if record.TotalCharacters != 6 {
		t.Errorf("TotalCharacters = %d, want 6", record.TotalCharacters)
	}
	if len(p.saved) != 1 {
		t.Fatal("anonymized session not persisted")
	}
}

func TestStatisticsSnapshot(t *testing.T) {
	rec, _ := newTestRecorder(t, testConfig())
	if _, err := rec.Start("alice", "doc-1", ""); err != nil {
		t.Fatal(err)
	}

	base := time.Now()
	if err := rec.HandleAction(insertAt(base, "ab", 0)); err != nil {
		t.Fatal(err)
	}
	if err := rec.HandleAction(insertAt(base.Add(50*time.Millisecond), "pasted text here", 2)); err != nil {
		t.Fatal(err)
	}

	stats := rec.Statistics()
	if !stats.Recording {
		t.Error("Recording = false during a live session")
	}
	if stats.TotalEvents != 2 {
		t.Errorf("TotalEvents = %d, want 2", stats.TotalEvents)
	}
	if stats.PasteEvents != 1 {
		t.Errorf("PasteEvents = %d, want 1", stats.PasteEvents)
	}
	if got := rec.Content(); got != "abpasted text here" {
		t.Errorf("Content = %q", got)
	}

	if _, err := rec.Stop(); err != nil {
		t.Fatal(err)
	}
	stats = rec.Statistics()
	if stats.Recording {
		t.Error("Recording = true after Stop")
	}
}
