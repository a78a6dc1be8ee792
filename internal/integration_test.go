// Package internal provides integration tests for the typetrace pipeline.
//
// These tests verify the complete session lifecycle:
// 1. Capture editing actions into a finalized session record
// 2. Persist and reload the record through the SQLite store
// 3. Replay the stored session into a content sink
// 4. Compute analytics over the stored event log
// 5. Export and delete the session through the retention manager
package internal

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"typetrace/internal/analytics"
	"typetrace/internal/capture"
	"typetrace/internal/event"
	"typetrace/internal/replay"
	"typetrace/internal/retention"
	"typetrace/internal/sink"
	"typetrace/internal/store"
)

// TestFullSessionPipeline drives one session from keystrokes to deletion.
func TestFullSessionPipeline(t *testing.T) {
	tmpDir := t.TempDir()

	// Step 1: Open the store.
	db, err := store.Open(filepath.Join(tmpDir, "typetrace.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer db.Close()

	// Step 2: Capture a short writing session.
	cfg := capture.DefaultConfig()
	cfg.InactivityTimeout = 0
	rec := capture.NewRecorder(cfg, db, nil, nil)

	sessionID, err := rec.Start("alice", "doc-1", "Integration Essay")
	if err != nil {
		t.Fatalf("Failed to start capture: %v", err)
	}

	base := time.Now()
	text := "the quick brown fox"
	for i, r := range text {
		a := capture.Action{
			Timestamp:  base.Add(time.Duration(i) * 120 * time.Millisecond),
			Type:       capture.ActionInsert,
			Data:       string(r),
			CaretStart: i,
			CaretEnd:   i,
		}
		if err := rec.HandleAction(a); err != nil {
			t.Fatalf("Failed to record action %d: %v", i, err)
		}
	}
	// Fix a typo: delete the trailing "fox" and retype it.
	for i := 0; i < 3; i++ {
		a := capture.Action{
			Timestamp:  base.Add(time.Duration(len(text)+i) * 120 * time.Millisecond),
			Type:       capture.ActionDelete,
			CaretStart: len(text) - 1 - i,
			CaretEnd:   len(text) - i,
		}
		if err := rec.HandleAction(a); err != nil {
			t.Fatalf("Failed to record delete %d: %v", i, err)
		}
	}
	for i, r := range "fox" {
		offset := len(text) + 3 + i
		a := capture.Action{
			Timestamp:  base.Add(time.Duration(offset) * 120 * time.Millisecond),
			Type:       capture.ActionInsert,
			Data:       string(r),
			CaretStart: len(text) - 3 + i,
			CaretEnd:   len(text) - 3 + i,
		}
		if err := rec.HandleAction(a); err != nil {
			t.Fatalf("Failed to retype rune %d: %v", i, err)
		}
	}

	record, err := rec.Stop()
	if err != nil {
		t.Fatalf("Failed to stop capture: %v", err)
	}
	if record.ID != sessionID {
		t.Fatalf("Record ID %q does not match session %q", record.ID, sessionID)
	}
	t.Logf("Captured %d events", len(record.Events))

	// Step 3: Reload from the store and check fidelity.
	stored, err := db.GetSession(sessionID)
	if err != nil {
		t.Fatalf("Failed to reload session: %v", err)
	}
	if len(stored.Events) != len(record.Events) {
		t.Fatalf("Stored %d events, captured %d", len(stored.Events), len(record.Events))
	}
	if err := event.ValidateOrdering(stored.Events); err != nil {
		t.Fatalf("Stored log violates ordering: %v", err)
	}
	content, err := event.Replay(stored.Events, len(stored.Events))
	if err != nil {
		t.Fatalf("Failed to replay stored log: %v", err)
	}
	if content != text {
		t.Fatalf("Replayed content %q, want %q", content, text)
	}

	// Step 4: Timed replay into a sink reproduces the same content.
	buf := sink.NewBuffer()
	engine := replay.New(replay.Config{
		MinSpeed:               0.25,
		MaxSpeed:               16,
		SkipIncrement:          time.Second,
		PreserveTimingAccuracy: true,
		MinTick:                2 * time.Millisecond,
		CheckpointInterval:     8,
	}, db, buf, nil)
	defer engine.Destroy()

	if err := engine.Load(context.Background(), sessionID); err != nil {
		t.Fatalf("Failed to load recording: %v", err)
	}
	done := make(chan replay.Notification, 1)
	go func() {
		for n := range engine.Subscribe() {
			if n.Kind == replay.NotifyComplete {
				done <- n
				return
			}
		}
	}()
	engine.SetSpeed(16)
	if err := engine.Play(); err != nil {
		t.Fatalf("Failed to play: %v", err)
	}
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Replay did not complete")
	}
	if got := buf.Content(); got != text {
		t.Fatalf("Replay sink content %q, want %q", got, text)
	}
	t.Log("Timed replay reproduced the captured document")

	// Step 5: Analytics over the stored log.
	result := analytics.Compute(stored.Events, analytics.DefaultWeights())
	if result.TotalKeystrokes != len(stored.Events) {
		t.Errorf("TotalKeystrokes = %d, want %d", result.TotalKeystrokes, len(stored.Events))
	}
	if result.EditingRatio <= 0 {
		t.Error("Deletions recorded but editing ratio is zero")
	}
	if result.FocusScore < 0 || result.FocusScore > 100 {
		t.Errorf("FocusScore %v out of range", result.FocusScore)
	}

	// Step 6: Export through the retention manager.
	mgr, err := retention.NewManager(retention.Config{
		SweepInterval:   time.Hour,
		ConfirmationTTL: time.Minute,
		ExportDir:       filepath.Join(tmpDir, "exports"),
	}, db, nil, nil)
	if err != nil {
		t.Fatalf("Failed to create retention manager: %v", err)
	}
	mgr.Start()
	defer mgr.Close()

	export, err := mgr.RequestExport(context.Background(), "alice", []string{sessionID}, store.FormatJSON)
	if err != nil {
		t.Fatalf("Failed to request export: %v", err)
	}
	var artifact string
	deadline := time.Now().Add(5 * time.Second)
	for {
		req, err := db.GetExportRequest(export.ID)
		if err != nil {
			t.Fatalf("Failed to poll export request: %v", err)
		}
		if req.Status == store.StatusCompleted {
			artifact = req.ArtifactPath
			break
		}
		if req.Status == store.StatusFailed {
			t.Fatalf("Export failed: %s", req.Error)
		}
		if time.Now().After(deadline) {
			t.Fatalf("Export stuck in status %s", req.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	data, err := os.ReadFile(artifact)
	if err != nil {
		t.Fatalf("Failed to read export artifact: %v", err)
	}
	var envelope retention.ExportEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("Export artifact is not valid JSON: %v", err)
	}
	if len(envelope.Sessions) != 1 || envelope.Sessions[0].ID != sessionID {
		t.Fatalf("Export envelope does not carry session %s", sessionID)
	}
	t.Logf("Export artifact written to %s", artifact)

	// Step 7: Delete with confirmation; metadata survives the purge.
	outcome, err := mgr.RequestDeletion(context.Background(), "alice", []string{sessionID}, "pipeline test")
	if err != nil {
		t.Fatalf("Failed to request deletion: %v", err)
	}
	if outcome.ConfirmationCode == "" {
		t.Fatal("Full-privacy deletion should require confirmation")
	}
	if err := mgr.ConfirmDeletion(context.Background(), outcome.Request.ID, outcome.ConfirmationCode); err != nil {
		t.Fatalf("Failed to confirm deletion: %v", err)
	}

	summary, err := db.GetSummary(sessionID)
	if err != nil {
		t.Fatalf("Session metadata lost after purge: %v", err)
	}
	if !summary.Purged() {
		t.Fatal("Session not marked purged")
	}
	purged, err := db.GetSession(sessionID)
	if err != nil {
		t.Fatalf("Failed to reload purged session: %v", err)
	}
	if len(purged.Events) != 0 {
		t.Fatalf("Purge left %d event rows behind", len(purged.Events))
	}

	// The handling log documents the full lifecycle.
	entries, err := db.QueryHandlingLog(sessionID, 0)
	if err != nil {
		t.Fatalf("Failed to query handling log: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("Handling log is empty after a full lifecycle")
	}
	t.Logf("Handling log recorded %d entries", len(entries))
}
