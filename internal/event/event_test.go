package event

import (
	"errors"
	"testing"
)

func insert(seq uint64, ts int64, caret int, payload string) KeystrokeEvent {
	return KeystrokeEvent{Seq: seq, TimestampMs: ts, Kind: KindInsert,
		CaretStart: caret, CaretEnd: caret, Payload: payload}
}

func TestValidateOrdering(t *testing.T) {
	valid := []KeystrokeEvent{
		insert(1, 0, 0, "a"),
		insert(2, 10, 1, "b"),
		insert(3, 10, 2, "c"), // equal timestamps are allowed
	}
	if err := ValidateOrdering(valid); err != nil {
		t.Fatalf("valid log rejected: %v", err)
	}

	dupSeq := []KeystrokeEvent{insert(1, 0, 0, "a"), insert(1, 10, 1, "b")}
	if err := ValidateOrdering(dupSeq); !errors.Is(err, ErrOutOfOrder) {
		t.Errorf("duplicate seq: got %v, want ErrOutOfOrder", err)
	}

	tsRegression := []KeystrokeEvent{insert(1, 100, 0, "a"), insert(2, 50, 1, "b")}
	if err := ValidateOrdering(tsRegression); !errors.Is(err, ErrOutOfOrder) {
		t.Errorf("timestamp regression: got %v, want ErrOutOfOrder", err)
	}

	if err := ValidateOrdering(nil); err != nil {
		t.Errorf("empty log rejected: %v", err)
	}
}

func TestApply(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		event       KeystrokeEvent
		wantContent string
		wantCaret   int
	}{
		{
			name:        "insert at end",
			content:     "hell",
			event:       KeystrokeEvent{Kind: KindInsert, CaretStart: 4, CaretEnd: 4, Payload: "o"},
			wantContent: "hello",
			wantCaret:   5,
		},
		{
			name:        "insert mid document",
			content:     "hlo",
			event:       KeystrokeEvent{Kind: KindInsert, CaretStart: 1, CaretEnd: 1, Payload: "el"},
			wantContent: "hello",
			wantCaret:   3,
		},
		{
			name:        "paste replaces selection",
			content:     "hello world",
			event:       KeystrokeEvent{Kind: KindPaste, CaretStart: 6, CaretEnd: 11, Payload: "there", IsPaste: true},
			wantContent: "hello there",
			wantCaret:   11,
		},
		{
			name:        "delete range",
			content:     "hello",
			event:       KeystrokeEvent{Kind: KindDelete, CaretStart: 1, CaretEnd: 3},
			wantContent: "hlo",
			wantCaret:   1,
		},
		{
			name:        "zero width delete is backspace",
			content:     "hello",
			event:       KeystrokeEvent{Kind: KindDelete, CaretStart: 5, CaretEnd: 5},
			wantContent: "hell",
			wantCaret:   4,
		},
		{
			name:        "backspace at origin is a no-op",
			content:     "hi",
			event:       KeystrokeEvent{Kind: KindDelete, CaretStart: 0, CaretEnd: 0},
			wantContent: "hi",
			wantCaret:   0,
		},
		{
			name:        "select leaves content",
			content:     "hello",
			event:       KeystrokeEvent{Kind: KindSelect, CaretStart: 0, CaretEnd: 5},
			wantContent: "hello",
			wantCaret:   5,
		},
		{
			name:        "out of bounds caret clamps",
			content:     "hi",
			event:       KeystrokeEvent{Kind: KindInsert, CaretStart: 99, CaretEnd: 99, Payload: "!"},
			wantContent: "hi!",
			wantCaret:   3,
		},
		{
			name:        "multibyte payload",
			content:     "naïve",
			event:       KeystrokeEvent{Kind: KindInsert, CaretStart: 5, CaretEnd: 5, Payload: "té"},
			wantContent: "naïveté",
			wantCaret:   7,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, caret, err := Apply(tt.content, tt.event)
			if err != nil {
				t.Fatalf("Apply failed: %v", err)
			}
			if got != tt.wantContent {
				t.Errorf("content = %q, want %q", got, tt.wantContent)
			}
			if caret != tt.wantCaret {
				t.Errorf("caret = %d, want %d", caret, tt.wantCaret)
			}
		})
	}
}

func TestApplyUnknownKind(t *testing.T) {
	_, _, err := Apply("x", KeystrokeEvent{Kind: Kind("wiggle")})
	if !errors.Is(err, ErrUnknownKind) {
		t.Errorf("got %v, want ErrUnknownKind", err)
	}
}

func TestReplayRoundTrip(t *testing.T) {
	events := []KeystrokeEvent{
		insert(1, 0, 0, "h"),
		insert(2, 100, 1, "e"),
		insert(3, 200, 2, "l"),
		insert(4, 300, 3, "l"),
		insert(5, 400, 4, "o"),
		{Seq: 6, TimestampMs: 500, Kind: KindDelete, CaretStart: 5, CaretEnd: 5},
		{Seq: 7, TimestampMs: 600, Kind: KindPaste, CaretStart: 4, CaretEnd: 4, Payload: "o world", IsPaste: true},
	}
	if err := ValidateOrdering(events); err != nil {
		t.Fatalf("fixture log invalid: %v", err)
	}

	content, err := Replay(events, len(events))
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if content != "hello world" {
		t.Errorf("content = %q, want %q", content, "hello world")
	}

	partial, err := Replay(events, 5)
	if err != nil {
		t.Fatalf("partial Replay failed: %v", err)
	}
	if partial != "hello" {
		t.Errorf("partial content = %q, want %q", partial, "hello")
	}
}

func TestSessionRecordDuration(t *testing.T) {
	rec := &SessionRecord{}
	if rec.Duration() != 0 {
		t.Errorf("empty record duration = %v, want 0", rec.Duration())
	}

	rec.Events = []KeystrokeEvent{insert(1, 0, 0, "a"), insert(2, 2500, 1, "b")}
	if got := rec.Duration().Milliseconds(); got != 2500 {
		t.Errorf("duration = %dms, want 2500ms", got)
	}
}

func TestRedact(t *testing.T) {
	events := []KeystrokeEvent{
		insert(1, 0, 3, "héllo"),
		{Seq: 2, TimestampMs: 100, Kind: KindDelete, CaretStart: 2, CaretEnd: 4},
	}

	full := Redact(events, PrivacyFull)
	if full[0].Payload != "héllo" {
		t.Errorf("full redaction altered payload: %q", full[0].Payload)
	}
	full[0].Payload = "mutated"
	if events[0].Payload != "héllo" {
		t.Error("Redact returned a view of the input slice")
	}

	anon := Redact(events, PrivacyAnonymized)
	if anon[0].Payload != "xxxxx" {
		t.Errorf("anonymized payload = %q, want same-length mask", anon[0].Payload)
	}
	if anon[0].CaretStart != 3 {
		t.Error("anonymized redaction should keep caret positions")
	}
	if anon[0].TimestampMs != 0 || anon[1].TimestampMs != 100 {
		t.Error("anonymized redaction should keep timing")
	}

	meta := Redact(events, PrivacyMetadataOnly)
	if meta[0].Payload != "" {
		t.Errorf("metadata-only payload = %q, want empty", meta[0].Payload)
	}
	if meta[1].CaretStart != 0 || meta[1].CaretEnd != 0 {
		t.Error("metadata-only redaction should clear caret positions")
	}
	if meta[1].Kind != KindDelete {
		t.Error("metadata-only redaction should keep event kinds")
	}
}

func TestParsePrivacyLevel(t *testing.T) {
	for _, s := range []string{"full", "ANONYMIZED", "metadata_only"} {
		if _, err := ParsePrivacyLevel(s); err != nil {
			t.Errorf("ParsePrivacyLevel(%q) failed: %v", s, err)
		}
	}
	if _, err := ParsePrivacyLevel("secret"); err == nil {
		t.Error("ParsePrivacyLevel accepted an unknown level")
	}
}
