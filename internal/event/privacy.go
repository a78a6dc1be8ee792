package event

import (
	"fmt"
	"strings"
)

// PrivacyLevel controls how much raw content survives persistence
// alongside timing metadata.
type PrivacyLevel string

// Privacy levels, from most to least permissive.
const (
	// PrivacyFull keeps the complete character payload.
	PrivacyFull PrivacyLevel = "full"

	// PrivacyAnonymized keeps timing and structural metadata and
	// replaces character payloads with same-length placeholders, so
	// rhythm and document shape survive but text does not.
	PrivacyAnonymized PrivacyLevel = "anonymized"

	// PrivacyMetadataOnly keeps only counts and timestamps. Events
	// persist without payloads or caret positions; document content
	// cannot be reconstructed.
	PrivacyMetadataOnly PrivacyLevel = "metadata_only"
)

// maskRune is the placeholder used for anonymized payloads.
const maskRune = 'x'

// ParsePrivacyLevel parses a privacy level string.
func ParsePrivacyLevel(s string) (PrivacyLevel, error) {
	switch PrivacyLevel(strings.ToLower(s)) {
	case PrivacyFull:
		return PrivacyFull, nil
	case PrivacyAnonymized:
		return PrivacyAnonymized, nil
	case PrivacyMetadataOnly:
		return PrivacyMetadataOnly, nil
	default:
		return "", fmt.Errorf("event: unknown privacy level %q", s)
	}
}

// Valid reports whether the level is one of the defined values.
func (p PrivacyLevel) Valid() bool {
	switch p {
	case PrivacyFull, PrivacyAnonymized, PrivacyMetadataOnly:
		return true
	}
	return false
}

// Redact returns a copy of events with payloads stripped according to
// the privacy level. The input slice is never mutated.
func Redact(events []KeystrokeEvent, level PrivacyLevel) []KeystrokeEvent {
	if level == PrivacyFull {
		out := make([]KeystrokeEvent, len(events))
		copy(out, events)
		return out
	}

	out := make([]KeystrokeEvent, len(events))
	for i, e := range events {
		switch level {
		case PrivacyAnonymized:
			e.Payload = maskPayload(e.Payload)
		case PrivacyMetadataOnly:
			e.Payload = ""
			e.CaretStart = 0
			e.CaretEnd = 0
		}
		out[i] = e
	}
	return out
}

// maskPayload replaces every rune with the mask character, preserving
// length so caret arithmetic still holds on replay.
func maskPayload(s string) string {
	if s == "" {
		return ""
	}
	runes := []rune(s)
	for i := range runes {
		runes[i] = maskRune
	}
	return string(runes)
}
