// Package sink defines the narrow content-sink boundary between the
// telemetry core and whatever editor surface hosts it.
//
// The core never touches a DOM, text area, or widget toolkit directly.
// Capture and replay drive a Sink, and hosts supply an implementation
// backed by their editor. Buffer is an in-memory implementation used
// by tests, tools, and headless replay.
package sink

import "sync"

// Sink exposes get/set access to document content and caret position.
type Sink interface {
	// Content returns the full document text.
	Content() string

	// SetContent replaces the full document text.
	SetContent(s string)

	// Caret returns the caret position in runes from document start.
	Caret() int

	// SetCaret moves the caret. Implementations clamp to content bounds.
	SetCaret(pos int)
}

// Buffer is a thread-safe in-memory Sink.
type Buffer struct {
	mu      sync.RWMutex
	content []rune
	caret   int
}

// NewBuffer returns an empty Buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Content returns the buffer text.
func (b *Buffer) Content() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return string(b.content)
}

// SetContent replaces the buffer text and clamps the caret.
func (b *Buffer) SetContent(s string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.content = []rune(s)
	if b.caret > len(b.content) {
		b.caret = len(b.content)
	}
}

// Caret returns the caret position.
func (b *Buffer) Caret() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.caret
}

// SetCaret moves the caret, clamped to [0, len(content)].
func (b *Buffer) SetCaret(pos int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pos < 0 {
		pos = 0
	}
	if pos > len(b.content) {
		pos = len(b.content)
	}
	b.caret = pos
}
