package sink

import (
	"sync"
	"testing"
)

func TestBufferClampsCaret(t *testing.T) {
	b := NewBuffer()
	b.SetContent("hello")

	b.SetCaret(-3)
	if b.Caret() != 0 {
		t.Errorf("caret = %d, want 0", b.Caret())
	}

	b.SetCaret(99)
	if b.Caret() != 5 {
		t.Errorf("caret = %d, want 5", b.Caret())
	}

	// Shrinking content pulls the caret back in bounds.
	b.SetContent("hi")
	if b.Caret() != 2 {
		t.Errorf("caret after shrink = %d, want 2", b.Caret())
	}
}

func TestBufferRuneSemantics(t *testing.T) {
	b := NewBuffer()
	b.SetContent("café")
	b.SetCaret(10)
	if b.Caret() != 4 {
		t.Errorf("caret = %d, want rune length 4", b.Caret())
	}
	if b.Content() != "café" {
		t.Errorf("content = %q", b.Content())
	}
}

func TestBufferConcurrentAccess(t *testing.T) {
	b := NewBuffer()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.SetContent("abc")
				b.SetCaret(j % 4)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = b.Content()
				_ = b.Caret()
			}
		}()
	}
	wg.Wait()
}
