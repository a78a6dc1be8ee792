package replay

import (
	"sync"
	"time"
)

// NotificationKind is the closed set of playback notifications.
type NotificationKind string

// Playback notification kinds.
const (
	NotifyPlay            NotificationKind = "play"
	NotifyPause           NotificationKind = "pause"
	NotifyStop            NotificationKind = "stop"
	NotifyComplete        NotificationKind = "complete"
	NotifyTimeUpdate      NotificationKind = "time_update"
	NotifySeek            NotificationKind = "seek"
	NotifySpeedChange     NotificationKind = "speed_change"
	NotifyEventProcessed  NotificationKind = "event_processed"
	NotifyRecordingLoaded NotificationKind = "recording_loaded"
)

// Notification is one playback event delivered to subscribers. Fields
// beyond Kind are populated per kind: Time and Progress for time
// updates and seeks, Speed for speed changes, EventIndex for processed
// events, RecordingID for loads.
type Notification struct {
	Kind        NotificationKind
	Time        time.Duration
	Progress    float64
	Speed       float64
	EventIndex  int
	RecordingID string
}

// bus fans notifications out to subscriber channels. Delivery is
// non-blocking: a subscriber that stops draining loses notifications
// rather than stalling the playback loop.
type bus struct {
	mu   sync.Mutex
	subs []chan Notification
}

// Subscribe returns a buffered channel of notifications. The channel
// is closed when the engine is destroyed.
func (b *bus) Subscribe() <-chan Notification {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Notification, 64)
	b.subs = append(b.subs, ch)
	return ch
}

// publish delivers a notification to all subscribers without blocking.
func (b *bus) publish(n Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- n:
		default:
			// Subscriber is behind; drop.
		}
	}
}

// closeAll closes every subscriber channel.
func (b *bus) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
