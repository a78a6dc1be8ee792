// Package replay reconstructs a captured writing session against a
// content sink in real, scaled time.
//
// The engine is a state machine (Idle -> Loading -> Ready <-> Playing
// <-> Paused -> Completed) driven by a single tick goroutine that
// advances a virtual clock scaled by the playback speed. Seeking
// reconstructs content from checkpoint snapshots and is guaranteed to
// produce content identical to a full replay from zero.
package replay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"typetrace/internal/event"
	"typetrace/internal/logging"
	"typetrace/internal/sink"
)

// State is the engine's playback state.
type State string

// Engine states.
const (
	StateIdle      State = "idle"
	StateLoading   State = "loading"
	StateReady     State = "ready"
	StatePlaying   State = "playing"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
)

// Errors
var (
	ErrNoRecording = errors.New("replay: no recording loaded")
	ErrDestroyed   = errors.New("replay: engine destroyed")
)

// RecordLoader fetches persisted session records. *store.Store
// satisfies it.
type RecordLoader interface {
	GetSession(id string) (*event.SessionRecord, error)
}

// Config controls playback behavior.
type Config struct {
	// MinSpeed and MaxSpeed bound the speed multiplier.
	MinSpeed float64
	MaxSpeed float64

	// SkipIncrement is the jump size for SkipForward/SkipBackward.
	SkipIncrement time.Duration

	// PreserveTimingAccuracy plays inter-event delays at
	// recorded_delay / speed. When false every event is applied after
	// a fixed MinTick for responsive scrubbing.
	PreserveTimingAccuracy bool

	// MinTick is the virtual clock granularity.
	MinTick time.Duration

	// CheckpointInterval is the event spacing of seek checkpoints.
	CheckpointInterval int
}

// DefaultConfig returns playback defaults.
func DefaultConfig() Config {
	return Config{
		MinSpeed:               0.25,
		MaxSpeed:               4.0,
		SkipIncrement:          10 * time.Second,
		PreserveTimingAccuracy: true,
		MinTick:                10 * time.Millisecond,
		CheckpointInterval:     200,
	}
}

// PlaybackState is a transient snapshot of the engine. Never persisted.
type PlaybackState struct {
	State             State         `json:"state"`
	IsPlaying         bool          `json:"is_playing"`
	IsPaused          bool          `json:"is_paused"`
	CurrentTime       time.Duration `json:"current_time"`
	TotalDuration     time.Duration `json:"total_duration"`
	PlaybackSpeed     float64       `json:"playback_speed"`
	CurrentEventIndex int           `json:"current_event_index"`
	Progress          float64       `json:"progress"`
}

// PlaybackAnalytics are metrics of the viewing session, distinct from
// the analytics of the original writing session.
type PlaybackAnalytics struct {
	CompletionRate   float64       `json:"completion_rate"`
	PauseCount       int           `json:"pause_count"`
	SeekCount        int           `json:"seek_count"`
	SpeedChanges     int           `json:"speed_changes"`
	TotalPlayTime    time.Duration `json:"total_play_time"`
	AverageSpeed     float64       `json:"average_speed"`
	SessionStartTime time.Time     `json:"session_start_time"`
}

// checkpoint is a content snapshot used for seek reconstruction.
type checkpoint struct {
	index   int // number of events applied
	content string
	caret   int
}

// Engine drives a content sink through a timed reconstruction of one
// recorded session. Only one engine may drive a given sink at a time.
type Engine struct {
	mu sync.Mutex

	config Config
	loader RecordLoader
	sink   sink.Sink
	logger *logging.Logger
	bus    bus

	state       State
	rec         *event.SessionRecord
	checkpoints []checkpoint

	// Virtual clock, advanced by the tick loop. tickFracMs carries the
	// sub-millisecond remainder between ticks so fractional speeds do
	// not drift.
	currentMs  int64
	tickFracMs float64
	durationMs int64
	speed      float64
	eventIndex int

	// Tick loop control. stopCh is non-nil only while playing.
	stopCh chan struct{}
	wg     sync.WaitGroup

	// Viewing-session metrics.
	pauseCount     int
	seekCount      int
	speedChanges   int
	playStart      time.Time
	playTime       time.Duration
	speedTimeAccum float64 // sum of speed * playing seconds
	startedAt      time.Time
	maxIndexSeen   int

	destroyed bool
}

// New creates an Engine bound to a loader and a sink.
func New(cfg Config, loader RecordLoader, s sink.Sink, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.MinTick <= 0 {
		cfg.MinTick = 10 * time.Millisecond
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = 200
	}
	return &Engine{
		config:    cfg,
		loader:    loader,
		sink:      s,
		logger:    logger.WithComponent("replay"),
		state:     StateIdle,
		speed:     1.0,
		startedAt: time.Now(),
	}
}

// Subscribe returns a channel of playback notifications.
func (e *Engine) Subscribe() <-chan Notification {
	return e.bus.Subscribe()
}

// Load fetches a recording, validates event ordering, and moves the
// engine to Ready at time zero. A malformed log fails fast.
func (e *Engine) Load(ctx context.Context, id string) error {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return ErrDestroyed
	}
	e.stopLoopLocked()
	e.state = StateLoading
	e.mu.Unlock()

	rec, err := e.loader.GetSession(id)
	if err != nil {
		e.setState(StateIdle)
		return fmt.Errorf("load recording %s: %w", id, err)
	}
	if err := ctx.Err(); err != nil {
		e.setState(StateIdle)
		return err
	}
	if err := event.ValidateOrdering(rec.Events); err != nil {
		e.setState(StateIdle)
		return fmt.Errorf("recording %s: %w", id, err)
	}

	checkpoints, err := buildCheckpoints(rec.Events, e.config.CheckpointInterval)
	if err != nil {
		e.setState(StateIdle)
		return fmt.Errorf("recording %s: %w", id, err)
	}

	e.mu.Lock()
	e.rec = rec
	e.checkpoints = checkpoints
	e.durationMs = rec.Duration().Milliseconds()
	e.currentMs = 0
	e.tickFracMs = 0
	e.eventIndex = 0
	e.maxIndexSeen = 0
	e.state = StateReady
	e.mu.Unlock()

	e.resetSink()
	e.logger.Info("recording loaded", "recording_id", id,
		"events", len(rec.Events), "duration", rec.Duration())
	e.bus.publish(Notification{Kind: NotifyRecordingLoaded, RecordingID: id})
	return nil
}

// buildCheckpoints replays the log once, snapshotting content every
// interval events so seeks reconstruct in O(interval).
func buildCheckpoints(events []event.KeystrokeEvent, interval int) ([]checkpoint, error) {
	checkpoints := []checkpoint{{index: 0, content: "", caret: 0}}

	content := ""
	caret := 0
	for i, ev := range events {
		var err error
		content, caret, err = event.Apply(content, ev)
		if err != nil {
			return nil, fmt.Errorf("apply event %d: %w", i, err)
		}
		if (i+1)%interval == 0 {
			checkpoints = append(checkpoints, checkpoint{index: i + 1, content: content, caret: caret})
		}
	}
	return checkpoints, nil
}

// Play starts or resumes playback. Calling Play while already playing
// is a no-op.
func (e *Engine) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.destroyed {
		return ErrDestroyed
	}
	if e.rec == nil {
		return ErrNoRecording
	}

	switch e.state {
	case StatePlaying:
		return nil
	case StateCompleted:
		// Replaying a completed recording restarts from zero.
		e.currentMs = 0
		e.tickFracMs = 0
		e.eventIndex = 0
		e.resetSinkLocked()
	case StateReady, StatePaused:
	default:
		return fmt.Errorf("replay: cannot play from state %q", e.state)
	}

	e.state = StatePlaying
	e.playStart = time.Now()
	e.startLoopLocked()
	e.bus.publish(Notification{Kind: NotifyPlay})
	return nil
}

// Pause freezes the virtual clock without losing position.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StatePlaying {
		return nil
	}
	e.stopLoopLocked()
	e.accumulatePlayTimeLocked()
	e.state = StatePaused
	e.pauseCount++
	e.bus.publish(Notification{Kind: NotifyPause})
	return nil
}

// Stop resets the clock to zero, clears the sink, and returns to Ready.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.destroyed {
		return ErrDestroyed
	}
	if e.rec == nil {
		return ErrNoRecording
	}

	if e.state == StatePlaying {
		e.stopLoopLocked()
		e.accumulatePlayTimeLocked()
	}
	e.currentMs = 0
	e.tickFracMs = 0
	e.eventIndex = 0
	e.state = StateReady
	e.resetSinkLocked()
	e.bus.publish(Notification{Kind: NotifyStop})
	return nil
}

// Seek jumps to the given time, clamped to [0, totalDuration], and
// reconstructs content from the nearest checkpoint. The result is
// identical to a full replay from zero up to the same event index.
func (e *Engine) Seek(t time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.destroyed {
		return ErrDestroyed
	}
	if e.rec == nil {
		return ErrNoRecording
	}

	ms := t.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	if ms > e.durationMs {
		ms = e.durationMs
	}

	// Events with timestamp <= ms are applied.
	idx := 0
	for idx < len(e.rec.Events) && e.rec.Events[idx].TimestampMs <= ms {
		idx++
	}

	content, caret, err := e.reconstructLocked(idx)
	if err != nil {
		return err
	}

	e.currentMs = ms
	e.tickFracMs = 0
	e.eventIndex = idx
	if idx > e.maxIndexSeen {
		e.maxIndexSeen = idx
	}
	e.seekCount++
	if e.sink != nil {
		e.sink.SetContent(content)
		e.sink.SetCaret(caret)
	}
	if e.state == StateCompleted && ms < e.durationMs {
		e.state = StatePaused
	}

	e.bus.publish(Notification{
		Kind:     NotifySeek,
		Time:     time.Duration(ms) * time.Millisecond,
		Progress: e.progressLocked(),
	})
	return nil
}

// reconstructLocked rebuilds content as of event index idx using the
// nearest checkpoint at or before idx.
func (e *Engine) reconstructLocked(idx int) (string, int, error) {
	cp := checkpoint{}
	for _, c := range e.checkpoints {
		if c.index <= idx {
			cp = c
		} else {
			break
		}
	}

	content, caret := cp.content, cp.caret
	for i := cp.index; i < idx; i++ {
		var err error
		content, caret, err = event.Apply(content, e.rec.Events[i])
		if err != nil {
			return "", 0, fmt.Errorf("reconstruct event %d: %w", i, err)
		}
	}
	return content, caret, nil
}

// SkipForward jumps ahead by the configured increment.
func (e *Engine) SkipForward() error {
	e.mu.Lock()
	current := time.Duration(e.currentMs) * time.Millisecond
	e.mu.Unlock()
	return e.Seek(current + e.config.SkipIncrement)
}

// SkipBackward jumps back by the configured increment.
func (e *Engine) SkipBackward() error {
	e.mu.Lock()
	current := time.Duration(e.currentMs) * time.Millisecond
	e.mu.Unlock()
	return e.Seek(current - e.config.SkipIncrement)
}

// SetSpeed changes the clock scaling without restarting playback. The
// multiplier is clamped to the configured range.
func (e *Engine) SetSpeed(multiplier float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if multiplier < e.config.MinSpeed {
		multiplier = e.config.MinSpeed
	}
	if multiplier > e.config.MaxSpeed {
		multiplier = e.config.MaxSpeed
	}
	if multiplier == e.speed {
		return
	}

	// Close the books on time played at the old speed.
	if e.state == StatePlaying {
		e.accumulatePlayTimeLocked()
		e.playStart = time.Now()
	}

	e.speed = multiplier
	e.speedChanges++
	e.bus.publish(Notification{Kind: NotifySpeedChange, Speed: multiplier})
}

// Speed returns the current playback speed.
func (e *Engine) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

// State returns a snapshot of the playback state.
func (e *Engine) State() PlaybackState {
	e.mu.Lock()
	defer e.mu.Unlock()

	return PlaybackState{
		State:             e.state,
		IsPlaying:         e.state == StatePlaying,
		IsPaused:          e.state == StatePaused,
		CurrentTime:       time.Duration(e.currentMs) * time.Millisecond,
		TotalDuration:     time.Duration(e.durationMs) * time.Millisecond,
		PlaybackSpeed:     e.speed,
		CurrentEventIndex: e.eventIndex,
		Progress:          e.progressLocked(),
	}
}

// Analytics returns metrics of the viewing session so far.
func (e *Engine) Analytics() PlaybackAnalytics {
	e.mu.Lock()
	defer e.mu.Unlock()

	playTime := e.playTime
	speedAccum := e.speedTimeAccum
	if e.state == StatePlaying {
		elapsed := time.Since(e.playStart)
		playTime += elapsed
		speedAccum += e.speed * elapsed.Seconds()
	}

	completion := 0.0
	if n := len(e.recEvents()); n > 0 {
		completion = float64(e.maxIndexSeen) / float64(n)
	}
	avgSpeed := 0.0
	if secs := playTime.Seconds(); secs > 0 {
		avgSpeed = speedAccum / secs
	}

	return PlaybackAnalytics{
		CompletionRate:   completion,
		PauseCount:       e.pauseCount,
		SeekCount:        e.seekCount,
		SpeedChanges:     e.speedChanges,
		TotalPlayTime:    playTime,
		AverageSpeed:     avgSpeed,
		SessionStartTime: e.startedAt,
	}
}

// Destroy cancels pending ticks and detaches from the sink. Idempotent.
func (e *Engine) Destroy() {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	e.stopLoopLocked()
	e.destroyed = true
	e.state = StateIdle
	e.rec = nil
	e.sink = nil
	e.checkpoints = nil
	e.mu.Unlock()

	e.wg.Wait()
	e.bus.closeAll()
}

// --- tick loop ---

// startLoopLocked launches the playback goroutine. Caller holds e.mu.
func (e *Engine) startLoopLocked() {
	stopCh := make(chan struct{})
	e.stopCh = stopCh
	e.wg.Add(1)
	go e.run(stopCh)
}

// stopLoopLocked signals the playback goroutine to exit. Caller holds
// e.mu.
func (e *Engine) stopLoopLocked() {
	if e.stopCh != nil {
		close(e.stopCh)
		e.stopCh = nil
	}
}

// run advances the virtual clock on a fixed wall tick, applying events
// whose scheduled time has passed. It is the only goroutine touching
// the sink during playback.
func (e *Engine) run(stopCh chan struct{}) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.MinTick)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if done := e.tick(); done {
				return
			}
		}
	}
}

// tick advances the clock by one tick and applies due events. Returns
// true when playback completes.
func (e *Engine) tick() bool {
	e.mu.Lock()

	if e.state != StatePlaying {
		e.mu.Unlock()
		return true
	}

	if e.config.PreserveTimingAccuracy {
		advance := float64(e.config.MinTick.Milliseconds())*e.speed + e.tickFracMs
		whole := int64(advance)
		e.tickFracMs = advance - float64(whole)
		e.currentMs += whole
	} else if e.eventIndex < len(e.rec.Events) {
		// Responsive scrub mode: one event per tick.
		e.currentMs = e.rec.Events[e.eventIndex].TimestampMs
	} else {
		e.currentMs = e.durationMs
	}
	if e.currentMs > e.durationMs {
		e.currentMs = e.durationMs
	}

	var processed []Notification
	for e.eventIndex < len(e.rec.Events) && e.rec.Events[e.eventIndex].TimestampMs <= e.currentMs {
		ev := e.rec.Events[e.eventIndex]
		if e.sink != nil {
			content, caret, err := event.Apply(e.sink.Content(), ev)
			if err == nil {
				e.sink.SetContent(content)
				e.sink.SetCaret(caret)
			}
		}
		e.eventIndex++
		if e.eventIndex > e.maxIndexSeen {
			e.maxIndexSeen = e.eventIndex
		}
		processed = append(processed, Notification{Kind: NotifyEventProcessed, EventIndex: e.eventIndex - 1})
	}

	timeUpdate := Notification{
		Kind:     NotifyTimeUpdate,
		Time:     time.Duration(e.currentMs) * time.Millisecond,
		Progress: e.progressLocked(),
	}

	completed := e.eventIndex >= len(e.rec.Events) && e.currentMs >= e.durationMs
	if completed {
		e.stopLoopLocked()
		e.accumulatePlayTimeLocked()
		e.state = StateCompleted
	}
	e.mu.Unlock()

	for _, n := range processed {
		e.bus.publish(n)
	}
	e.bus.publish(timeUpdate)
	if completed {
		e.bus.publish(Notification{Kind: NotifyComplete})
	}
	return completed
}

// --- helpers ---

func (e *Engine) progressLocked() float64 {
	if e.durationMs == 0 {
		return 0
	}
	return float64(e.currentMs) / float64(e.durationMs)
}

func (e *Engine) accumulatePlayTimeLocked() {
	if e.playStart.IsZero() {
		return
	}
	elapsed := time.Since(e.playStart)
	e.playTime += elapsed
	e.speedTimeAccum += e.speed * elapsed.Seconds()
	e.playStart = time.Time{}
}

func (e *Engine) recEvents() []event.KeystrokeEvent {
	if e.rec == nil {
		return nil
	}
	return e.rec.Events
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) resetSink() {
	e.mu.Lock()
	e.resetSinkLocked()
	e.mu.Unlock()
}

func (e *Engine) resetSinkLocked() {
	if e.sink != nil {
		e.sink.SetContent("")
		e.sink.SetCaret(0)
	}
}
