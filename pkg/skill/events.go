package skill

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType identifies a lifecycle event emitted by the executor or the
// poll engine.
type EventType string

const (
	EventRunStarted    EventType = "run_started"
	EventStepStarted   EventType = "step_started"
	EventStepCompleted EventType = "step_completed"
	EventStepFailed    EventType = "step_failed"
	EventStepSkipped   EventType = "step_skipped"
	EventHealTriggered EventType = "heal_triggered"
	EventHealCompleted EventType = "heal_completed"
	EventRunCompleted  EventType = "run_completed"
	EventRunFailed     EventType = "run_failed"
)

// maxEventErrorLen bounds error text carried in event payloads.
const maxEventErrorLen = 500

// Event is a lifecycle notification. Events are pure notifications:
// delivery never blocks and never fails the run.
type Event struct {
	Type      EventType     `json:"type"`
	RunID     string        `json:"run_id"`
	Skill     string        `json:"skill"`
	Step      string        `json:"step,omitempty"`
	StepIndex int           `json:"step_index,omitempty"`
	Success   bool          `json:"success,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	Error     string        `json:"error,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Time      time.Time     `json:"time"`
}

// Emitter receives lifecycle events. Implementations must not block.
type Emitter interface {
	Emit(Event)
}

// NopEmitter discards all events.
type NopEmitter struct{}

func (NopEmitter) Emit(Event) {}

// ChannelEmitter delivers events over a bounded channel consumed by an
// external broadcaster. When the buffer is full the event is dropped and
// counted rather than blocking the run.
type ChannelEmitter struct {
	ch      chan Event
	dropped atomic.Int64
	closed  atomic.Bool
	mu      sync.Mutex
}

// DefaultEventBuffer is the default channel capacity.
const DefaultEventBuffer = 256

// NewChannelEmitter creates an emitter with the given buffer capacity.
// A non-positive capacity selects DefaultEventBuffer.
func NewChannelEmitter(buffer int) *ChannelEmitter {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	return &ChannelEmitter{ch: make(chan Event, buffer)}
}

// Emit performs a non-blocking send. Full buffer or closed emitter drops
// the event.
func (e *ChannelEmitter) Emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if len(ev.Error) > maxEventErrorLen {
		ev.Error = ev.Error[:maxEventErrorLen] + "..."
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed.Load() {
		e.dropped.Add(1)
		return
	}
	select {
	case e.ch <- ev:
	default:
		e.dropped.Add(1)
	}
}

// Events exposes the consumer side of the channel.
func (e *ChannelEmitter) Events() <-chan Event {
	return e.ch
}

// Dropped returns how many events were discarded due to a full buffer.
func (e *ChannelEmitter) Dropped() int64 {
	return e.dropped.Load()
}

// Close stops delivery and closes the channel. Emit after Close is a
// counted drop, not a panic.
func (e *ChannelEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed.CompareAndSwap(false, true) {
		close(e.ch)
	}
}
