// Package events carries screen and audio state changes between the core components.
package events

import (
	"sync"
	"time"

	"snoozer/pkg/screen"
)

// Kind classifies an Event.
type Kind string

const (
	KindScreenChanged    Kind = "screen_changed"
	KindAudioStarted     Kind = "audio_started"
	KindAudioStopped     Kind = "audio_stopped"
	KindAudioStartFailed Kind = "audio_start_failed"
	KindProofVerified    Kind = "proof_verified"
	KindProofRejected    Kind = "proof_rejected"
	KindCheatDetected    Kind = "cheat_detected"
	KindAlarmDismissed   Kind = "alarm_dismissed"
)

// Event is a single entry on the bus.
type Event struct {
	Kind       Kind        `json:"kind"`
	Screen     screen.Name `json:"screen,omitempty"`
	Authorized bool        `json:"authorized"`
	SessionID  string      `json:"session_id,omitempty"`
	Detail     string      `json:"detail,omitempty"`
	At         time.Time   `json:"at"`
}

// Handler receives published events.
type Handler func(Event)

type subscription struct {
	id int
	fn Handler
}

// Bus delivers events synchronously to every subscriber in subscription order.
// Handlers may publish further events; they are delivered before Publish returns.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   []subscription
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus) Subscribe(fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish stamps e (if needed) and hands it to all current subscribers.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		s.fn(e)
	}
}

// Recorder is a subscriber that keeps an in-memory log of events.
type Recorder struct {
	mu     sync.RWMutex
	events []Event
	limit  int
}

// NewRecorder creates a recorder keeping at most limit events (0 = unbounded).
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

// Handle implements Handler.
func (r *Recorder) Handle(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	if r.limit > 0 && len(r.events) > r.limit {
		r.events = r.events[len(r.events)-r.limit:]
	}
}

// Events returns a copy of the recorded log.
func (r *Recorder) Events() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds returns the recorded kinds in order.
func (r *Recorder) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Kind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

// Reset clears the log.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
