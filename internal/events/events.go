// Package events implements the in-process feed of session lifecycle and
// command activity. A Broadcaster fans events out to any number of
// subscribers (SSE and WebSocket handlers, tests); delivery is best-effort
// per subscriber and nothing is replayed, so late subscribers read the
// session's own output history for backlog.
package events

import (
	"sync"
	"time"
)

// Type identifies what an event describes.
type Type string

const (
	TypeSessionCreated   Type = "session_created"
	TypeSessionDestroyed Type = "session_destroyed"
	TypeSessionTimeout   Type = "session_timeout"
	TypeCommandStart     Type = "command_start"
	TypeCommandComplete  Type = "command_complete"
	TypeCommandError     Type = "command_error"
	TypeSessionOutput    Type = "session_output"
)

// Event is a single entry on the feed. OutputType and Data are only set
// for session_output events.
type Event struct {
	SessionID  string    `json:"session_id"`
	Type       Type      `json:"type"`
	OutputType string    `json:"output_type,omitempty"`
	Data       string    `json:"data,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Broadcaster fans events out to subscriber channels. Each service owns
// its own instance; there is no process-global feed.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	buffer int
	closed bool
}

// NewBroadcaster creates a broadcaster whose subscriber channels hold up
// to buffer events before new events are dropped for that subscriber.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 256
	}
	return &Broadcaster{
		subs:   make(map[int]chan Event),
		buffer: buffer,
	}
}

// Subscribe registers a new subscriber and returns its channel together
// with an unsubscribe func. Unsubscribing closes the channel and is safe
// to call more than once. Events published before Subscribe are never
// delivered.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
		})
	}
	return ch, unsubscribe
}

// Publish delivers ev to every current subscriber. A subscriber whose
// buffer is full misses the event rather than blocking the publisher.
// A zero Timestamp is stamped with the current time.
func (b *Broadcaster) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SubscriberCount returns the number of live subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close shuts the feed down: all subscriber channels are closed and
// further publishes become no-ops.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
