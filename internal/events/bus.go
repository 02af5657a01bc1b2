// Package events provides the typed lifecycle notification bus consumed by
// logging and telemetry collaborators. Publication is fire-and-forget; slow
// subscribers lose events rather than stalling the orchestrator.
package events

import (
	"sync"
	"time"
)

// Type enumerates lifecycle notification kinds.
type Type string

const (
	TypeComplete  Type = "complete"
	TypeError     Type = "error"
	TypeCached    Type = "cached"
	TypeIteration Type = "iteration"
)

// Event is one lifecycle notification.
type Event struct {
	Type      Type      `json:"type"`
	RequestID string    `json:"request_id"`
	Agent     string    `json:"agent,omitempty"`
	Model     string    `json:"model,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Seq       uint64    `json:"seq"`
}

// Bus is an in-memory pub/sub fanout with a bounded replay ring. It is
// injected into the orchestrator explicitly; there is no package singleton.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	history     *ring
	nextSeq     uint64
}

// NewBus creates a bus retaining the last capacity events for replay.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 256
	}
	return &Bus{
		subscribers: make(map[chan Event]struct{}),
		history:     newRing(capacity),
	}
}

// Subscribe registers a buffered channel; the caller must drain it and call
// Unsubscribe when done.
func (b *Bus) Subscribe(buffer int) chan Event {
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes the channel.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
}

// Publish stamps and fans out an event without blocking.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	b.mu.Lock()
	evt.Seq = b.nextSeq
	b.nextSeq++
	b.history.push(evt)
	subs := make([]chan Event, 0, len(b.subscribers))
	for ch := range b.subscribers {
		subs = append(subs, ch)
	}
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
			// Drop if the subscriber is slow.
		}
	}
}

// ReplaySince returns retained events with Seq > since.
func (b *Bus) ReplaySince(since uint64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.history.since(since)
}

// ring is a fixed-capacity event buffer.
type ring struct {
	buf   []Event
	start int
	count int
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
