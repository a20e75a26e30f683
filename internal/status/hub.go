// Package status broadcasts capture state and enrichment notifications to
// any number of observers (the websocket stream, MCP, tests).
//
// Publishing never blocks: a subscriber that falls behind loses its oldest
// queued events. The latest state event is retained so a new subscriber
// immediately learns the current state.
package status

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voxlog/internal/observe"
)

// Kind classifies an [Event].
type Kind string

const (
	// KindState is a capture state change or status text update.
	KindState Kind = "state"
	// KindProgress carries the elapsed time of the open segment.
	KindProgress Kind = "progress"
	// KindTranscription announces a finished transcription.
	KindTranscription Kind = "transcription"
	// KindTitle announces a generated title.
	KindTitle Kind = "title"
)

// Event is a single status notification.
type Event struct {
	Kind        Kind      `json:"kind"`
	State       string    `json:"state,omitempty"`
	Message     string    `json:"message,omitempty"`
	ElapsedMs   int64     `json:"elapsed_ms,omitempty"`
	RecordingID int64     `json:"recording_id,omitempty"`
	Text        string    `json:"text,omitempty"`
	At          time.Time `json:"at"`
}

const defaultBuffer = 32

// Hub fans events out to subscribers.
type Hub struct {
	buffer  int
	now     func() time.Time
	metrics *observe.Metrics

	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	current Event
}

// Option configures a Hub.
type Option func(*Hub)

// WithBuffer sets the per-subscriber queue length. Default 32.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithMetrics records subscriber counts on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithNow replaces time.Now for event timestamps.
func WithNow(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

// NewHub creates a Hub whose current state is "idle".
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		buffer: defaultBuffer,
		now:    time.Now,
		subs:   make(map[*Subscription]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	h.current = Event{Kind: KindState, State: "idle", At: h.now()}
	return h
}

// Publish delivers ev to every subscriber. A zero At is filled in. State
// events also replace the retained current state.
func (h *Hub) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = h.now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if ev.Kind == KindState {
		h.current = ev
	}
	for s := range h.subs {
		s.offer(ev)
	}
}

// Current returns the most recent state event.
func (h *Hub) Current() Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// Subscribe registers a new observer. The current state is queued first.
func (h *Hub) Subscribe() *Subscription {
	s := &Subscription{hub: h, ch: make(chan Event, h.buffer)}
	h.mu.Lock()
	s.offer(h.current)
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.StatusSubscribers.Add(context.Background(), 1)
	}
	return s
}

// Subscribers returns the number of attached observers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	_, ok := h.subs[s]
	delete(h.subs, s)
	if ok {
		close(s.ch)
	}
	h.mu.Unlock()
	if ok && h.metrics != nil {
		h.metrics.StatusSubscribers.Add(context.Background(), -1)
	}
}

// Subscription is a single observer's queue.
type Subscription struct {
	hub     *Hub
	ch      chan Event
	dropped int
}

// C returns the event channel. It is closed by Close.
func (s *Subscription) C() <-chan Event { return s.ch }

// Close detaches the subscription. It is safe to call more than once.
func (s *Subscription) Close() { s.hub.remove(s) }

// Dropped returns how many events were discarded because the queue was
// full.
func (s *Subscription) Dropped() int {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.dropped
}

// offer must be called with hub.mu held.
func (s *Subscription) offer(ev Event) {
	for {
		select {
		case s.ch <- ev:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped++
		default:
		}
	}
}
