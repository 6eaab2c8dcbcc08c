// Package events is the observer interface of the connection manager. Side
// effects the subsystem wants to expose (connections established or closed,
// health checks, healing outcomes, shutdown) are published as typed events;
// external collaborators such as metrics exporters subscribe with buffered
// channels. Publishing never blocks: a subscriber that falls behind loses
// events rather than stalling the control loops.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// Type identifies an event.
type Type string

const (
	ConnectionEstablished Type = "connection:established"
	ConnectionClosed      Type = "connection:closed"
	HealthCheckCompleted  Type = "health:check_completed"
	HealingCompleted      Type = "healing:completed"
	ManagerShutdown       Type = "connection_manager:shutdown"
)

// Event is one observable side effect.
type Event struct {
	Type         Type           `json:"type"`
	EndpointID   string         `json:"endpoint_id,omitempty"`
	ConnectionID string         `json:"connection_id,omitempty"`
	Err          error          `json:"-"`
	Details      map[string]any `json:"details,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// Subscription is one subscriber's feed.
type Subscription struct {
	// C delivers events. Closed by Bus.Unsubscribe and Bus.Close.
	C <-chan Event

	ch chan Event
}

// Bus is a non-blocking publish/subscribe hub with a bounded event history.
type Bus struct {
	mu        sync.Mutex
	subs      map[*Subscription]struct{}
	history   []Event
	maxEvents int
	bufSize   int
	dropped   int64
	closed    bool
	logger    *slog.Logger
}

// NewBus creates a bus. bufSize is each subscriber's channel buffer;
// maxEvents bounds the retained history.
func NewBus(bufSize, maxEvents int, logger *slog.Logger) *Bus {
	if bufSize <= 0 {
		bufSize = 64
	}
	if maxEvents <= 0 {
		maxEvents = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:      make(map[*Subscription]struct{}),
		history:   make([]Event, 0, maxEvents),
		maxEvents: maxEvents,
		bufSize:   bufSize,
		logger:    logger,
	}
}

// Subscribe registers a new listener.
func (b *Bus) Subscribe() *Subscription {
	ch := make(chan Event, b.bufSize)
	sub := &Subscription{C: ch, ch: ch}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a listener and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	if _, ok := b.subs[sub]; !ok {
		b.mu.Unlock()
		return
	}
	delete(b.subs, sub)
	b.mu.Unlock()
	close(sub.ch)
}

// Publish records the event in history and fans it out without blocking.
// A zero Timestamp is filled in.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if len(b.history) >= b.maxEvents {
		b.history = append(b.history[1:], ev)
	} else {
		b.history = append(b.history, ev)
	}
	for sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			b.dropped++
		}
	}
	dropped := b.dropped
	b.mu.Unlock()

	if dropped > 0 && dropped%100 == 1 {
		b.logger.Warn("slow event subscriber, events dropped", "dropped", dropped)
	}
}

// Recent returns up to limit of the most recent events, oldest first.
// limit <= 0 returns the whole retained history.
func (b *Bus) Recent(limit int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if limit <= 0 || limit > len(b.history) {
		limit = len(b.history)
	}
	out := make([]Event, limit)
	copy(out, b.history[len(b.history)-limit:])
	return out
}

// Dropped reports how many events were lost to full subscriber buffers.
func (b *Bus) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close closes every subscriber channel. Further publishes are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[*Subscription]struct{})
	b.mu.Unlock()

	for _, sub := range subs {
		close(sub.ch)
	}
}
