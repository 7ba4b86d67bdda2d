// Package bus provides the typed pub/sub fan-out between the orchestrator
// and its subscribers (web sockets, bots, trace sinks).
package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"kory/internal/logging"
)

// DefaultQueueSize is the per-subscriber buffered queue length.
const DefaultQueueSize = 256

// Event is a single published occurrence. Payload holds one of the typed
// payload structs from events.go.
type Event struct {
	Topic     string    `json:"topic"`
	SessionID string    `json:"sessionId,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Time      time.Time `json:"time"`
}

// Subscription is one consumer's view of the bus. Events arrive on C; slow
// consumers lose events rather than stall publishers.
type Subscription struct {
	C       <-chan Event
	ch      chan Event
	bus     *Bus
	id      uint64
	dropped atomic.Int64
	once    sync.Once
}

// Dropped reports how many events this subscriber missed due to a full queue.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Close removes the subscription and closes its channel.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
}

// Bus fans events out to every active subscription.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
	logger logging.Logger
}

// New creates an event bus.
func New() *Bus {
	return &Bus{
		subs:   make(map[uint64]*Subscription),
		logger: logging.NewComponentLogger("bus"),
	}
}

// Subscribe registers a consumer with the given queue size (0 means
// DefaultQueueSize).
func (b *Bus) Subscribe(queueSize int) *Subscription {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	ch := make(chan Event, queueSize)
	sub := &Subscription{C: ch, ch: ch, bus: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return sub
	}
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	return sub
}

// Publish delivers event to every subscriber without blocking. A full queue
// drops the event for that subscriber only.
func (b *Bus) Publish(topic, sessionID string, payload any) {
	event := Event{Topic: topic, SessionID: sessionID, Payload: payload, Time: time.Now()}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			sub.dropped.Add(1)
		}
	}
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.id]; !ok {
		return
	}
	delete(b.subs, sub.id)
	sub.once.Do(func() { close(sub.ch) })
}

// Close shuts the bus down and closes every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		sub.once.Do(func() { close(sub.ch) })
	}
}

// SubscriberCount reports the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
