// Package bus fans freshly persisted events out to in-process subscribers.
// Publishing never blocks: a subscriber that cannot keep up loses messages
// and sees the gap as a Lagged count on the next delivery, at which point it
// can resync from the store.
package bus

import (
	"sync"
	"sync/atomic"

	"github.com/agentscan/registry-indexer/internal/logger"
	"github.com/agentscan/registry-indexer/internal/metrics"
	"github.com/agentscan/registry-indexer/pkg/events"
	"github.com/google/uuid"
)

// DefaultCapacity is the per-subscriber channel buffer.
const DefaultCapacity = 256

// Message is one bus delivery. Lagged is the number of messages this
// subscriber missed since the previous delivery.
type Message struct {
	Event  events.Event
	Lagged uint64
}

// Subscription is one consumer's handle on the bus. Events arrive in publish
// order; a subscription filtered by chain only sees that chain's events.
type Subscription struct {
	id      string
	chainID *uint64
	ch      chan Message
	lagged  atomic.Uint64
	bus     *Bus
	once    sync.Once
}

// ID returns the subscription's unique identifier.
func (s *Subscription) ID() string {
	return s.id
}

// Events returns the delivery channel. It is closed when the subscription
// or the bus is closed.
func (s *Subscription) Events() <-chan Message {
	return s.ch
}

// Close releases the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.id)
}

func (s *Subscription) matches(chainID uint64) bool {
	return s.chainID == nil || *s.chainID == chainID
}

// Bus is the per-process broadcast channel for stored events. Producers are
// the chain indexer loops; publishing happens only after the batch commit,
// so subscribers never observe an event that is not durable.
type Bus struct {
	mu       sync.RWMutex
	subs     map[string]*Subscription
	capacity int
	closed   bool
	log      *logger.Logger
}

// New creates a bus. capacity <= 0 uses DefaultCapacity.
func New(capacity int, log *logger.Logger) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Bus{
		subs:     make(map[string]*Subscription),
		capacity: capacity,
		log:      log.WithComponent("bus"),
	}
}

// Subscribe registers a consumer. A nil chainID receives every chain's
// events; otherwise only the given chain's.
func (b *Bus) Subscribe(chainID *uint64) *Subscription {
	sub := &Subscription{
		id:  uuid.NewString(),
		bus: b,
		ch:  make(chan Message, b.capacity),
	}
	if chainID != nil {
		id := *chainID
		sub.chainID = &id
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(sub.ch)
		return sub
	}

	b.subs[sub.id] = sub
	metrics.BusSubscribers.Set(float64(len(b.subs)))
	b.log.Debugw("subscriber added", "id", sub.id, "subscribers", len(b.subs))

	return sub
}

func (b *Bus) unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[id]
	if !ok {
		return
	}

	delete(b.subs, id)
	sub.once.Do(func() { close(sub.ch) })
	metrics.BusSubscribers.Set(float64(len(b.subs)))
	b.log.Debugw("subscriber removed", "id", id, "subscribers", len(b.subs))
}

// Publish delivers an event to every matching subscriber without blocking.
// A full subscriber buffer drops the message and bumps that subscriber's
// lag count; the producer is never slowed down.
func (b *Bus) Publish(event events.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	metrics.BusPublished.Inc()

	for _, sub := range b.subs {
		if !sub.matches(event.ChainID) {
			continue
		}

		lag := sub.lagged.Swap(0)
		msg := Message{Event: event, Lagged: lag}

		select {
		case sub.ch <- msg:
		default:
			// Buffer full: put the lag back, counting this message too.
			sub.lagged.Add(lag + 1)
			metrics.BusDropped.Inc()
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close shuts the bus down and closes every subscription channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for id, sub := range b.subs {
		sub.once.Do(func() { close(sub.ch) })
		delete(b.subs, id)
	}

	metrics.BusSubscribers.Set(0)
}
