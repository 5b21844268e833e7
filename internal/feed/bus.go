package feed

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/shufflesync/internal/queue"
)

// ErrClosed is returned by Bus after Close and by Subscription.Next once
// the subscription or its topic has been closed and drained.
var ErrClosed = errors.New("feed closed")

// Sink accepts events for delivery.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// Feed is the full publish/subscribe surface.
type Feed interface {
	Sink
	Subscribe(topic Topic) (*Subscription, error)
	CloseTopic(topic Topic)
}

// Bus is an in-process Feed. Each subscriber owns an unbounded queue, so a
// slow subscriber never blocks publishers or other subscribers.
//
// Publish appends to every subscriber queue under one lock, so events from
// a single publisher reach all subscribers in publish order.
//
// Thread-safety: Bus is safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	topics map[Topic]map[*Subscription]struct{}
	closed bool
}

var _ Feed = (*Bus)(nil)

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{topics: make(map[Topic]map[*Subscription]struct{})}
}

// Subscribe registers a new subscriber on topic. Events published before
// Subscribe are not delivered.
func (b *Bus) Subscribe(topic Topic) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	sub := &Subscription{topic: topic, q: queue.New[Event](), bus: b}
	subs := b.topics[topic]
	if subs == nil {
		subs = make(map[*Subscription]struct{})
		b.topics[topic] = subs
	}
	subs[sub] = struct{}{}
	return sub, nil
}

// Publish delivers ev to every current subscriber of ev.Topic.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}
	for sub := range b.topics[ev.Topic] {
		sub.q.Push(ev)
	}
	return nil
}

// CloseTopic ends every subscription on topic. Subscribers drain events
// already queued, then Next returns ErrClosed. Later subscribers to the
// same topic start fresh.
func (b *Bus) CloseTopic(topic Topic) {
	b.mu.Lock()
	subs := b.topics[topic]
	delete(b.topics, topic)
	b.mu.Unlock()

	for sub := range subs {
		sub.q.Close()
	}
}

// Subscribers returns the number of live subscriptions on topic.
func (b *Bus) Subscribers(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Close ends every subscription and rejects further use.
func (b *Bus) Close() error {
	b.mu.Lock()
	topics := b.topics
	b.topics = make(map[Topic]map[*Subscription]struct{})
	b.closed = true
	b.mu.Unlock()

	for _, subs := range topics {
		for sub := range subs {
			sub.q.Close()
		}
	}
	return nil
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[sub.topic]
	if !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(b.topics, sub.topic)
	}
}

// Subscription is one subscriber's ordered event stream.
type Subscription struct {
	topic Topic
	q     *queue.Queue[Event]
	bus   *Bus
	once  sync.Once
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() Topic { return s.topic }

// Next blocks until an event is available, ctx is done, or the
// subscription is closed and drained (ErrClosed).
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	ev, err := s.q.Next(ctx)
	if errors.Is(err, queue.ErrClosed) {
		return Event{}, ErrClosed
	}
	return ev, err
}

// TryNext returns the next queued event without blocking.
func (s *Subscription) TryNext() (Event, bool) {
	return s.q.TryPop()
}

// Pending returns the number of queued events.
func (s *Subscription) Pending() int {
	return s.q.Len()
}

// Unsubscribe detaches the subscription. Safe to call multiple times and
// after the topic has been closed.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.remove(s)
		s.q.Close()
	})
}
