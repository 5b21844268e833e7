package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/roach88/shufflesync/internal/clock"
	"github.com/roach88/shufflesync/internal/ident"
)

// Publisher stamps events with an ID, a per-topic sequence number, and a
// timestamp before handing them to a Sink.
//
// Publish failures are logged and swallowed: the store write that preceded
// the event has already committed, and subscribers recover through the
// sequence gap it leaves.
//
// Thread-safety: Publisher is safe for concurrent use. Emits on one topic
// are serialized so the sink sees them in sequence order.
type Publisher struct {
	sink   Sink
	name   string
	ids    ident.Generator
	clock  clock.Clock
	logger *slog.Logger

	mu   sync.Mutex
	seqs map[Topic]int64
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithIDs sets the event ID generator. Default: UUIDv7.
func WithIDs(g ident.Generator) PublisherOption {
	return func(p *Publisher) { p.ids = g }
}

// WithClock sets the event timestamp source. Default: system clock.
func WithClock(c clock.Clock) PublisherOption {
	return func(p *Publisher) { p.clock = c }
}

// WithLogger sets the logger used for publish failures.
func WithLogger(l *slog.Logger) PublisherOption {
	return func(p *Publisher) { p.logger = l }
}

// NewPublisher creates a publisher named name writing to sink. The name
// identifies this publisher in Event.Publisher and scopes its sequence
// numbers.
func NewPublisher(sink Sink, name string, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		sink:   sink,
		name:   name,
		ids:    ident.UUIDv7{},
		clock:  clock.System{},
		logger: slog.Default(),
		seqs:   make(map[Topic]int64),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the publisher name.
func (p *Publisher) Name() string { return p.name }

// Emit publishes one event. payload is marshaled to JSON; nil means no
// payload. Failures are logged, never returned.
func (p *Publisher) Emit(ctx context.Context, topic Topic, name string, kind EntityKind, op Op, payload any) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			p.logger.Warn("feed: marshal payload failed",
				"topic", string(topic), "event", name, "error", err)
			return
		}
		raw = b
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// The sequence advances even when the sink fails, so subscribers see
	// the gap and resync.
	p.seqs[topic]++
	ev := Event{
		ID:        p.ids.NewID(),
		Topic:     topic,
		Name:      name,
		Kind:      kind,
		Op:        op,
		Payload:   raw,
		Publisher: p.name,
		Seq:       p.seqs[topic],
		At:        p.clock.Now(),
	}

	if err := p.sink.Publish(ctx, ev); err != nil {
		p.logger.Warn("feed: publish failed",
			"topic", string(topic), "event", name, "seq", ev.Seq, "error", err)
		return
	}
	p.logger.Debug("feed: published",
		"topic", string(topic), "event", name, "seq", ev.Seq)
}

// Forget drops the sequence counter for a topic that no longer exists.
func (p *Publisher) Forget(topic Topic) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.seqs, topic)
}
