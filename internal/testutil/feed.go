package testutil

import (
	"context"
	"sync"

	"github.com/roach88/shufflesync/internal/feed"
)

// DuplicatingSink delivers every event twice, simulating at-least-once
// redelivery.
type DuplicatingSink struct {
	Next feed.Sink
}

// Publish implements feed.Sink.
func (d DuplicatingSink) Publish(ctx context.Context, ev feed.Event) error {
	if err := d.Next.Publish(ctx, ev); err != nil {
		return err
	}
	return d.Next.Publish(ctx, ev)
}

// RecordingSink keeps every published event in order.
//
// Thread-safety: RecordingSink is safe for concurrent use.
type RecordingSink struct {
	mu     sync.Mutex
	events []feed.Event
	Err    error
}

// Publish implements feed.Sink. When Err is set the event is dropped and
// Err returned.
func (r *RecordingSink) Publish(_ context.Context, ev feed.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded events.
func (r *RecordingSink) Events() []feed.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]feed.Event(nil), r.events...)
}

// Names returns the recorded event names in order.
func (r *RecordingSink) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Name
	}
	return out
}

// Reset clears recorded events.
func (r *RecordingSink) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
