// Package presence tracks which participants are currently connected to a
// topic and fans out membership changes.
//
// A participant may hold several connections (tabs, devices). They count as
// present while at least one connection is attached: Join fires on the first
// attach, Leave on the last detach. Subscribe delivers a Sync snapshot of
// current membership first, then incremental Join/Leave events.
//
// Connections that stop heartbeating are detached by Reap once the grace
// period passes, so a lost transport always produces a Leave.
package presence

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roach88/shufflesync/internal/clock"
	"github.com/roach88/shufflesync/internal/feed"
	"github.com/roach88/shufflesync/internal/queue"
)

// DefaultGracePeriod bounds how long a silent connection stays attached.
const DefaultGracePeriod = 30 * time.Second

// ErrClosed is returned after the tracker is closed.
var ErrClosed = errors.New("presence tracker closed")

// EventType is the kind of presence event.
type EventType string

const (
	EventJoin  EventType = "join"
	EventLeave EventType = "leave"
	EventSync  EventType = "sync"
)

// Event is one presence notification. For Sync, ParticipantIDs is the full
// membership; for Join/Leave it is the participants whose presence changed.
type Event struct {
	Type           EventType  `json:"type"`
	Topic          feed.Topic `json:"topic"`
	ParticipantIDs []string   `json:"participant_ids"`
	At             time.Time  `json:"at"`
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithGracePeriod sets how long a connection may go without a heartbeat.
func WithGracePeriod(d time.Duration) Option {
	return func(t *Tracker) { t.grace = d }
}

// WithClock sets the time source for heartbeats and reaping.
func WithClock(c clock.Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

// WithLogger sets the tracker's logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// Tracker is the in-process presence tracker.
//
// Thread-safety: Tracker, Handle, and Subscription are safe for concurrent
// use.
type Tracker struct {
	grace  time.Duration
	clock  clock.Clock
	logger *slog.Logger

	mu     sync.Mutex
	topics map[feed.Topic]*topicState
	closed bool
}

type topicState struct {
	handles map[*Handle]struct{}
	counts  map[string]int
	subs    map[*Subscription]struct{}
}

// New creates a tracker.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		grace:  DefaultGracePeriod,
		clock:  clock.System{},
		logger: slog.Default(),
		topics: make(map[feed.Topic]*topicState),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) state(topic feed.Topic) *topicState {
	st := t.topics[topic]
	if st == nil {
		st = &topicState{
			handles: make(map[*Handle]struct{}),
			counts:  make(map[string]int),
			subs:    make(map[*Subscription]struct{}),
		}
		t.topics[topic] = st
	}
	return st
}

// prune drops an idle topic's bookkeeping. Caller holds t.mu.
func (t *Tracker) prune(topic feed.Topic, st *topicState) {
	if len(st.handles) == 0 && len(st.subs) == 0 {
		delete(t.topics, topic)
	}
}

// Attach registers one connection of participantID on topic. The handle is
// detached when ctx is done, when Detach is called, or when Reap finds it
// silent for longer than the grace period.
func (t *Tracker) Attach(ctx context.Context, topic feed.Topic, participantID string) (*Handle, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}

	h := &Handle{
		tracker:       t,
		topic:         topic,
		participantID: participantID,
		lastSeen:      t.clock.Now(),
		done:          make(chan struct{}),
	}
	st := t.state(topic)
	st.handles[h] = struct{}{}
	st.counts[participantID]++
	if st.counts[participantID] == 1 {
		t.fanout(st, Event{Type: EventJoin, Topic: topic, ParticipantIDs: []string{participantID}, At: h.lastSeen})
	}
	t.mu.Unlock()

	t.logger.Debug("presence: attached", "topic", string(topic), "participant_id", participantID)

	go func() {
		select {
		case <-ctx.Done():
			h.Detach()
		case <-h.done:
		}
	}()
	return h, nil
}

func (t *Tracker) detach(h *Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.topics[h.topic]
	if !ok {
		return
	}
	if _, ok := st.handles[h]; !ok {
		return
	}
	delete(st.handles, h)
	st.counts[h.participantID]--
	if st.counts[h.participantID] <= 0 {
		delete(st.counts, h.participantID)
		t.fanout(st, Event{Type: EventLeave, Topic: h.topic, ParticipantIDs: []string{h.participantID}, At: t.clock.Now()})
	}
	t.prune(h.topic, st)
}

// Subscribe starts a presence stream for topic. The first event is always a
// Sync with the current membership.
func (t *Tracker) Subscribe(topic feed.Topic) (*Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrClosed
	}

	st := t.state(topic)
	sub := &Subscription{tracker: t, topic: topic, q: queue.New[Event]()}
	sub.q.Push(Event{Type: EventSync, Topic: topic, ParticipantIDs: members(st), At: t.clock.Now()})
	st.subs[sub] = struct{}{}
	return sub, nil
}

func (t *Tracker) unsubscribe(sub *Subscription) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.topics[sub.topic]
	if !ok {
		return
	}
	delete(st.subs, sub)
	t.prune(sub.topic, st)
}

// Members returns the participants currently present on topic, sorted.
func (t *Tracker) Members(topic feed.Topic) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.topics[topic]
	if !ok {
		return []string{}
	}
	return members(st)
}

// Reap detaches every connection whose last heartbeat is older than the
// grace period, returning how many were detached.
func (t *Tracker) Reap() int {
	now := t.clock.Now()

	t.mu.Lock()
	var expired []*Handle
	for _, st := range t.topics {
		for h := range st.handles {
			if now.Sub(h.seen()) > t.grace {
				expired = append(expired, h)
			}
		}
	}
	t.mu.Unlock()

	for _, h := range expired {
		t.logger.Info("presence: connection expired",
			"topic", string(h.topic), "participant_id", h.participantID)
		h.Detach()
	}
	return len(expired)
}

// Run reaps every interval until ctx is done.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Reap()
		}
	}
}

// CloseTopic detaches every connection on topic and ends its
// subscriptions. Used when the session or list is deleted.
func (t *Tracker) CloseTopic(topic feed.Topic) {
	t.mu.Lock()
	st, ok := t.topics[topic]
	delete(t.topics, topic)
	t.mu.Unlock()
	if !ok {
		return
	}

	for h := range st.handles {
		h.release()
	}
	for sub := range st.subs {
		sub.q.Close()
	}
}

// Close ends all subscriptions and detaches all handles.
func (t *Tracker) Close() error {
	t.mu.Lock()
	topics := t.topics
	t.topics = make(map[feed.Topic]*topicState)
	t.closed = true
	t.mu.Unlock()

	for _, st := range topics {
		for h := range st.handles {
			h.release()
		}
		for sub := range st.subs {
			sub.q.Close()
		}
	}
	return nil
}

// fanout queues ev for every subscriber. Caller holds t.mu.
func (t *Tracker) fanout(st *topicState, ev Event) {
	for sub := range st.subs {
		sub.q.Push(ev)
	}
}

func members(st *topicState) []string {
	out := make([]string, 0, len(st.counts))
	for id := range st.counts {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Handle is one attached connection.
type Handle struct {
	tracker       *Tracker
	topic         feed.Topic
	participantID string

	mu       sync.Mutex
	lastSeen time.Time

	once sync.Once
	done chan struct{}
}

// ParticipantID returns the attached participant.
func (h *Handle) ParticipantID() string { return h.participantID }

// Topic returns the topic the handle is attached to.
func (h *Handle) Topic() feed.Topic { return h.topic }

// Heartbeat records that the connection is alive.
func (h *Handle) Heartbeat() {
	now := h.tracker.clock.Now()
	h.mu.Lock()
	h.lastSeen = now
	h.mu.Unlock()
}

func (h *Handle) seen() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastSeen
}

// Detach removes the connection. Safe to call multiple times and after the
// topic has been closed.
func (h *Handle) Detach() {
	h.once.Do(func() {
		h.tracker.detach(h)
		close(h.done)
	})
}

// release marks the handle detached without fanning out; the topic is gone.
func (h *Handle) release() {
	h.once.Do(func() { close(h.done) })
}

// Done is closed once the handle is detached.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Subscription is one presence stream.
type Subscription struct {
	tracker *Tracker
	topic   feed.Topic
	q       *queue.Queue[Event]
	once    sync.Once
}

// Next blocks for the next presence event. It returns ErrClosed once the
// subscription or topic is closed and drained.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	ev, err := s.q.Next(ctx)
	if errors.Is(err, queue.ErrClosed) {
		return Event{}, ErrClosed
	}
	return ev, err
}

// Unsubscribe ends the stream. Safe to call multiple times.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.tracker.unsubscribe(s)
		s.q.Close()
	})
}
