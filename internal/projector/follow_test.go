package projector

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shufflesync/internal/domain"
	"github.com/roach88/shufflesync/internal/feed"
	"github.com/roach88/shufflesync/internal/ident"
	"github.com/roach88/shufflesync/internal/lists"
	"github.com/roach88/shufflesync/internal/session"
	"github.com/roach88/shufflesync/internal/store"
	"github.com/roach88/shufflesync/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

// signalLog collects signals from a Follow goroutine.
type signalLog struct {
	mu      sync.Mutex
	signals []Signal
}

func (l *signalLog) add(s Signal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.signals = append(l.signals, s)
}

func (l *signalLog) all() []Signal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Signal(nil), l.signals...)
}

func candidates(ids ...string) []domain.Candidate {
	out := make([]domain.Candidate, len(ids))
	for i, id := range ids {
		out[i] = domain.Candidate{ID: id, Name: "Restaurant " + id}
	}
	return out
}

// Two engines publishing through at-least-once delivery still converge on
// the authoritative snapshot.
func TestFollow_SessionConvergesUnderDuplicates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.NewMemory()
	defer st.Close()
	bus := feed.NewBus()
	defer bus.Close()
	sink := testutil.DuplicatingSink{Next: bus}

	newEngine := func(name string) *session.Engine {
		pub := feed.NewPublisher(sink, name, feed.WithLogger(quietLogger()))
		return session.New(st, pub,
			session.WithCodes(testutil.NewFixedCodes("AAAAAA")),
			session.WithLogger(quietLogger()),
			session.WithMaxRetries(50),
			session.WithTopicCloser(bus.CloseTopic),
		)
	}
	hostAPI := newEngine("host-api")
	guestAPI := newEngine("guest-api")

	sess, err := hostAPI.Create(ctx, "host")
	require.NoError(t, err)

	sub, err := bus.Subscribe(feed.SessionTopic(sess.ID))
	require.NoError(t, err)
	defer sub.Unsubscribe()

	view := NewSessionView(sess.ID)
	snap, err := hostAPI.Snapshot(ctx, sess.ID)
	require.NoError(t, err)
	view.Reset(snap)

	signals := &signalLog{}
	done := make(chan error, 1)
	go func() {
		done <- Follow(ctx, sub, view, nil, signals.add)
	}()

	_, err = guestAPI.Join(ctx, "AAAAAA", "guest")
	require.NoError(t, err)
	_, err = guestAPI.UpdateFilters(ctx, sess.ID, "guest", domain.Filters{Source: domain.SourceNearby})
	require.NoError(t, err)
	_, err = hostAPI.Start(ctx, sess.ID, "host", candidates("c1", "c2", "c3", "c4", "c5"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for engine, pair := range map[*session.Engine][2]string{
		guestAPI: {"guest", "c2"},
		hostAPI:  {"host", "c4"},
	} {
		wg.Add(1)
		go func(e *session.Engine, user, candidate string) {
			defer wg.Done()
			_, err := e.Eliminate(ctx, sess.ID, user, candidate)
			assert.NoError(t, err)
		}(engine, pair[0], pair[1])
	}
	wg.Wait()

	_, err = hostAPI.DeclareWinner(ctx, sess.ID, "host", "c1")
	require.NoError(t, err)

	want, err := hostAPI.Snapshot(ctx, sess.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got := view.Session()
		return got != nil && got.Status == domain.StatusCompleted && len(got.EliminatedIDs) == 2
	}, 2*time.Second, 5*time.Millisecond)

	got := view.Session()
	assert.ElementsMatch(t, want.Session.EliminatedIDs, got.EliminatedIDs)
	assert.Equal(t, want.Session.Winner, got.Winner)
	assert.Equal(t, want.Session.Version, got.Version)
	assert.Len(t, view.Participants(), 2)
	assert.Equal(t, []Signal{SignalStarted, SignalWinnerDeclared}, signals.all())
	assert.False(t, view.Stale())

	require.NoError(t, hostAPI.Delete(ctx, sess.ID, "host"))
	select {
	case err := <-done:
		assert.NoError(t, err, "closed topic ends Follow")
	case <-time.After(2 * time.Second):
		t.Fatal("Follow did not return after topic close")
	}
	assert.True(t, view.Deleted())
}

// A dropped publish opens a gap; Follow calls resync, which resets the view
// from a snapshot.
func TestFollow_ListGapTriggersResync(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.NewMemory()
	defer st.Close()
	bus := feed.NewBus()
	defer bus.Close()
	flaky := &droppingSink{next: bus}

	pub := feed.NewPublisher(flaky, "list-api", feed.WithLogger(quietLogger()))
	engine := lists.New(st, pub,
		lists.WithLogger(quietLogger()),
		lists.WithTokens(ident.NewSequence("link")),
	)

	l, err := engine.CreateList(ctx, "alice", "Date night", "")
	require.NoError(t, err)

	sub, err := bus.Subscribe(feed.ListTopic(l.ID))
	require.NoError(t, err)
	defer sub.Unsubscribe()

	view := NewListView(l.ID)
	snap, err := engine.Snapshot(ctx, l.ID)
	require.NoError(t, err)
	view.Reset(snap)

	var resyncs int
	resync := func(ctx context.Context) error {
		resyncs++
		snap, err := engine.Snapshot(ctx, l.ID)
		if err != nil {
			return err
		}
		view.Reset(snap)
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- Follow(ctx, sub, view, resync, nil) }()

	_, err = engine.AddItem(ctx, l.ID, "alice", domain.Pointer{RestaurantID: "r1"})
	require.NoError(t, err)
	flaky.drop(1)
	_, err = engine.AddItem(ctx, l.ID, "alice", domain.Pointer{RestaurantID: "r2"})
	require.NoError(t, err)
	_, err = engine.AddItem(ctx, l.ID, "alice", domain.Pointer{RestaurantID: "r3"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(view.Items()) == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, view.Stale())

	cancel()
	err = <-done
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, resyncs)
}

// droppingSink discards the next n events.
type droppingSink struct {
	mu      sync.Mutex
	next    feed.Sink
	pending int
}

func (d *droppingSink) drop(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = n
}

func (d *droppingSink) Publish(ctx context.Context, ev feed.Event) error {
	d.mu.Lock()
	if d.pending > 0 {
		d.pending--
		d.mu.Unlock()
		return errors.New("dropped")
	}
	d.mu.Unlock()
	return d.next.Publish(ctx, ev)
}
