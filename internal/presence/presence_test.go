package presence

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shufflesync/internal/feed"
	"github.com/roach88/shufflesync/internal/testutil"
)

var topic = feed.SessionTopic("s1")

func newTestTracker(clk *testutil.StepClock) *Tracker {
	return New(
		WithClock(clk),
		WithGracePeriod(30*time.Second),
		WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))),
	)
}

func nextEvent(t *testing.T, sub *Subscription) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := sub.Next(ctx)
	require.NoError(t, err)
	return ev
}

func TestSubscribe_SyncFirst(t *testing.T) {
	tr := newTestTracker(testutil.NewStepClock(0))
	ctx := context.Background()

	_, err := tr.Attach(ctx, topic, "p2")
	require.NoError(t, err)
	_, err = tr.Attach(ctx, topic, "p1")
	require.NoError(t, err)

	sub, err := tr.Subscribe(topic)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	ev := nextEvent(t, sub)
	assert.Equal(t, EventSync, ev.Type)
	assert.Equal(t, []string{"p1", "p2"}, ev.ParticipantIDs)
}

func TestSubscribe_EmptySync(t *testing.T) {
	tr := newTestTracker(testutil.NewStepClock(0))

	sub, err := tr.Subscribe(topic)
	require.NoError(t, err)

	ev := nextEvent(t, sub)
	assert.Equal(t, EventSync, ev.Type)
	assert.Empty(t, ev.ParticipantIDs)
}

func TestAttachDetach_JoinLeave(t *testing.T) {
	tr := newTestTracker(testutil.NewStepClock(0))
	sub, err := tr.Subscribe(topic)
	require.NoError(t, err)
	nextEvent(t, sub) // sync

	h, err := tr.Attach(context.Background(), topic, "p1")
	require.NoError(t, err)
	join := nextEvent(t, sub)
	assert.Equal(t, EventJoin, join.Type)
	assert.Equal(t, []string{"p1"}, join.ParticipantIDs)
	assert.Equal(t, []string{"p1"}, tr.Members(topic))

	h.Detach()
	leave := nextEvent(t, sub)
	assert.Equal(t, EventLeave, leave.Type)
	assert.Equal(t, []string{"p1"}, leave.ParticipantIDs)
	assert.Empty(t, tr.Members(topic))
}

func TestDetach_Idempotent(t *testing.T) {
	tr := newTestTracker(testutil.NewStepClock(0))
	sub, err := tr.Subscribe(topic)
	require.NoError(t, err)
	nextEvent(t, sub)

	h, err := tr.Attach(context.Background(), topic, "p1")
	require.NoError(t, err)
	nextEvent(t, sub)

	h.Detach()
	h.Detach()
	nextEvent(t, sub)

	assert.Equal(t, 0, sub.q.Len(), "a second detach fans out nothing")
	select {
	case <-h.Done():
	default:
		t.Fatal("Done not closed after detach")
	}
}

func TestMultipleConnections_CountedPerParticipant(t *testing.T) {
	tr := newTestTracker(testutil.NewStepClock(0))
	sub, err := tr.Subscribe(topic)
	require.NoError(t, err)
	nextEvent(t, sub)

	ctx := context.Background()
	tab1, err := tr.Attach(ctx, topic, "p1")
	require.NoError(t, err)
	tab2, err := tr.Attach(ctx, topic, "p1")
	require.NoError(t, err)

	assert.Equal(t, EventJoin, nextEvent(t, sub).Type)
	assert.Equal(t, 0, sub.q.Len(), "second connection is not a new join")

	tab1.Detach()
	assert.Equal(t, []string{"p1"}, tr.Members(topic), "still present through tab2")
	assert.Equal(t, 0, sub.q.Len())

	tab2.Detach()
	assert.Equal(t, EventLeave, nextEvent(t, sub).Type)
}

func TestAttach_ContextCancelDetaches(t *testing.T) {
	tr := newTestTracker(testutil.NewStepClock(0))
	sub, err := tr.Subscribe(topic)
	require.NoError(t, err)
	nextEvent(t, sub)

	ctx, cancel := context.WithCancel(context.Background())
	h, err := tr.Attach(ctx, topic, "p1")
	require.NoError(t, err)
	nextEvent(t, sub)

	cancel()

	assert.Equal(t, EventLeave, nextEvent(t, sub).Type)
	<-h.Done()
}

func TestReap_ExpiresSilentConnections(t *testing.T) {
	clk := testutil.NewStepClock(0)
	tr := newTestTracker(clk)
	sub, err := tr.Subscribe(topic)
	require.NoError(t, err)
	nextEvent(t, sub)

	ctx := context.Background()
	silent, err := tr.Attach(ctx, topic, "p1")
	require.NoError(t, err)
	alive, err := tr.Attach(ctx, topic, "p2")
	require.NoError(t, err)
	nextEvent(t, sub)
	nextEvent(t, sub)

	clk.Advance(20 * time.Second)
	alive.Heartbeat()
	assert.Equal(t, 0, tr.Reap(), "within grace period")

	clk.Advance(15 * time.Second)
	assert.Equal(t, 1, tr.Reap())

	leave := nextEvent(t, sub)
	assert.Equal(t, EventLeave, leave.Type)
	assert.Equal(t, []string{"p1"}, leave.ParticipantIDs)
	assert.Equal(t, []string{"p2"}, tr.Members(topic))
	<-silent.Done()
}

func TestCloseTopic(t *testing.T) {
	tr := newTestTracker(testutil.NewStepClock(0))
	h, err := tr.Attach(context.Background(), topic, "p1")
	require.NoError(t, err)
	sub, err := tr.Subscribe(topic)
	require.NoError(t, err)
	nextEvent(t, sub)

	tr.CloseTopic(topic)

	_, err = sub.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	<-h.Done()

	// Detach and unsubscribe after the topic is gone are safe.
	h.Detach()
	sub.Unsubscribe()
	assert.Empty(t, tr.Members(topic))
}

func TestClose(t *testing.T) {
	tr := newTestTracker(testutil.NewStepClock(0))
	sub, err := tr.Subscribe(topic)
	require.NoError(t, err)
	nextEvent(t, sub)

	require.NoError(t, tr.Close())

	_, err = sub.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	_, err = tr.Attach(context.Background(), topic, "p1")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = tr.Subscribe(topic)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRun_StopsOnContext(t *testing.T) {
	tr := newTestTracker(testutil.NewStepClock(0))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		tr.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
