package lists

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/shufflesync/internal/domain"
	"github.com/roach88/shufflesync/internal/feed"
	"github.com/roach88/shufflesync/internal/ident"
	"github.com/roach88/shufflesync/internal/sqlstore"
	"github.com/roach88/shufflesync/internal/store"
	"github.com/roach88/shufflesync/internal/testutil"
)

type fixture struct {
	engine *Engine
	store  store.Store
	sink   *testutil.RecordingSink
	closed []feed.Topic
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureOn(t, store.NewMemory())
}

func newFixtureOn(t *testing.T, st store.Store) *fixture {
	t.Helper()
	f := &fixture{
		store: st,
		sink:  &testutil.RecordingSink{},
	}
	clk := testutil.NewStepClock(time.Second)
	pub := feed.NewPublisher(f.sink, "list-engine",
		feed.WithIDs(ident.NewSequence("ev")),
		feed.WithClock(clk),
		feed.WithLogger(quietLogger()),
	)
	f.engine = New(st, pub,
		WithIDs(ident.NewSequence("id")),
		WithTokens(ident.NewSequence("link")),
		WithClock(clk),
		WithLogger(quietLogger()),
		WithMaxRetries(50),
		WithTopicCloser(func(topic feed.Topic) { f.closed = append(f.closed, topic) }),
	)
	t.Cleanup(func() { st.Close() })
	return f
}

func newSQLiteStore(t *testing.T) store.Store {
	t.Helper()
	s, err := sqlstore.Open(context.Background(), sqlstore.DriverSQLite3, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	return s
}

func pointer(restaurantID string) domain.Pointer {
	return domain.Pointer{
		RestaurantID:     restaurantID,
		RestaurantSource: "places",
		Name:             "Restaurant " + restaurantID,
	}
}

// sharedList creates a list owned by "alice" with a share link that "bob"
// has joined as an editor.
func (f *fixture) sharedList(t *testing.T) *domain.List {
	t.Helper()
	ctx := context.Background()

	l, err := f.engine.CreateList(ctx, "alice", "Date night", "")
	require.NoError(t, err)
	l, err = f.engine.GenerateShareLink(ctx, l.ID, "alice")
	require.NoError(t, err)
	_, err = f.engine.JoinViaShareLink(ctx, l.ShareLinkID, "bob")
	require.NoError(t, err)
	f.sink.Reset()
	return l
}

func itemIDs(items []domain.ListItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.RestaurantID
	}
	return out
}

// interleavingStore runs before exactly once, ahead of the first write that
// follows arm. It lets a test commit a competing operation in the gap
// between an engine's authorization read and its write.
type interleavingStore struct {
	store.Store
	armed  atomic.Bool
	before func()
}

func (s *interleavingStore) arm(before func()) {
	s.before = before
	s.armed.Store(true)
}

func (s *interleavingStore) fire() {
	if s.armed.CompareAndSwap(true, false) {
		s.before()
	}
}

func (s *interleavingStore) Insert(ctx context.Context, table, key string, doc any) (store.Record, error) {
	s.fire()
	return s.Store.Insert(ctx, table, key, doc)
}

func (s *interleavingStore) Atomic(ctx context.Context, fn func(tx store.Tx) error) error {
	s.fire()
	return s.Store.Atomic(ctx, fn)
}

// deleteBeforeNextWrite arms st so alice deletes list l just before the
// next write reaches the store.
func (f *fixture) deleteBeforeNextWrite(t *testing.T, st *interleavingStore, l *domain.List) {
	t.Helper()
	st.arm(func() {
		require.NoError(t, f.engine.DeleteList(context.Background(), l.ID, "alice"))
	})
}
