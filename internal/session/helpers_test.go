package session

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"sort"
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

// fixture bundles an engine with the fakes its tests inspect.
type fixture struct {
	engine *Engine
	store  store.Store
	sink   *testutil.RecordingSink
	codes  *testutil.FixedCodes
	closed []feed.Topic
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

// newFixture creates an engine over a memory store with deterministic ids,
// codes, and clock. codes defaults to a few distinct codes.
func newFixture(t *testing.T, codes ...string) *fixture {
	t.Helper()
	return newFixtureOn(t, store.NewMemory(), codes...)
}

func newFixtureOn(t *testing.T, st store.Store, codes ...string) *fixture {
	t.Helper()
	if len(codes) == 0 {
		codes = []string{"AAAAAA", "BBBBBB", "CCCCCC", "DDDDDD"}
	}
	f := &fixture{
		store: st,
		sink:  &testutil.RecordingSink{},
		codes: testutil.NewFixedCodes(codes...),
	}
	clk := testutil.NewStepClock(time.Second)
	pub := feed.NewPublisher(f.sink, "session-engine",
		feed.WithIDs(ident.NewSequence("ev")),
		feed.WithClock(clk),
		feed.WithLogger(quietLogger()),
	)
	f.engine = New(st, pub,
		WithIDs(ident.NewSequence("id")),
		WithCodes(f.codes),
		WithClock(clk),
		WithLogger(quietLogger()),
		WithCodeAttempts(3),
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

func candidates(ids ...string) []domain.Candidate {
	out := make([]domain.Candidate, len(ids))
	for i, id := range ids {
		out[i] = domain.Candidate{ID: id, Name: "Restaurant " + id}
	}
	return out
}

// activeSession creates a session hosted by "host" with "guest" joined and
// started with the given candidates.
func (f *fixture) activeSession(t *testing.T, ids ...string) *domain.Session {
	t.Helper()
	ctx := context.Background()

	sess, err := f.engine.Create(ctx, "host")
	require.NoError(t, err)
	_, err = f.engine.Join(ctx, sess.Code, "guest")
	require.NoError(t, err)
	_, err = f.engine.UpdateFilters(ctx, sess.ID, "host", domain.Filters{Source: domain.SourceNearby})
	require.NoError(t, err)
	started, err := f.engine.Start(ctx, sess.ID, "host", candidates(ids...))
	require.NoError(t, err)
	f.sink.Reset()
	return started
}

func sorted(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}
