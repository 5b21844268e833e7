// Package storetest is the conformance suite for store.Store
// implementations. Every implementation's tests call Run with a factory that
// returns a fresh, empty store.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shufflesync/internal/store"
)

// Factory returns a fresh, empty store. It should register cleanup with t.
type Factory func(t *testing.T) store.Store

type doc struct {
	Name   string   `json:"name"`
	Owner  string   `json:"owner,omitempty"`
	Count  int      `json:"count,omitempty"`
	Shared bool     `json:"shared"`
	Tags   []string `json:"tags,omitempty"`
}

// Run executes the full conformance suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("InsertGet", func(t *testing.T) { testInsertGet(t, newStore(t)) })
	t.Run("InsertDuplicate", func(t *testing.T) { testInsertDuplicate(t, newStore(t)) })
	t.Run("InsertRejectsNonObject", func(t *testing.T) { testInsertRejectsNonObject(t, newStore(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("UpdateMergesPatch", func(t *testing.T) { testUpdateMergesPatch(t, newStore(t)) })
	t.Run("UpdateVersionConflict", func(t *testing.T) { testUpdateVersionConflict(t, newStore(t)) })
	t.Run("UpdateAnyVersion", func(t *testing.T) { testUpdateAnyVersion(t, newStore(t)) })
	t.Run("UpdateMissing", func(t *testing.T) { testUpdateMissing(t, newStore(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("QueryFilterAndOrder", func(t *testing.T) { testQueryFilterAndOrder(t, newStore(t)) })
	t.Run("QueryAfterUpdate", func(t *testing.T) { testQueryAfterUpdate(t, newStore(t)) })
	t.Run("TablesAreIsolated", func(t *testing.T) { testTablesAreIsolated(t, newStore(t)) })
	t.Run("AtomicCommit", func(t *testing.T) { testAtomicCommit(t, newStore(t)) })
	t.Run("AtomicRollback", func(t *testing.T) { testAtomicRollback(t, newStore(t)) })
	t.Run("ConcurrentInsertSameKey", func(t *testing.T) { testConcurrentInsertSameKey(t, newStore(t)) })
	t.Run("ConcurrentConditionalUpdates", func(t *testing.T) { testConcurrentConditionalUpdates(t, newStore(t)) })
}

func testInsertGet(t *testing.T, s store.Store) {
	ctx := context.Background()

	rec, err := s.Insert(ctx, "things", "k1", doc{Name: "first", Count: 3})
	require.NoError(t, err)
	assert.Equal(t, "things", rec.Table)
	assert.Equal(t, "k1", rec.Key)
	assert.Equal(t, int64(1), rec.Version)
	assert.Greater(t, rec.Seq, int64(0))

	got, err := s.Get(ctx, "things", "k1")
	require.NoError(t, err)
	assert.Equal(t, rec.Version, got.Version)
	assert.Equal(t, rec.Seq, got.Seq)

	var d doc
	require.NoError(t, got.Decode(&d))
	assert.Equal(t, "first", d.Name)
	assert.Equal(t, 3, d.Count)
}

func testInsertDuplicate(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.Insert(ctx, "things", "k1", doc{Name: "first"})
	require.NoError(t, err)

	_, err = s.Insert(ctx, "things", "k1", doc{Name: "second"})
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	got, err := s.Get(ctx, "things", "k1")
	require.NoError(t, err)
	var d doc
	require.NoError(t, got.Decode(&d))
	assert.Equal(t, "first", d.Name, "duplicate insert must not overwrite")
}

func testInsertRejectsNonObject(t *testing.T, s store.Store) {
	_, err := s.Insert(context.Background(), "things", "k1", []string{"a"})
	assert.Error(t, err)
}

func testGetMissing(t *testing.T, s store.Store) {
	_, err := s.Get(context.Background(), "things", "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testUpdateMergesPatch(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.Insert(ctx, "things", "k1", doc{Name: "first", Owner: "alice", Count: 1})
	require.NoError(t, err)

	rec, err := s.Update(ctx, "things", "k1", map[string]any{"count": 2}, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Version)

	var d doc
	require.NoError(t, rec.Decode(&d))
	assert.Equal(t, "first", d.Name, "unpatched fields are preserved")
	assert.Equal(t, "alice", d.Owner)
	assert.Equal(t, 2, d.Count)
}

func testUpdateVersionConflict(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.Insert(ctx, "things", "k1", doc{Name: "first"})
	require.NoError(t, err)
	_, err = s.Update(ctx, "things", "k1", map[string]any{"count": 1}, 1)
	require.NoError(t, err)

	_, err = s.Update(ctx, "things", "k1", map[string]any{"count": 99}, 1)
	assert.ErrorIs(t, err, store.ErrVersionConflict)

	got, err := s.Get(ctx, "things", "k1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	var d doc
	require.NoError(t, got.Decode(&d))
	assert.Equal(t, 1, d.Count, "conflicting update must not apply")
}

func testUpdateAnyVersion(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.Insert(ctx, "things", "k1", doc{Name: "first"})
	require.NoError(t, err)

	rec, err := s.Update(ctx, "things", "k1", map[string]any{"name": "renamed"}, store.AnyVersion)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Version)
}

func testUpdateMissing(t *testing.T, s store.Store) {
	_, err := s.Update(context.Background(), "things", "nope", map[string]any{"name": "x"}, store.AnyVersion)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testDelete(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.Insert(ctx, "things", "k1", doc{Name: "first"})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "things", "k1"))

	_, err = s.Get(ctx, "things", "k1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = s.Delete(ctx, "things", "k1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, store.IgnoreNotFound(err))

	recs, err := s.Query(ctx, "things", store.Filter{"name": "first"})
	require.NoError(t, err)
	assert.Empty(t, recs)

	// Key is reusable after delete.
	_, err = s.Insert(ctx, "things", "k1", doc{Name: "again"})
	assert.NoError(t, err)
}

func testQueryFilterAndOrder(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.Insert(ctx, "things", "k3", doc{Name: "c", Owner: "alice", Shared: true})
	require.NoError(t, err)
	_, err = s.Insert(ctx, "things", "k1", doc{Name: "a", Owner: "bob"})
	require.NoError(t, err)
	_, err = s.Insert(ctx, "things", "k2", doc{Name: "b", Owner: "alice", Count: 7, Tags: []string{"x"}})
	require.NoError(t, err)

	all, err := s.Query(ctx, "things", nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"k3", "k1", "k2"}, keys(all), "ordered by insert sequence")

	alice, err := s.Query(ctx, "things", store.Filter{"owner": "alice"})
	require.NoError(t, err)
	assert.Equal(t, []string{"k3", "k2"}, keys(alice))

	shared, err := s.Query(ctx, "things", store.Filter{"owner": "alice", "shared": "true"})
	require.NoError(t, err)
	assert.Equal(t, []string{"k3"}, keys(shared))

	counted, err := s.Query(ctx, "things", store.Filter{"count": "7"})
	require.NoError(t, err)
	assert.Equal(t, []string{"k2"}, keys(counted))

	none, err := s.Query(ctx, "things", store.Filter{"owner": "carol"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testQueryAfterUpdate(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.Insert(ctx, "things", "k1", doc{Name: "a", Owner: "alice"})
	require.NoError(t, err)
	_, err = s.Update(ctx, "things", "k1", map[string]any{"owner": "bob"}, store.AnyVersion)
	require.NoError(t, err)

	alice, err := s.Query(ctx, "things", store.Filter{"owner": "alice"})
	require.NoError(t, err)
	assert.Empty(t, alice)

	bob, err := s.Query(ctx, "things", store.Filter{"owner": "bob"})
	require.NoError(t, err)
	assert.Equal(t, []string{"k1"}, keys(bob))
}

func testTablesAreIsolated(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.Insert(ctx, "a", "k1", doc{Name: "in-a"})
	require.NoError(t, err)
	_, err = s.Insert(ctx, "b", "k1", doc{Name: "in-b"})
	require.NoError(t, err, "same key in another table is independent")

	recs, err := s.Query(ctx, "b", nil)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	var d doc
	require.NoError(t, recs[0].Decode(&d))
	assert.Equal(t, "in-b", d.Name)
}

func testAtomicCommit(t *testing.T, s store.Store) {
	ctx := context.Background()

	err := s.Atomic(ctx, func(tx store.Tx) error {
		if _, err := tx.Insert(ctx, "things", "k1", doc{Name: "a"}); err != nil {
			return err
		}
		if _, err := tx.Insert(ctx, "things", "k2", doc{Name: "b"}); err != nil {
			return err
		}
		_, err := tx.Update(ctx, "things", "k1", map[string]any{"count": 5}, 1)
		return err
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, "things", "k1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)

	_, err = s.Get(ctx, "things", "k2")
	assert.NoError(t, err)
}

func testAtomicRollback(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.Insert(ctx, "things", "keep", doc{Name: "keep", Owner: "alice"})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.Atomic(ctx, func(tx store.Tx) error {
		if _, err := tx.Insert(ctx, "things", "new", doc{Name: "new"}); err != nil {
			return err
		}
		if _, err := tx.Update(ctx, "things", "keep", map[string]any{"owner": "bob"}, 1); err != nil {
			return err
		}
		if err := tx.Delete(ctx, "things", "keep"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.Get(ctx, "things", "new")
	assert.ErrorIs(t, err, store.ErrNotFound, "insert rolled back")

	got, err := s.Get(ctx, "things", "keep")
	require.NoError(t, err, "delete rolled back")
	assert.Equal(t, int64(1), got.Version, "update rolled back")

	alice, err := s.Query(ctx, "things", store.Filter{"owner": "alice"})
	require.NoError(t, err)
	assert.Equal(t, []string{"keep"}, keys(alice), "filter fields rolled back")
}

func testConcurrentInsertSameKey(t *testing.T, s store.Store) {
	ctx := context.Background()
	const writers = 8

	var wg sync.WaitGroup
	var mu sync.Mutex
	var created, existed int
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Insert(ctx, "things", "same", doc{Name: "x"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, store.ErrAlreadyExists):
				existed++
			default:
				t.Errorf("unexpected insert error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, writers-1, existed)
}

func testConcurrentConditionalUpdates(t *testing.T, s store.Store) {
	ctx := context.Background()
	const writers = 8

	_, err := s.Insert(ctx, "things", "counter", doc{Name: "counter"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.Retry(ctx, 100, func() error {
				cur, err := s.Get(ctx, "things", "counter")
				if err != nil {
					return err
				}
				var d doc
				if err := cur.Decode(&d); err != nil {
					return err
				}
				_, err = s.Update(ctx, "things", "counter", map[string]any{"count": d.Count + 1}, cur.Version)
				return err
			})
			if err != nil {
				t.Errorf("increment failed: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "things", "counter")
	require.NoError(t, err)
	var d doc
	require.NoError(t, got.Decode(&d))
	assert.Equal(t, writers, d.Count, "no lost updates")
	assert.Equal(t, int64(writers+1), got.Version)
}

func keys(recs []store.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Key
	}
	return out
}
