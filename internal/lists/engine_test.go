package lists

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shufflesync/internal/domain"
	"github.com/roach88/shufflesync/internal/feed"
	"github.com/roach88/shufflesync/internal/ident"
	"github.com/roach88/shufflesync/internal/store"
)

func TestCreateList_OwnerCollaborator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	l, err := f.engine.CreateList(ctx, "alice", "  Brunch  ", "weekend spots")
	require.NoError(t, err)

	assert.Equal(t, "Brunch", l.Title)
	assert.Equal(t, "alice", l.OwnerID)
	assert.False(t, l.IsShareable)
	assert.Empty(t, l.ShareLinkID)

	collabs, err := f.engine.Collaborators(ctx, l.ID)
	require.NoError(t, err)
	require.Len(t, collabs, 1)
	assert.Equal(t, domain.ListOwner, collabs[0].Role)
	assert.Equal(t, ident.CollaboratorID(l.ID, "alice"), collabs[0].ID)
}

func TestCreateList_NormalizesTitle(t *testing.T) {
	f := newFixture(t)

	l, err := f.engine.CreateList(context.Background(), "alice", "cafe\u0301s", "")
	require.NoError(t, err)
	assert.Equal(t, "caf\u00e9s", l.Title)
}

func TestCreateList_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.CreateList(ctx, "", "Brunch", "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = f.engine.CreateList(ctx, "alice", "   ", "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestUpdateList_OwnerOnly(t *testing.T) {
	f := newFixture(t)
	l := f.sharedList(t)
	ctx := context.Background()

	title := "Anniversary"
	_, err := f.engine.UpdateList(ctx, l.ID, "bob", Patch{Title: &title})
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	updated, err := f.engine.UpdateList(ctx, l.ID, "alice", Patch{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "Anniversary", updated.Title)
	assert.Greater(t, updated.Version, l.Version)
	assert.Equal(t, []string{feed.EventListUpdated}, f.sink.Names())

	empty := " "
	_, err = f.engine.UpdateList(ctx, l.ID, "alice", Patch{Title: &empty})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestShareLink_JoinAsEditor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	l, err := f.engine.CreateList(ctx, "alice", "Date night", "")
	require.NoError(t, err)
	shared, err := f.engine.GenerateShareLink(ctx, l.ID, "alice")
	require.NoError(t, err)
	assert.True(t, shared.IsShareable)
	assert.Equal(t, "link-1", shared.ShareLinkID)

	res, err := f.engine.JoinViaShareLink(ctx, "link-1", "bob")
	require.NoError(t, err)
	assert.False(t, res.AlreadyMember)
	assert.Equal(t, domain.ListEditor, res.Collaborator.Role)
	assert.Equal(t, l.ID, res.List.ID)

	assert.Equal(t, []string{feed.EventListUpdated, feed.EventCollaboratorAdded}, f.sink.Names())
}

func TestShareLink_JoinIdempotent(t *testing.T) {
	f := newFixture(t)
	l := f.sharedList(t)
	ctx := context.Background()

	res, err := f.engine.JoinViaShareLink(ctx, l.ShareLinkID, "bob")
	require.NoError(t, err)
	assert.True(t, res.AlreadyMember)

	owner, err := f.engine.JoinViaShareLink(ctx, l.ShareLinkID, "alice")
	require.NoError(t, err)
	assert.True(t, owner.AlreadyMember)
	assert.Equal(t, domain.ListOwner, owner.Collaborator.Role, "owner keeps their role")

	collabs, err := f.engine.Collaborators(ctx, l.ID)
	require.NoError(t, err)
	assert.Len(t, collabs, 2)
	assert.Empty(t, f.sink.Events())
}

func TestShareLink_RevokeInvalidates(t *testing.T) {
	f := newFixture(t)
	l := f.sharedList(t)
	ctx := context.Background()

	revoked, err := f.engine.RevokeShareLink(ctx, l.ID, "alice")
	require.NoError(t, err)
	assert.False(t, revoked.IsShareable)
	assert.Empty(t, revoked.ShareLinkID)

	_, err = f.engine.JoinViaShareLink(ctx, l.ShareLinkID, "carol")
	assert.ErrorIs(t, err, domain.ErrInvalidOrExpiredLink)
}

func TestShareLink_RegenerateReplacesOldLink(t *testing.T) {
	f := newFixture(t)
	l := f.sharedList(t)
	ctx := context.Background()

	fresh, err := f.engine.GenerateShareLink(ctx, l.ID, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, l.ShareLinkID, fresh.ShareLinkID)

	_, err = f.engine.JoinViaShareLink(ctx, l.ShareLinkID, "carol")
	assert.ErrorIs(t, err, domain.ErrInvalidOrExpiredLink)

	res, err := f.engine.JoinViaShareLink(ctx, fresh.ShareLinkID, "carol")
	require.NoError(t, err)
	assert.Equal(t, domain.ListEditor, res.Collaborator.Role)
}

func TestShareLink_UnknownOrEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.JoinViaShareLink(ctx, "no-such-link", "bob")
	assert.ErrorIs(t, err, domain.ErrInvalidOrExpiredLink)

	_, err = f.engine.JoinViaShareLink(ctx, "", "bob")
	assert.ErrorIs(t, err, domain.ErrInvalidOrExpiredLink)
}

func TestShareLink_OwnerOnly(t *testing.T) {
	f := newFixture(t)
	l := f.sharedList(t)
	ctx := context.Background()

	_, err := f.engine.GenerateShareLink(ctx, l.ID, "bob")
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
	_, err = f.engine.RevokeShareLink(ctx, l.ID, "mallory")
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
}

func TestShareLink_ConcurrentJoinsSameUser(t *testing.T) {
	f := newFixture(t)
	l := f.sharedList(t)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.JoinViaShareLink(ctx, l.ShareLinkID, "carol")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	collabs, err := f.engine.Collaborators(ctx, l.ID)
	require.NoError(t, err)
	assert.Len(t, collabs, 3)
	assert.Equal(t, []string{feed.EventCollaboratorAdded}, f.sink.Names())
}

func TestAddItem_EditorAndViewer(t *testing.T) {
	f := newFixture(t)
	l := f.sharedList(t)
	ctx := context.Background()

	res, err := f.engine.AddItem(ctx, l.ID, "bob", pointer("r1"))
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, ident.ListItemID(l.ID, "r1"), res.Item.ID)
	assert.Equal(t, "bob", res.Item.AddedBy)

	_, err = f.engine.AddCollaborator(ctx, l.ID, "alice", "vera", domain.ListViewer)
	require.NoError(t, err)
	_, err = f.engine.AddItem(ctx, l.ID, "vera", pointer("r2"))
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	_, err = f.engine.AddItem(ctx, l.ID, "stranger", pointer("r2"))
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	_, err = f.engine.AddItem(ctx, "missing", "alice", pointer("r2"))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.engine.AddItem(ctx, l.ID, "alice", pointer(" "))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestAddItem_DuplicateReturnsExisting(t *testing.T) {
	f := newFixture(t)
	l := f.sharedList(t)
	ctx := context.Background()

	first, err := f.engine.AddItem(ctx, l.ID, "alice", pointer("r1"))
	require.NoError(t, err)
	second, err := f.engine.AddItem(ctx, l.ID, "bob", pointer("r1"))
	require.NoError(t, err)

	assert.False(t, second.Created)
	assert.Equal(t, first.Item.ID, second.Item.ID)
	assert.Equal(t, "alice", second.Item.AddedBy)
	assert.Equal(t, []string{feed.EventItemAdded}, f.sink.Names())
}

func TestAddItem_ConcurrentSameRestaurant(t *testing.T) {
	for name, newStore := range map[string]func(*testing.T) store.Store{
		"memory":  func(*testing.T) store.Store { return store.NewMemory() },
		"sqlite3": newSQLiteStore,
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixtureOn(t, newStore(t))
			l := f.sharedList(t)
			ctx := context.Background()

			var wg sync.WaitGroup
			created := make([]bool, 2)
			errs := make([]error, 2)
			for i, actor := range []string{"alice", "bob"} {
				wg.Add(1)
				go func(i int, actor string) {
					defer wg.Done()
					res, err := f.engine.AddItem(ctx, l.ID, actor, pointer("r1"))
					errs[i] = err
					if err == nil {
						created[i] = res.Created
					}
				}(i, actor)
			}
			wg.Wait()

			require.NoError(t, errs[0])
			require.NoError(t, errs[1])
			assert.True(t, created[0] != created[1], "exactly one add creates the item")

			items, err := f.engine.Items(ctx, l.ID)
			require.NoError(t, err)
			assert.Len(t, items, 1)
			assert.Equal(t, []string{feed.EventItemAdded}, f.sink.Names())
		})
	}
}

func TestAddItem_ConcurrentDistinctRestaurants(t *testing.T) {
	f := newFixture(t)
	l := f.sharedList(t)
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			actor := "alice"
			if i%2 == 1 {
				actor = "bob"
			}
			_, err := f.engine.AddItem(ctx, l.ID, actor, pointer(fmt.Sprintf("r%02d", i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	items, err := f.engine.Items(ctx, l.ID)
	require.NoError(t, err)
	assert.Len(t, items, n)
	assert.Len(t, f.sink.Events(), n)
}

func TestRemoveItem(t *testing.T) {
	f := newFixture(t)
	l := f.sharedList(t)
	ctx := context.Background()

	res, err := f.engine.AddItem(ctx, l.ID, "alice", pointer("r1"))
	require.NoError(t, err)
	f.sink.Reset()

	_, err = f.engine.AddCollaborator(ctx, l.ID, "alice", "vera", domain.ListViewer)
	require.NoError(t, err)
	err = f.engine.RemoveItem(ctx, res.Item.ID, "vera")
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	require.NoError(t, f.engine.RemoveItem(ctx, res.Item.ID, "bob"))
	require.NoError(t, f.engine.RemoveItem(ctx, res.Item.ID, "bob"), "second remove is a no-op")

	items, err := f.engine.Items(ctx, l.ID)
	require.NoError(t, err)
	assert.Empty(t, items)

	events := f.sink.Events()
	require.Len(t, events, 2)
	assert.Equal(t, feed.EventItemDeleted, events[1].Name)
	var removed feed.Removed
	require.NoError(t, events[1].Decode(&removed))
	assert.Equal(t, res.Item.ID, removed.ID)
	assert.Equal(t, res.Item.Seq, removed.Seq)
}

func TestRemoveItem_ReAddGetsLargerSeq(t *testing.T) {
	f := newFixture(t)
	l := f.sharedList(t)
	ctx := context.Background()

	first, err := f.engine.AddItem(ctx, l.ID, "alice", pointer("r1"))
	require.NoError(t, err)
	require.NoError(t, f.engine.RemoveItem(ctx, first.Item.ID, "alice"))
	again, err := f.engine.AddItem(ctx, l.ID, "bob", pointer("r1"))
	require.NoError(t, err)

	assert.True(t, again.Created)
	assert.Equal(t, first.Item.ID, again.Item.ID)
	assert.Greater(t, again.Item.Seq, first.Item.Seq)
}

func TestCollaborators_AddChangeRemove(t *testing.T) {
	f := newFixture(t)
	l := f.sharedList(t)
	ctx := context.Background()

	c, err := f.engine.AddCollaborator(ctx, l.ID, "alice", "vera", domain.ListViewer)
	require.NoError(t, err)
	assert.Equal(t, domain.ListViewer, c.Role)

	again, err := f.engine.AddCollaborator(ctx, l.ID, "alice", "vera", domain.ListEditor)
	require.NoError(t, err)
	assert.Equal(t, domain.ListViewer, again.Role, "existing role is kept")

	_, err = f.engine.AddCollaborator(ctx, l.ID, "bob", "carol", domain.ListEditor)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
	_, err = f.engine.AddCollaborator(ctx, l.ID, "alice", "carol", domain.ListOwner)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	promoted, err := f.engine.ChangeRole(ctx, l.ID, "alice", "vera", domain.ListEditor)
	require.NoError(t, err)
	assert.Equal(t, domain.ListEditor, promoted.Role)

	_, err = f.engine.ChangeRole(ctx, l.ID, "alice", "alice", domain.ListViewer)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
	_, err = f.engine.ChangeRole(ctx, l.ID, "alice", "nobody", domain.ListViewer)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, f.engine.RemoveCollaborator(ctx, l.ID, "vera", "alice"))
	require.NoError(t, f.engine.RemoveCollaborator(ctx, l.ID, "vera", "alice"), "absent collaborator is a no-op")

	assert.Equal(t, []string{
		feed.EventCollaboratorAdded,
		feed.EventCollaboratorUpdated,
		feed.EventCollaboratorRemoved,
	}, f.sink.Names())
}

func TestRemoveCollaborator_Rules(t *testing.T) {
	f := newFixture(t)
	l := f.sharedList(t)
	ctx := context.Background()

	_, err := f.engine.AddCollaborator(ctx, l.ID, "alice", "carol", domain.ListEditor)
	require.NoError(t, err)

	err = f.engine.RemoveCollaborator(ctx, l.ID, "carol", "bob")
	assert.ErrorIs(t, err, domain.ErrNotAuthorized, "editors may not remove others")

	err = f.engine.RemoveCollaborator(ctx, l.ID, "alice", "alice")
	assert.ErrorIs(t, err, domain.ErrNotAuthorized, "the owner cannot be removed")

	require.NoError(t, f.engine.RemoveCollaborator(ctx, l.ID, "bob", "bob"), "anyone may leave")

	_, err = f.engine.AddItem(ctx, l.ID, "bob", pointer("r1"))
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
}

func TestNotes_ListContext(t *testing.T) {
	f := newFixture(t)
	l := f.sharedList(t)
	ctx := context.Background()

	note, err := f.engine.AddNote(ctx, "r1", l.ID, "bob", "  try the cafe\u0301 au lait ")
	require.NoError(t, err)
	assert.Equal(t, "try the caf\u00e9 au lait", note.Text)

	_, err = f.engine.AddCollaborator(ctx, l.ID, "alice", "vera", domain.ListViewer)
	require.NoError(t, err)
	_, err = f.engine.AddNote(ctx, "r1", l.ID, "vera", "hi")
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	notes, err := f.engine.Notes(ctx, "r1", l.ID)
	require.NoError(t, err)
	require.Len(t, notes, 1)

	err = f.engine.DeleteNote(ctx, note.ID, "vera")
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
	require.NoError(t, f.engine.DeleteNote(ctx, note.ID, "alice"), "owner may delete others' notes")

	err = f.engine.DeleteNote(ctx, note.ID, "alice")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	var changed []feed.NoteChanged
	for _, ev := range f.sink.Events() {
		if ev.Name != feed.EventNoteChanged {
			continue
		}
		var p feed.NoteChanged
		require.NoError(t, ev.Decode(&p))
		changed = append(changed, p)
	}
	assert.Equal(t, []feed.NoteChanged{
		{RestaurantID: "r1", Context: l.ID},
		{RestaurantID: "r1", Context: l.ID},
	}, changed)
}

func TestNotes_PersonalContext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	note, err := f.engine.AddNote(ctx, "r1", domain.NoteContextFavorites, "alice", "great patio")
	require.NoError(t, err)
	assert.Empty(t, f.sink.Events(), "personal notes publish nothing")

	err = f.engine.DeleteNote(ctx, note.ID, "bob")
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
	require.NoError(t, f.engine.DeleteNote(ctx, note.ID, "alice"))

	_, err = f.engine.AddNote(ctx, "r1", domain.NoteContextWinners, "alice", "  ")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestDeleteList_Cascades(t *testing.T) {
	f := newFixture(t)
	l := f.sharedList(t)
	ctx := context.Background()

	_, err := f.engine.AddItem(ctx, l.ID, "bob", pointer("r1"))
	require.NoError(t, err)
	_, err = f.engine.AddNote(ctx, "r1", l.ID, "bob", "ask for the booth")
	require.NoError(t, err)
	_, err = f.engine.AddNote(ctx, "r1", domain.NoteContextFavorites, "bob", "keep this one")
	require.NoError(t, err)
	f.sink.Reset()

	err = f.engine.DeleteList(ctx, l.ID, "bob")
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	require.NoError(t, f.engine.DeleteList(ctx, l.ID, "alice"))

	_, err = f.engine.Get(ctx, l.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	collabs, err := f.engine.Collaborators(ctx, l.ID)
	require.NoError(t, err)
	assert.Empty(t, collabs)
	items, err := f.engine.Items(ctx, l.ID)
	require.NoError(t, err)
	assert.Empty(t, items)
	notes, err := f.engine.Notes(ctx, "r1", l.ID)
	require.NoError(t, err)
	assert.Empty(t, notes)

	personal, err := f.engine.Notes(ctx, "r1", domain.NoteContextFavorites)
	require.NoError(t, err)
	assert.Len(t, personal, 1, "notes in other contexts survive")

	_, err = f.engine.JoinViaShareLink(ctx, l.ShareLinkID, "carol")
	assert.ErrorIs(t, err, domain.ErrInvalidOrExpiredLink)

	assert.Equal(t, []string{feed.EventListDeleted}, f.sink.Names())
	assert.Equal(t, []feed.Topic{feed.ListTopic(l.ID)}, f.closed)
}

func TestListsFor(t *testing.T) {
	f := newFixture(t)
	l := f.sharedList(t)
	ctx := context.Background()

	other, err := f.engine.CreateList(ctx, "bob", "Bob's picks", "")
	require.NoError(t, err)

	lists, err := f.engine.ListsFor(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, lists, 2)
	assert.Equal(t, l.ID, lists[0].ID)
	assert.Equal(t, other.ID, lists[1].ID)

	none, err := f.engine.ListsFor(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSnapshot(t *testing.T) {
	f := newFixture(t)
	l := f.sharedList(t)
	ctx := context.Background()

	for _, id := range []string{"r2", "r1", "r3"} {
		_, err := f.engine.AddItem(ctx, l.ID, "alice", pointer(id))
		require.NoError(t, err)
	}

	snap, err := f.engine.Snapshot(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, l.ID, snap.List.ID)
	assert.Len(t, snap.Collaborators, 2)
	assert.Equal(t, []string{"r2", "r1", "r3"}, itemIDs(snap.Items), "items in insertion order")

	_, err = f.engine.Snapshot(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPublishFailureDoesNotFailWrite(t *testing.T) {
	f := newFixture(t)
	l := f.sharedList(t)
	ctx := context.Background()

	f.sink.Err = fmt.Errorf("bus down")
	res, err := f.engine.AddItem(ctx, l.ID, "alice", pointer("r1"))
	require.NoError(t, err)
	assert.True(t, res.Created)

	items, err := f.engine.Items(ctx, l.ID)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestAddItem_ListDeletedAfterAuthorization(t *testing.T) {
	st := &interleavingStore{Store: store.NewMemory()}
	f := newFixtureOn(t, st)
	l := f.sharedList(t)
	ctx := context.Background()

	f.deleteBeforeNextWrite(t, st, l)
	res, err := f.engine.AddItem(ctx, l.ID, "bob", pointer("r1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Nil(t, res)

	orphans, err := st.Query(ctx, TableItems, store.Filter{"list_id": l.ID})
	require.NoError(t, err)
	assert.Empty(t, orphans)
	assert.NotContains(t, f.sink.Names(), feed.EventItemAdded)
}

func TestAddCollaborator_ListDeletedAfterAuthorization(t *testing.T) {
	st := &interleavingStore{Store: store.NewMemory()}
	f := newFixtureOn(t, st)
	l := f.sharedList(t)
	ctx := context.Background()

	f.deleteBeforeNextWrite(t, st, l)
	_, err := f.engine.AddCollaborator(ctx, l.ID, "alice", "vera", domain.ListViewer)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	orphans, err := st.Query(ctx, TableCollaborators, store.Filter{"list_id": l.ID})
	require.NoError(t, err)
	assert.Empty(t, orphans)
	assert.NotContains(t, f.sink.Names(), feed.EventCollaboratorAdded)
}

func TestAddNote_ListDeletedAfterAuthorization(t *testing.T) {
	st := &interleavingStore{Store: store.NewMemory()}
	f := newFixtureOn(t, st)
	l := f.sharedList(t)
	ctx := context.Background()

	f.deleteBeforeNextWrite(t, st, l)
	_, err := f.engine.AddNote(ctx, "r1", l.ID, "bob", "great eggs")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	orphans, err := st.Query(ctx, TableNotes, store.Filter{"context": l.ID})
	require.NoError(t, err)
	assert.Empty(t, orphans)
	assert.NotContains(t, f.sink.Names(), feed.EventNoteChanged)
}

func TestAddItem_ListChangedAfterAuthorizationRetries(t *testing.T) {
	st := &interleavingStore{Store: store.NewMemory()}
	f := newFixtureOn(t, st)
	l := f.sharedList(t)
	ctx := context.Background()

	title := "Anniversary"
	st.arm(func() {
		_, err := f.engine.UpdateList(ctx, l.ID, "alice", Patch{Title: &title})
		require.NoError(t, err)
	})
	res, err := f.engine.AddItem(ctx, l.ID, "bob", pointer("r1"))
	require.NoError(t, err)
	assert.True(t, res.Created)

	items, err := f.engine.Items(ctx, l.ID)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}
