package projector

import (
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/shufflesync/internal/domain"
	"github.com/roach88/shufflesync/internal/feed"
	"github.com/roach88/shufflesync/internal/presence"
)

// ListView folds list topic events into a local view.
//
// Items and collaborators are keyed sets with sequence tombstones, so an
// add delivered after its removal is ignored while a later re-add (larger
// sequence) is kept. List metadata is last-writer-wins by record version.
// Optimistic item adds are unioned with remote items until their echo
// arrives.
//
// Thread-safety: ListView is safe for concurrent use.
type ListView struct {
	mu sync.Mutex
	id string
	tr tracker

	list          *domain.List
	items         map[string]domain.ListItem
	removedItems  map[string]int64
	collaborators map[string]domain.Collaborator
	removedCollab map[string]int64
	dirtyNotes    map[feed.NoteChanged]struct{}
	online        map[string]struct{}
	deleted       bool

	localItems map[string]domain.ListItem
}

// NewListView creates an empty view of list id. Seed it with Reset.
func NewListView(id string) *ListView {
	return &ListView{
		id:            id,
		tr:            newTracker(),
		items:         make(map[string]domain.ListItem),
		removedItems:  make(map[string]int64),
		collaborators: make(map[string]domain.Collaborator),
		removedCollab: make(map[string]int64),
		dirtyNotes:    make(map[feed.NoteChanged]struct{}),
		online:        make(map[string]struct{}),
		localItems:    make(map[string]domain.ListItem),
	}
}

// Topic implements View.
func (v *ListView) Topic() feed.Topic { return feed.ListTopic(v.id) }

// Stale reports whether a gap was seen since the last Reset.
func (v *ListView) Stale() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.tr.stale
}

// Deleted reports whether a ListDeleted event was applied.
func (v *ListView) Deleted() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.deleted
}

// Reset replaces the remote state with an authoritative snapshot and clears
// the stale flag. Tombstones are kept, and rows the view held but the
// snapshot lacks get one at their sequence.
func (v *ListView) Reset(snap *domain.ListSnapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.tr.reset()
	l := *snap.List
	v.list = &l

	prevItems := v.items
	v.items = make(map[string]domain.ListItem, len(snap.Items))
	for _, it := range snap.Items {
		v.items[it.ID] = it
		delete(v.localItems, it.ID)
	}
	for id, it := range prevItems {
		if _, ok := v.items[id]; !ok {
			tombstone(v.removedItems, id, it.Seq)
		}
	}

	prevCollab := v.collaborators
	v.collaborators = make(map[string]domain.Collaborator, len(snap.Collaborators))
	for _, c := range snap.Collaborators {
		v.collaborators[c.ID] = c
	}
	for id, c := range prevCollab {
		if _, ok := v.collaborators[id]; !ok {
			tombstone(v.removedCollab, id, c.Seq)
		}
	}
	v.deleted = false
}

// LocalAddItem records an optimistic item add.
func (v *ListView) LocalAddItem(it domain.ListItem) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.items[it.ID]; !ok {
		v.localItems[it.ID] = it
	}
}

// DiscardLocal drops optimistic item adds, used when a command failed.
func (v *ListView) DiscardLocal() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.localItems = make(map[string]domain.ListItem)
}

// Apply folds one change event into the view. Re-delivered events are
// ignored.
func (v *ListView) Apply(ev feed.Event) ([]Signal, error) {
	if ev.Topic != v.Topic() {
		return nil, fmt.Errorf("%w: %s", ErrWrongTopic, ev.Topic)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	fresh, gap := v.tr.observe(ev)
	if !fresh {
		return nil, nil
	}
	var signals []Signal
	if gap {
		signals = append(signals, SignalStale)
	}

	switch ev.Name {
	case feed.EventListUpdated:
		var l domain.List
		if err := ev.Decode(&l); err != nil {
			return signals, err
		}
		if v.list == nil || l.Version > v.list.Version {
			v.list = &l
		}

	case feed.EventItemAdded:
		var it domain.ListItem
		if err := ev.Decode(&it); err != nil {
			return signals, err
		}
		delete(v.localItems, it.ID)
		if seq, ok := v.removedItems[it.ID]; ok && it.Seq <= seq {
			break
		}
		if cur, ok := v.items[it.ID]; !ok || cur.Seq < it.Seq {
			v.items[it.ID] = it
		}

	case feed.EventItemDeleted:
		var r feed.Removed
		if err := ev.Decode(&r); err != nil {
			return signals, err
		}
		tombstone(v.removedItems, r.ID, r.Seq)
		if cur, ok := v.items[r.ID]; ok && cur.Seq <= r.Seq {
			delete(v.items, r.ID)
		}
		delete(v.localItems, r.ID)

	case feed.EventCollaboratorAdded, feed.EventCollaboratorUpdated:
		var c domain.Collaborator
		if err := ev.Decode(&c); err != nil {
			return signals, err
		}
		if seq, ok := v.removedCollab[c.ID]; ok && c.Seq <= seq {
			break
		}
		cur, ok := v.collaborators[c.ID]
		if !ok || cur.Seq < c.Seq || (cur.Seq == c.Seq && cur.Version < c.Version) {
			v.collaborators[c.ID] = c
		}

	case feed.EventCollaboratorRemoved:
		var r feed.Removed
		if err := ev.Decode(&r); err != nil {
			return signals, err
		}
		tombstone(v.removedCollab, r.ID, r.Seq)
		if cur, ok := v.collaborators[r.ID]; ok && cur.Seq <= r.Seq {
			delete(v.collaborators, r.ID)
		}

	case feed.EventNoteChanged:
		var n feed.NoteChanged
		if err := ev.Decode(&n); err != nil {
			return signals, err
		}
		v.dirtyNotes[n] = struct{}{}
		signals = append(signals, SignalNotesDirty)

	case feed.EventListDeleted:
		if !v.deleted {
			v.deleted = true
			signals = append(signals, SignalDeleted)
		}
	}
	return signals, nil
}

// List returns the list metadata, or nil before the first Reset or update.
func (v *ListView) List() *domain.List {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.list == nil {
		return nil
	}
	l := *v.list
	return &l
}

// Items returns remote and optimistic items ordered by sequence. Optimistic
// items, which have no sequence yet, sort last by id.
func (v *ListView) Items() []domain.ListItem {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]domain.ListItem, 0, len(v.items)+len(v.localItems))
	for _, it := range v.items {
		out = append(out, it)
	}
	for _, it := range v.localItems {
		it.Seq = 0
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if (a.Seq == 0) != (b.Seq == 0) {
			return b.Seq == 0
		}
		if a.Seq != b.Seq {
			return a.Seq < b.Seq
		}
		return a.ID < b.ID
	})
	return out
}

// Collaborators returns the collaborators ordered by sequence.
func (v *ListView) Collaborators() []domain.Collaborator {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]domain.Collaborator, 0, len(v.collaborators))
	for _, c := range v.collaborators {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Seq != out[j].Seq {
			return out[i].Seq < out[j].Seq
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// DirtyNotes returns and clears the note sets that changed since the last
// call, ordered by restaurant then context.
func (v *ListView) DirtyNotes() []feed.NoteChanged {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]feed.NoteChanged, 0, len(v.dirtyNotes))
	for n := range v.dirtyNotes {
		out = append(out, n)
	}
	v.dirtyNotes = make(map[feed.NoteChanged]struct{})
	sort.Slice(out, func(i, j int) bool {
		if out[i].RestaurantID != out[j].RestaurantID {
			return out[i].RestaurantID < out[j].RestaurantID
		}
		return out[i].Context < out[j].Context
	})
	return out
}

// ApplyPresence folds a presence event into the online set.
func (v *ListView) ApplyPresence(ev presence.Event) {
	v.mu.Lock()
	defer v.mu.Unlock()
	applyPresence(v.online, ev)
}

// Online returns the ids currently present, sorted.
func (v *ListView) Online() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return sortedKeys(v.online)
}

func applyPresence(online map[string]struct{}, ev presence.Event) {
	switch ev.Type {
	case presence.EventSync:
		clear(online)
		for _, id := range ev.ParticipantIDs {
			online[id] = struct{}{}
		}
	case presence.EventJoin:
		for _, id := range ev.ParticipantIDs {
			online[id] = struct{}{}
		}
	case presence.EventLeave:
		for _, id := range ev.ParticipantIDs {
			delete(online, id)
		}
	}
}

// tombstone raises the removal sequence recorded for id to seq.
func tombstone(removed map[string]int64, id string, seq int64) {
	if seq > removed[id] {
		removed[id] = seq
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
