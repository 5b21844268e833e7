package projector

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/roach88/shufflesync/internal/domain"
	"github.com/roach88/shufflesync/internal/feed"
	"github.com/roach88/shufflesync/internal/presence"
)

// SessionView folds session topic events into a local view.
//
// Merge policy:
//   - eliminated ids are a grow-only set: remote events and local
//     optimistic eliminations are unioned, never overwritten
//   - session scalars (status, winner, filters) take the remote value with
//     the highest record version; any remote session update discards the
//     local optimistic filters
//   - participants are keyed by id; a removal leaves a sequence tombstone
//     so a stale join cannot resurrect the row, while a rejoin (larger
//     sequence) can
//
// Thread-safety: SessionView is safe for concurrent use.
type SessionView struct {
	mu sync.Mutex
	id string
	tr tracker

	session    *domain.Session
	eliminated map[string]struct{}

	participants map[string]domain.Participant
	removed      map[string]int64
	online       map[string]struct{}
	deleted      bool

	localEliminated map[string]struct{}
	localFilters    *domain.Filters
	localReady      map[string]bool
}

// NewSessionView creates an empty view of session id. Seed it with Reset.
func NewSessionView(id string) *SessionView {
	return &SessionView{
		id:              id,
		tr:              newTracker(),
		eliminated:      make(map[string]struct{}),
		participants:    make(map[string]domain.Participant),
		removed:         make(map[string]int64),
		online:          make(map[string]struct{}),
		localEliminated: make(map[string]struct{}),
		localReady:      make(map[string]bool),
	}
}

// Topic implements View.
func (v *SessionView) Topic() feed.Topic { return feed.SessionTopic(v.id) }

// Stale reports whether a gap was seen since the last Reset.
func (v *SessionView) Stale() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.tr.stale
}

// Deleted reports whether a SessionDeleted event was applied.
func (v *SessionView) Deleted() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.deleted
}

// Reset replaces the remote state with an authoritative snapshot and
// clears the stale flag. Eliminations are grow-only, so the snapshot's set
// is unioned with what the view already holds. A participant the view held
// but the snapshot lacks gets a tombstone at its sequence, as if its leave
// had been delivered. Local optimistic state is kept.
func (v *SessionView) Reset(snap *domain.SessionSnapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.tr.reset()
	v.session = snap.Session.Clone()
	v.union(snap.Session.EliminatedIDs)

	prev := v.participants
	v.participants = make(map[string]domain.Participant, len(snap.Participants))
	for _, p := range snap.Participants {
		v.participants[p.ID] = p
	}
	for id, p := range prev {
		if _, ok := v.participants[id]; !ok {
			tombstone(v.removed, id, p.Seq)
			delete(v.localReady, id)
		}
	}
	v.deleted = false
}

// LocalEliminate records an optimistic elimination before the command
// result or its echo arrives.
func (v *SessionView) LocalEliminate(candidateID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.localEliminated[candidateID] = struct{}{}
}

// LocalFilters records optimistic filters. The next remote session update
// replaces them.
func (v *SessionView) LocalFilters(f domain.Filters) {
	v.mu.Lock()
	defer v.mu.Unlock()
	c := f.Clone()
	v.localFilters = &c
}

// LocalReady records an optimistic readiness flag for participantID.
func (v *SessionView) LocalReady(participantID string, ready bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.localReady[participantID] = ready
}

// DiscardLocal drops all optimistic state, used when a command failed.
func (v *SessionView) DiscardLocal() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.localEliminated = make(map[string]struct{})
	v.localFilters = nil
	v.localReady = make(map[string]bool)
}

// Apply folds one change event into the view. Re-delivered events are
// ignored.
func (v *SessionView) Apply(ev feed.Event) ([]Signal, error) {
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
	case feed.EventSessionUpdated:
		var s domain.Session
		if err := ev.Decode(&s); err != nil {
			return signals, err
		}
		signals = append(signals, v.applySession(&s)...)

	case feed.EventEliminated:
		var p feed.Eliminated
		if err := ev.Decode(&p); err != nil {
			return signals, err
		}
		v.union([]string{p.CandidateID})

	case feed.EventParticipantJoined, feed.EventParticipantUpdated:
		var p domain.Participant
		if err := ev.Decode(&p); err != nil {
			return signals, err
		}
		v.applyParticipant(p, ev.Name == feed.EventParticipantUpdated)

	case feed.EventParticipantLeft:
		var r feed.Removed
		if err := ev.Decode(&r); err != nil {
			return signals, err
		}
		v.removeParticipant(r)

	case feed.EventSessionDeleted:
		if !v.deleted {
			v.deleted = true
			signals = append(signals, SignalDeleted)
		}
	}
	return signals, nil
}

func (v *SessionView) applySession(s *domain.Session) []Signal {
	v.localFilters = nil
	v.union(s.EliminatedIDs)

	old := v.session
	if old != nil && s.Version <= old.Version {
		return nil
	}
	v.session = s.Clone()

	var signals []Signal
	if old != nil && old.Status != domain.StatusActive && !old.Status.Terminal() && s.Status == domain.StatusActive {
		signals = append(signals, SignalStarted)
	}
	if domain.WinnerDeclared(old, s) {
		signals = append(signals, SignalWinnerDeclared)
	}
	return signals
}

func (v *SessionView) applyParticipant(p domain.Participant, update bool) {
	if seq, ok := v.removed[p.ID]; ok && p.Seq <= seq {
		return
	}
	cur, ok := v.participants[p.ID]
	if ok && cur.Seq == p.Seq && cur.Version >= p.Version {
		return
	}
	if ok && cur.Seq > p.Seq {
		return
	}
	v.participants[p.ID] = p
	if update {
		delete(v.localReady, p.ID)
	}
}

func (v *SessionView) removeParticipant(r feed.Removed) {
	tombstone(v.removed, r.ID, r.Seq)
	if cur, ok := v.participants[r.ID]; ok && cur.Seq <= r.Seq {
		delete(v.participants, r.ID)
		delete(v.localReady, r.ID)
	}
}

func (v *SessionView) union(ids []string) {
	for _, id := range ids {
		v.eliminated[id] = struct{}{}
		delete(v.localEliminated, id)
	}
}

// ApplyPresence folds a presence event into the online set.
func (v *SessionView) ApplyPresence(ev presence.Event) {
	v.mu.Lock()
	defer v.mu.Unlock()
	applyPresence(v.online, ev)
}

// Online returns the participant ids currently present, sorted.
func (v *SessionView) Online() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return sortedKeys(v.online)
}

// Session returns the merged session, or nil before the first Reset or
// update. EliminatedIDs follow candidate order; optimistic eliminations
// are included.
func (v *SessionView) Session() *domain.Session {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.session == nil {
		return nil
	}

	s := v.session.Clone()
	s.EliminatedIDs = s.EliminatedIDs[:0]
	for _, c := range s.Candidates {
		if v.isEliminated(c.ID) {
			s.EliminatedIDs = append(s.EliminatedIDs, c.ID)
		}
	}
	// Ids not among the known candidates (candidates not yet seen) sort last.
	var extra []string
	for id := range v.eliminated {
		if _, ok := s.Candidate(id); !ok {
			extra = append(extra, id)
		}
	}
	for id := range v.localEliminated {
		if _, ok := s.Candidate(id); !ok && !slices.Contains(extra, id) {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	s.EliminatedIDs = append(s.EliminatedIDs, extra...)
	if len(s.EliminatedIDs) == 0 {
		s.EliminatedIDs = nil
	}

	if v.localFilters != nil {
		s.Filters = v.localFilters.Clone()
	}
	return s
}

func (v *SessionView) isEliminated(id string) bool {
	if _, ok := v.eliminated[id]; ok {
		return true
	}
	_, ok := v.localEliminated[id]
	return ok
}

// Participants returns the merged participants ordered by join sequence.
func (v *SessionView) Participants() []domain.Participant {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]domain.Participant, 0, len(v.participants))
	for _, p := range v.participants {
		if ready, ok := v.localReady[p.ID]; ok {
			p.IsReady = ready
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Seq != out[j].Seq {
			return out[i].Seq < out[j].Seq
		}
		return out[i].ID < out[j].ID
	})
	return out
}
