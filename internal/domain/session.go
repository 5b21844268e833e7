package domain

import (
	"slices"
	"time"
)

// SessionStatus is the shuffle-session state.
//
//	Waiting → Configuring → Active → Completed
type SessionStatus string

const (
	StatusWaiting     SessionStatus = "waiting"
	StatusConfiguring SessionStatus = "configuring"
	StatusActive      SessionStatus = "active"
	StatusCompleted   SessionStatus = "completed"
)

// Joinable reports whether new participants may join in this status.
func (s SessionStatus) Joinable() bool {
	return s == StatusWaiting || s == StatusConfiguring
}

// Terminal reports whether the session has finished.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted
}

// ParticipantRole distinguishes the session host from guests.
type ParticipantRole string

const (
	RoleHost  ParticipantRole = "host"
	RoleGuest ParticipantRole = "guest"
)

// CandidateSource names where candidates are drawn from.
type CandidateSource string

const (
	SourceNearby    CandidateSource = "nearby"
	SourceFavorites CandidateSource = "favorites"
	SourceList      CandidateSource = "list"
)

// Location is a latitude/longitude override for candidate search.
type Location struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// Filters configure candidate resolution. They are mutable only before the
// session becomes Active.
type Filters struct {
	Categories        []string        `json:"categories,omitempty" yaml:"categories,omitempty"`
	MinRating         float64         `json:"min_rating,omitempty" yaml:"min_rating,omitempty"`
	MaxDistanceMeters int             `json:"max_distance_meters,omitempty" yaml:"max_distance_meters,omitempty"`
	Source            CandidateSource `json:"source,omitempty" yaml:"source,omitempty"`
	SourceListID      string          `json:"source_list_id,omitempty" yaml:"source_list_id,omitempty"`
	Location          *Location       `json:"location,omitempty" yaml:"location,omitempty"`
}

// Candidate is a snapshot of one eligible item (e.g. a restaurant).
// Candidates are immutable once the session is Active.
type Candidate struct {
	ID       string  `json:"id" yaml:"id"`
	Name     string  `json:"name" yaml:"name"`
	Address  string  `json:"address,omitempty" yaml:"address,omitempty"`
	Rating   float64 `json:"rating,omitempty" yaml:"rating,omitempty"`
	Source   string  `json:"source,omitempty" yaml:"source,omitempty"`
	ImageURL string  `json:"image_url,omitempty" yaml:"image_url,omitempty"`
}

// Session identifies one collaborative elimination game.
//
// Invariants:
//   - Winner != nil iff Status == StatusCompleted
//   - EliminatedIDs ⊆ ids(Candidates), no duplicates
//   - CreatedAt ≤ StartedAt ≤ CompletedAt, each set at most once
type Session struct {
	ID                string        `json:"id"`
	Code              string        `json:"code"`
	HostUserID        string        `json:"host_user_id"`
	HostParticipantID string        `json:"host_participant_id"`
	Status            SessionStatus `json:"status"`
	Filters           Filters       `json:"filters"`
	Candidates        []Candidate   `json:"candidates,omitempty"`
	EliminatedIDs     []string      `json:"eliminated_ids,omitempty"`
	Winner            *Candidate    `json:"winner,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	StartedAt         *time.Time    `json:"started_at,omitempty"`
	CompletedAt       *time.Time    `json:"completed_at,omitempty"`

	// Version is the store record version the session was read at.
	Version int64 `json:"version"`
}

// Candidate returns the candidate with id, if present.
func (s *Session) Candidate(id string) (Candidate, bool) {
	for _, c := range s.Candidates {
		if c.ID == id {
			return c, true
		}
	}
	return Candidate{}, false
}

// IsEliminated reports whether candidate id has been eliminated.
func (s *Session) IsEliminated(id string) bool {
	return slices.Contains(s.EliminatedIDs, id)
}

// Remaining returns the candidates not yet eliminated, in candidate order.
func (s *Session) Remaining() []Candidate {
	out := make([]Candidate, 0, len(s.Candidates))
	for _, c := range s.Candidates {
		if !s.IsEliminated(c.ID) {
			out = append(out, c)
		}
	}
	return out
}

// LastStanding returns the single remaining candidate when exactly one is
// left. Callers use it to prompt winner confirmation.
func (s *Session) LastStanding() (Candidate, bool) {
	if s.Status != StatusActive {
		return Candidate{}, false
	}
	remaining := s.Remaining()
	if len(remaining) != 1 {
		return Candidate{}, false
	}
	return remaining[0], true
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Filters = s.Filters.Clone()
	c.Candidates = slices.Clone(s.Candidates)
	c.EliminatedIDs = slices.Clone(s.EliminatedIDs)
	if s.Winner != nil {
		w := *s.Winner
		c.Winner = &w
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		c.StartedAt = &t
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Clone returns a deep copy.
func (f Filters) Clone() Filters {
	c := f
	c.Categories = slices.Clone(f.Categories)
	if f.Location != nil {
		loc := *f.Location
		c.Location = &loc
	}
	return c
}

// Started reports whether the transition old → updated is the
// "session started" signal (Configuring → Active). Computed from the diff so
// that re-delivered updates do not fire it twice.
func Started(old, updated *Session) bool {
	if old == nil || updated == nil {
		return false
	}
	return old.Status == StatusConfiguring && updated.Status == StatusActive
}

// WinnerDeclared reports whether the transition old → updated set the winner.
func WinnerDeclared(old, updated *Session) bool {
	if old == nil || updated == nil {
		return false
	}
	return old.Winner == nil && updated.Winner != nil
}

// Participant is the membership row for (session, user).
type Participant struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	UserID    string          `json:"user_id"`
	Role      ParticipantRole `json:"role"`
	JoinedAt  time.Time       `json:"joined_at"`
	IsReady   bool            `json:"is_ready"`

	Version int64 `json:"version"`

	// Seq is the store sequence the membership row was inserted at. A user
	// who leaves and rejoins gets a larger Seq.
	Seq int64 `json:"seq"`
}

// ActionKind names a SessionAction.
type ActionKind string

const (
	ActionJoin          ActionKind = "join"
	ActionUpdateFilters ActionKind = "update_filters"
	ActionReady         ActionKind = "ready"
	ActionStart         ActionKind = "start"
	ActionEliminate     ActionKind = "eliminate"
	ActionDeclareWinner ActionKind = "declare_winner"
	ActionLeave         ActionKind = "leave"
)

// SessionAction is an append-only audit log entry. Never mutated or deleted
// except by session deletion.
type SessionAction struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	Kind        ActionKind `json:"kind"`
	ActorID     string     `json:"actor_id"`
	CandidateID string     `json:"candidate_id,omitempty"`
	Ready       *bool      `json:"ready,omitempty"`
	Filters     *Filters   `json:"filters,omitempty"`
	At          time.Time  `json:"at"`

	// Seq is the store sequence the action was appended at.
	Seq int64 `json:"seq"`
}

// SessionSnapshot is the authoritative state of one session topic, used to
// resynchronize a client view.
type SessionSnapshot struct {
	Session      *Session      `json:"session"`
	Participants []Participant `json:"participants"`
}
