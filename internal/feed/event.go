package feed

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Topic addresses one session or one list.
type Topic string

const (
	sessionPrefix = "session:"
	listPrefix    = "list:"
)

// SessionTopic returns the topic for session id.
func SessionTopic(id string) Topic { return Topic(sessionPrefix + id) }

// ListTopic returns the topic for list id.
func ListTopic(id string) Topic { return Topic(listPrefix + id) }

// ParseTopic validates a topic string of the form "session:<id>" or
// "list:<id>".
func ParseTopic(s string) (Topic, error) {
	for _, prefix := range []string{sessionPrefix, listPrefix} {
		if id, ok := strings.CutPrefix(s, prefix); ok && id != "" {
			return Topic(s), nil
		}
	}
	return "", fmt.Errorf("invalid topic %q", s)
}

// ID returns the session or list id the topic addresses.
func (t Topic) ID() string {
	s := string(t)
	if id, ok := strings.CutPrefix(s, sessionPrefix); ok {
		return id
	}
	if id, ok := strings.CutPrefix(s, listPrefix); ok {
		return id
	}
	return s
}

// Op is the kind of change an event describes.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"

	// OpEvent is an application event that does not map to one record write.
	OpEvent Op = "event"
)

// EntityKind names the record type an event concerns.
type EntityKind string

const (
	KindSession      EntityKind = "session"
	KindParticipant  EntityKind = "participant"
	KindList         EntityKind = "list"
	KindItem         EntityKind = "item"
	KindCollaborator EntityKind = "collaborator"
	KindNote         EntityKind = "note"
)

// Event names published by the session and list engines.
const (
	EventSessionUpdated     = "SessionUpdated"
	EventSessionDeleted     = "SessionDeleted"
	EventParticipantJoined  = "ParticipantJoined"
	EventParticipantUpdated = "ParticipantUpdated"
	EventParticipantLeft    = "ParticipantLeft"
	EventEliminated         = "Eliminated"

	EventListUpdated         = "ListUpdated"
	EventListDeleted         = "ListDeleted"
	EventItemAdded           = "ItemAdded"
	EventItemDeleted         = "ItemDeleted"
	EventCollaboratorAdded   = "CollaboratorAdded"
	EventCollaboratorUpdated = "CollaboratorUpdated"
	EventCollaboratorRemoved = "CollaboratorRemoved"
	EventNoteChanged         = "NoteChanged"
)

// Event is one change notification on a topic.
//
// Delivery is at-least-once: the same ID may arrive more than once.
// Seq increases by one per (Publisher, Topic); consumers use it to detect
// missed events. There is no ordering across publishers.
type Event struct {
	ID        string          `json:"id"`
	Topic     Topic           `json:"topic"`
	Name      string          `json:"name"`
	Kind      EntityKind      `json:"kind"`
	Op        Op              `json:"op"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Publisher string          `json:"publisher"`
	Seq       int64           `json:"seq"`
	At        time.Time       `json:"at"`
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("decode %s: empty payload", e.Name)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s: %w", e.Name, err)
	}
	return nil
}

// Eliminated is the payload of EventEliminated.
type Eliminated struct {
	CandidateID string `json:"candidate_id"`
	ActorID     string `json:"actor_id"`
}

// NoteChanged is the payload of EventNoteChanged. Consumers re-fetch the
// note set for (RestaurantID, Context).
type NoteChanged struct {
	RestaurantID string `json:"restaurant_id"`
	Context      string `json:"context"`
}

// Removed is the payload of delete events: the id of the removed record.
type Removed struct {
	ID string `json:"id"`

	// Seq is the removed record's store sequence. Consumers use it to
	// order the removal against a re-insert of the same id.
	Seq int64 `json:"seq,omitempty"`
}
