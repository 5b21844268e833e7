package domain

import "time"

// ListRole is a collaborator's role on a shared list.
type ListRole string

const (
	ListOwner  ListRole = "owner"
	ListEditor ListRole = "editor"
	ListViewer ListRole = "viewer"
)

// Valid reports whether r is a known role.
func (r ListRole) Valid() bool {
	switch r {
	case ListOwner, ListEditor, ListViewer:
		return true
	}
	return false
}

// CanEdit reports whether the role may mutate items and notes.
func (r ListRole) CanEdit() bool {
	return r == ListOwner || r == ListEditor
}

// List is a named collection of restaurant pointers owned by one user.
// ShareLinkID is non-empty iff IsShareable.
type List struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	IsShareable bool      `json:"is_shareable"`
	ShareLinkID string    `json:"share_link_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`

	Version int64 `json:"version"`
}

// Collaborator is the membership row for (list, user). Exactly one Owner
// exists per list and it matches List.OwnerID.
type Collaborator struct {
	ID      string    `json:"id"`
	ListID  string    `json:"list_id"`
	UserID  string    `json:"user_id"`
	Role    ListRole  `json:"role"`
	AddedAt time.Time `json:"added_at"`

	Version int64 `json:"version"`
	Seq     int64 `json:"seq"`
}

// Pointer references an external restaurant being placed in a list.
type Pointer struct {
	RestaurantID     string `json:"restaurant_id" yaml:"restaurant_id"`
	RestaurantSource string `json:"restaurant_source" yaml:"restaurant_source"`
	Name             string `json:"name" yaml:"name"`
	Address          string `json:"address,omitempty" yaml:"address,omitempty"`
}

// ListItem is a pointer placed in a list. (ListID, RestaurantID) is unique.
type ListItem struct {
	ID               string    `json:"id"`
	ListID           string    `json:"list_id"`
	RestaurantID     string    `json:"restaurant_id"`
	RestaurantSource string    `json:"restaurant_source"`
	Name             string    `json:"name"`
	Address          string    `json:"address,omitempty"`
	AddedBy          string    `json:"added_by"`
	CreatedAt        time.Time `json:"created_at"`

	// Seq is the store sequence the item was inserted at. A re-added item
	// gets a larger Seq than the deleted one it replaces.
	Seq int64 `json:"seq"`
}

// Note contexts that are not list ids.
const (
	NoteContextFavorites = "favorites"
	NoteContextWinners   = "winners"
)

// IsListContext reports whether a note context refers to a list id.
func IsListContext(context string) bool {
	return context != NoteContextFavorites && context != NoteContextWinners && context != ""
}

// Note is a free-text annotation on a (restaurant, context) pair.
type Note struct {
	ID           string    `json:"id"`
	RestaurantID string    `json:"restaurant_id"`
	Context      string    `json:"context"`
	AuthorID     string    `json:"author_id"`
	Text         string    `json:"text"`
	CreatedAt    time.Time `json:"created_at"`
}

// ListSnapshot is the authoritative state of one list topic.
type ListSnapshot struct {
	List          *List          `json:"list"`
	Collaborators []Collaborator `json:"collaborators"`
	Items         []ListItem     `json:"items"`
}
