package lists

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/shufflesync/internal/clock"
	"github.com/roach88/shufflesync/internal/domain"
	"github.com/roach88/shufflesync/internal/feed"
	"github.com/roach88/shufflesync/internal/ident"
	"github.com/roach88/shufflesync/internal/store"
)

// Store tables owned by the list engine.
const (
	TableLists         = "lists"
	TableCollaborators = "collaborators"
	TableItems         = "list_items"
	TableNotes         = "notes"
)

// DefaultMaxRetries bounds optimistic-concurrency retries per operation.
const DefaultMaxRetries = 8

// Engine owns shared-list membership and collaborative mutation.
//
// Owner may do everything; Editor may mutate items and notes; Viewer may
// only read. Authorization is always checked against the stored
// collaborator row, never against caller-supplied roles.
//
// Thread-safety: Engine is safe for concurrent use.
type Engine struct {
	store  store.Store
	pub    *feed.Publisher
	ids    ident.Generator
	tokens ident.Generator
	clock  clock.Clock
	logger *slog.Logger

	maxRetries int
	closeTopic func(feed.Topic)
}

// Option configures an Engine.
type Option func(*Engine)

// WithIDs sets the generator for list and note ids.
func WithIDs(g ident.Generator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithTokens sets the share-link id generator.
func WithTokens(g ident.Generator) Option {
	return func(e *Engine) { e.tokens = g }
}

// WithClock sets the timestamp source.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMaxRetries bounds optimistic-concurrency retries per operation.
func WithMaxRetries(n int) Option {
	return func(e *Engine) { e.maxRetries = n }
}

// WithTopicCloser registers a hook run after a list is deleted.
func WithTopicCloser(fn func(feed.Topic)) Option {
	return func(e *Engine) { e.closeTopic = fn }
}

// New creates a list engine persisting to st and publishing through pub.
func New(st store.Store, pub *feed.Publisher, opts ...Option) *Engine {
	e := &Engine{
		store:      st,
		pub:        pub,
		ids:        ident.UUIDv7{},
		tokens:     ident.RandomTokens{},
		clock:      clock.System{},
		logger:     slog.Default(),
		maxRetries: DefaultMaxRetries,
		closeTopic: func(feed.Topic) {},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.maxRetries < 1 {
		e.maxRetries = 1
	}
	return e
}

func (e *Engine) retry(ctx context.Context, op string, fn func() error) error {
	err := store.Retry(ctx, e.maxRetries, fn)
	if errors.Is(err, store.ErrVersionConflict) {
		e.logger.Warn("lists: retries exhausted", "op", op, "error", err)
		return domain.Wrap(domain.CodeConcurrentModification, op, err)
	}
	return err
}

func (e *Engine) emit(ctx context.Context, listID, name string, kind feed.EntityKind, op feed.Op, payload any) {
	e.pub.Emit(ctx, feed.ListTopic(listID), name, kind, op, payload)
}

func (e *Engine) getList(ctx context.Context, r store.Reader, op, id string) (*domain.List, error) {
	rec, err := r.Get(ctx, TableLists, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.Errorf(domain.CodeNotFound, op, "list %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return decodeList(rec)
}

// findCollaborator returns nil, nil when the user has no role on the list.
func (e *Engine) findCollaborator(ctx context.Context, r store.Reader, listID, userID string) (*domain.Collaborator, error) {
	rec, err := r.Get(ctx, TableCollaborators, ident.CollaboratorID(listID, userID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeCollaborator(rec)
}

// authorize loads the list and the actor's collaborator row and checks the
// actor's role passes allow.
func (e *Engine) authorize(ctx context.Context, op, listID, actorID string, allow func(domain.ListRole) bool) (*domain.List, *domain.Collaborator, error) {
	list, err := e.getList(ctx, e.store, op, listID)
	if err != nil {
		return nil, nil, err
	}
	c, err := e.findCollaborator(ctx, e.store, listID, actorID)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	if c == nil {
		return nil, nil, domain.Errorf(domain.CodeNotAuthorized, op, "user %q has no access to list %q", actorID, listID)
	}
	if !allow(c.Role) {
		return nil, nil, domain.Errorf(domain.CodeNotAuthorized, op, "role %s may not perform this operation", c.Role)
	}
	return list, c, nil
}

// insertUnderList inserts a row that belongs to list, provided the list is
// still at the version the caller authorized against. A deleted list yields
// NOT_FOUND; a list changed since then yields store.ErrVersionConflict.
func (e *Engine) insertUnderList(ctx context.Context, op string, list *domain.List, table, key string, doc any) (store.Record, error) {
	var rec store.Record
	err := e.store.Atomic(ctx, func(tx store.Tx) error {
		if _, err := tx.Update(ctx, TableLists, list.ID, map[string]any{}, list.Version); err != nil {
			return err
		}
		var err error
		rec, err = tx.Insert(ctx, table, key, doc)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return store.Record{}, domain.Errorf(domain.CodeNotFound, op, "list %q not found", list.ID)
	}
	return rec, err
}

func isOwner(r domain.ListRole) bool { return r == domain.ListOwner }

func canEdit(r domain.ListRole) bool { return r.CanEdit() }

// normalizeText trims and NFC-normalizes user-entered text.
func normalizeText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func decodeList(rec store.Record) (*domain.List, error) {
	var l domain.List
	if err := rec.Decode(&l); err != nil {
		return nil, err
	}
	l.Version = rec.Version
	return &l, nil
}

func decodeCollaborator(rec store.Record) (*domain.Collaborator, error) {
	var c domain.Collaborator
	if err := rec.Decode(&c); err != nil {
		return nil, err
	}
	c.Version = rec.Version
	c.Seq = rec.Seq
	return &c, nil
}

func decodeItem(rec store.Record) (*domain.ListItem, error) {
	var it domain.ListItem
	if err := rec.Decode(&it); err != nil {
		return nil, err
	}
	it.Seq = rec.Seq
	return &it, nil
}

func decodeNote(rec store.Record) (*domain.Note, error) {
	var n domain.Note
	if err := rec.Decode(&n); err != nil {
		return nil, err
	}
	return &n, nil
}
