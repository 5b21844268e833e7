package lists

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/shufflesync/internal/domain"
	"github.com/roach88/shufflesync/internal/store"
)

// Get returns the list with id.
func (e *Engine) Get(ctx context.Context, id string) (*domain.List, error) {
	return e.getList(ctx, e.store, "lists.get", id)
}

// Collaborators returns the list's collaborators ordered by insertion.
func (e *Engine) Collaborators(ctx context.Context, listID string) ([]domain.Collaborator, error) {
	return collaborators(ctx, e.store, listID)
}

// Items returns the list's items ordered by insertion.
func (e *Engine) Items(ctx context.Context, listID string) ([]domain.ListItem, error) {
	return items(ctx, e.store, listID)
}

// ListsFor returns every list userID holds a role on, ordered by when the
// role was granted.
func (e *Engine) ListsFor(ctx context.Context, userID string) ([]domain.List, error) {
	const op = "lists.listsFor"
	recs, err := e.store.Query(ctx, TableCollaborators, store.Filter{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out := make([]domain.List, 0, len(recs))
	for _, rec := range recs {
		c, err := decodeCollaborator(rec)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		l, err := e.getList(ctx, e.store, op, c.ListID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, nil
}

// Snapshot returns the list, collaborators, and items read in one atomic
// block, suitable for seeding or resynchronizing a client view.
func (e *Engine) Snapshot(ctx context.Context, listID string) (*domain.ListSnapshot, error) {
	const op = "lists.snapshot"
	var snap domain.ListSnapshot
	err := e.store.Atomic(ctx, func(tx store.Tx) error {
		l, err := e.getList(ctx, tx, op, listID)
		if err != nil {
			return err
		}
		snap.List = l
		if snap.Collaborators, err = collaborators(ctx, tx, listID); err != nil {
			return err
		}
		snap.Items, err = items(ctx, tx, listID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func collaborators(ctx context.Context, r store.Reader, listID string) ([]domain.Collaborator, error) {
	recs, err := r.Query(ctx, TableCollaborators, store.Filter{"list_id": listID})
	if err != nil {
		return nil, fmt.Errorf("lists.collaborators: %w", err)
	}
	out := make([]domain.Collaborator, 0, len(recs))
	for _, rec := range recs {
		c, err := decodeCollaborator(rec)
		if err != nil {
			return nil, fmt.Errorf("lists.collaborators: %w", err)
		}
		out = append(out, *c)
	}
	return out, nil
}

func items(ctx context.Context, r store.Reader, listID string) ([]domain.ListItem, error) {
	recs, err := r.Query(ctx, TableItems, store.Filter{"list_id": listID})
	if err != nil {
		return nil, fmt.Errorf("lists.items: %w", err)
	}
	out := make([]domain.ListItem, 0, len(recs))
	for _, rec := range recs {
		it, err := decodeItem(rec)
		if err != nil {
			return nil, fmt.Errorf("lists.items: %w", err)
		}
		out = append(out, *it)
	}
	return out, nil
}
