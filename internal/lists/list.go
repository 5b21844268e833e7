package lists

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/shufflesync/internal/domain"
	"github.com/roach88/shufflesync/internal/feed"
	"github.com/roach88/shufflesync/internal/ident"
	"github.com/roach88/shufflesync/internal/store"
)

// Patch carries optional list metadata changes. Nil fields are unchanged.
type Patch struct {
	Title       *string
	Description *string
}

// CreateList creates a list owned by ownerID, with ownerID recorded as its
// Owner collaborator.
func (e *Engine) CreateList(ctx context.Context, ownerID, title, description string) (*domain.List, error) {
	const op = "lists.createList"
	if ownerID == "" {
		return nil, domain.Errorf(domain.CodeInvalidArgument, op, "owner id is required")
	}
	title = normalizeText(title)
	if title == "" {
		return nil, domain.Errorf(domain.CodeInvalidArgument, op, "title is required")
	}

	now := e.clock.Now()
	list := &domain.List{
		ID:          e.ids.NewID(),
		OwnerID:     ownerID,
		Title:       title,
		Description: normalizeText(description),
		CreatedAt:   now,
	}
	owner := domain.Collaborator{
		ID:      ident.CollaboratorID(list.ID, ownerID),
		ListID:  list.ID,
		UserID:  ownerID,
		Role:    domain.ListOwner,
		AddedAt: now,
	}

	err := e.store.Atomic(ctx, func(tx store.Tx) error {
		rec, err := tx.Insert(ctx, TableLists, list.ID, list)
		if err != nil {
			return err
		}
		list.Version = rec.Version
		_, err = tx.Insert(ctx, TableCollaborators, owner.ID, owner)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	e.logger.Info("lists: created", "op", op, "list_id", list.ID, "actor_id", ownerID)
	return list, nil
}

// UpdateList edits title and description. Owner only.
func (e *Engine) UpdateList(ctx context.Context, listID, actorID string, patch Patch) (*domain.List, error) {
	const op = "lists.updateList"

	fields := map[string]any{}
	if patch.Title != nil {
		title := normalizeText(*patch.Title)
		if title == "" {
			return nil, domain.Errorf(domain.CodeInvalidArgument, op, "title cannot be empty")
		}
		fields["title"] = title
	}
	if patch.Description != nil {
		fields["description"] = normalizeText(*patch.Description)
	}

	return e.updateList(ctx, op, listID, actorID, func(*domain.List) (map[string]any, error) {
		return fields, nil
	})
}

// GenerateShareLink issues a fresh share-link id and marks the list
// shareable. Any previous link stops working in the same write. Owner only.
func (e *Engine) GenerateShareLink(ctx context.Context, listID, actorID string) (*domain.List, error) {
	const op = "lists.generateShareLink"
	return e.updateList(ctx, op, listID, actorID, func(*domain.List) (map[string]any, error) {
		return map[string]any{
			"is_shareable":  true,
			"share_link_id": e.tokens.NewID(),
		}, nil
	})
}

// RevokeShareLink disables sharing. Owner only.
func (e *Engine) RevokeShareLink(ctx context.Context, listID, actorID string) (*domain.List, error) {
	const op = "lists.revokeShareLink"
	return e.updateList(ctx, op, listID, actorID, func(*domain.List) (map[string]any, error) {
		return map[string]any{
			"is_shareable":  false,
			"share_link_id": "",
		}, nil
	})
}

// updateList runs an owner-only conditional list update and publishes
// ListUpdated.
func (e *Engine) updateList(ctx context.Context, op, listID, actorID string, patchFor func(*domain.List) (map[string]any, error)) (*domain.List, error) {
	var updated *domain.List
	err := e.retry(ctx, op, func() error {
		list, _, err := e.authorize(ctx, op, listID, actorID, isOwner)
		if err != nil {
			return err
		}
		patch, err := patchFor(list)
		if err != nil {
			return err
		}
		rec, err := e.store.Update(ctx, TableLists, listID, patch, list.Version)
		if errors.Is(err, store.ErrNotFound) {
			return domain.Errorf(domain.CodeNotFound, op, "list %q not found", listID)
		}
		if err != nil {
			return err
		}
		updated, err = decodeList(rec)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.emit(ctx, listID, feed.EventListUpdated, feed.KindList, feed.OpUpdate, updated)
	e.logger.Info("lists: updated", "op", op, "list_id", listID, "actor_id", actorID)
	return updated, nil
}

// DeleteList removes the list with its collaborators, items, and the notes
// scoped to it, in one atomic write. Owner only.
func (e *Engine) DeleteList(ctx context.Context, listID, actorID string) error {
	const op = "lists.deleteList"

	if _, _, err := e.authorize(ctx, op, listID, actorID, isOwner); err != nil {
		return err
	}

	err := e.store.Atomic(ctx, func(tx store.Tx) error {
		cascade := []struct {
			table  string
			filter store.Filter
		}{
			{TableCollaborators, store.Filter{"list_id": listID}},
			{TableItems, store.Filter{"list_id": listID}},
			{TableNotes, store.Filter{"context": listID}},
		}
		for _, c := range cascade {
			recs, err := tx.Query(ctx, c.table, c.filter)
			if err != nil {
				return err
			}
			for _, rec := range recs {
				if err := tx.Delete(ctx, c.table, rec.Key); err != nil {
					return err
				}
			}
		}
		return tx.Delete(ctx, TableLists, listID)
	})
	if errors.Is(err, store.ErrNotFound) {
		return domain.Errorf(domain.CodeNotFound, op, "list %q not found", listID)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	topic := feed.ListTopic(listID)
	e.emit(ctx, listID, feed.EventListDeleted, feed.KindList, feed.OpDelete, feed.Removed{ID: listID})
	e.closeTopic(topic)
	e.pub.Forget(topic)

	e.logger.Info("lists: deleted", "op", op, "list_id", listID, "actor_id", actorID)
	return nil
}
