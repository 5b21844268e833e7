package lists

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/shufflesync/internal/domain"
	"github.com/roach88/shufflesync/internal/feed"
	"github.com/roach88/shufflesync/internal/ident"
	"github.com/roach88/shufflesync/internal/store"
)

// AddItemResult reports the item for a pointer and whether this call
// created it.
type AddItemResult struct {
	Item    *domain.ListItem
	Created bool
}

// AddItem places a restaurant pointer in a list. Owner or Editor only.
//
// The item id is derived from (listID, restaurantID), so concurrent adds of
// the same restaurant converge on one item. Adding a restaurant already in
// the list returns the existing item and publishes nothing.
func (e *Engine) AddItem(ctx context.Context, listID, actorID string, p domain.Pointer) (*AddItemResult, error) {
	const op = "lists.addItem"

	p.RestaurantID = strings.TrimSpace(p.RestaurantID)
	if p.RestaurantID == "" {
		return nil, domain.Errorf(domain.CodeInvalidArgument, op, "restaurant id is required")
	}

	var (
		item     domain.ListItem
		existing *domain.ListItem
	)
	err := e.retry(ctx, op, func() error {
		list, _, err := e.authorize(ctx, op, listID, actorID, canEdit)
		if err != nil {
			return err
		}

		item = domain.ListItem{
			ID:               ident.ListItemID(listID, p.RestaurantID),
			ListID:           listID,
			RestaurantID:     p.RestaurantID,
			RestaurantSource: p.RestaurantSource,
			Name:             normalizeText(p.Name),
			Address:          normalizeText(p.Address),
			AddedBy:          actorID,
			CreatedAt:        e.clock.Now(),
		}
		rec, err := e.insertUnderList(ctx, op, list, TableItems, item.ID, item)
		if errors.Is(err, store.ErrAlreadyExists) {
			rec, err = e.store.Get(ctx, TableItems, item.ID)
			if errors.Is(err, store.ErrNotFound) {
				return store.ErrVersionConflict
			}
			if err != nil {
				return err
			}
			existing, err = decodeItem(rec)
			return err
		}
		if err != nil {
			return err
		}
		item.Seq = rec.Seq
		return nil
	})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &AddItemResult{Item: existing}, nil
	}

	e.emit(ctx, listID, feed.EventItemAdded, feed.KindItem, feed.OpInsert, item)
	e.logger.Info("lists: item added", "op", op, "list_id", listID, "item_id", item.ID, "actor_id", actorID)
	return &AddItemResult{Item: &item, Created: true}, nil
}

// RemoveItem deletes an item. Owner or Editor of the item's list only.
// Removing an item that does not exist is a no-op.
func (e *Engine) RemoveItem(ctx context.Context, itemID, actorID string) error {
	const op = "lists.removeItem"

	rec, err := e.store.Get(ctx, TableItems, itemID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	item, err := decodeItem(rec)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, _, err := e.authorize(ctx, op, item.ListID, actorID, canEdit); err != nil {
		return err
	}

	err = e.store.Delete(ctx, TableItems, itemID)
	if errors.Is(err, store.ErrNotFound) {
		// A concurrent remover won.
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	e.emit(ctx, item.ListID, feed.EventItemDeleted, feed.KindItem, feed.OpDelete, feed.Removed{ID: itemID, Seq: item.Seq})
	e.logger.Info("lists: item removed", "op", op, "list_id", item.ListID, "item_id", itemID, "actor_id", actorID)
	return nil
}
