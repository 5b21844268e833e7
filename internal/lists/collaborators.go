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

// JoinResult reports the collaborator row for a share-link join.
type JoinResult struct {
	List         *domain.List
	Collaborator *domain.Collaborator

	// AlreadyMember is true when the user held a role before the call.
	AlreadyMember bool
}

// JoinViaShareLink grants userID the Editor role on the list currently
// carrying linkID. Users who already hold a role, the owner included, get
// their existing row back unchanged.
//
// The collaborator insert commits together with a version check on the
// list, so a join racing a revoke either lands before the revoke or fails
// with InvalidOrExpiredLink.
func (e *Engine) JoinViaShareLink(ctx context.Context, linkID, userID string) (*JoinResult, error) {
	const op = "lists.joinViaShareLink"

	linkID = strings.TrimSpace(linkID)
	if userID == "" {
		return nil, domain.Errorf(domain.CodeInvalidArgument, op, "user id is required")
	}

	var result *JoinResult
	err := e.retry(ctx, op, func() error {
		list, err := e.byShareLink(ctx, op, linkID)
		if err != nil {
			return err
		}
		existing, err := e.findCollaborator(ctx, e.store, list.ID, userID)
		if err != nil {
			return err
		}
		if existing != nil {
			result = &JoinResult{List: list, Collaborator: existing, AlreadyMember: true}
			return nil
		}

		c := domain.Collaborator{
			ID:      ident.CollaboratorID(list.ID, userID),
			ListID:  list.ID,
			UserID:  userID,
			Role:    domain.ListEditor,
			AddedAt: e.clock.Now(),
		}
		err = e.store.Atomic(ctx, func(tx store.Tx) error {
			if _, err := tx.Update(ctx, TableLists, list.ID, map[string]any{}, list.Version); err != nil {
				return err
			}
			rec, err := tx.Insert(ctx, TableCollaborators, c.ID, c)
			if err != nil {
				return err
			}
			c.Version = rec.Version
			c.Seq = rec.Seq
			return nil
		})
		if errors.Is(err, store.ErrAlreadyExists) {
			// A concurrent join for the same user committed first.
			return store.ErrVersionConflict
		}
		if errors.Is(err, store.ErrNotFound) {
			return domain.Errorf(domain.CodeInvalidOrExpiredLink, op, "list for link is gone")
		}
		if err != nil {
			return err
		}
		result = &JoinResult{List: list, Collaborator: &c}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.AlreadyMember {
		e.emit(ctx, result.List.ID, feed.EventCollaboratorAdded, feed.KindCollaborator, feed.OpInsert, result.Collaborator)
		e.logger.Info("lists: joined via link", "op", op, "list_id", result.List.ID, "actor_id", userID)
	}
	return result, nil
}

func (e *Engine) byShareLink(ctx context.Context, op, linkID string) (*domain.List, error) {
	if linkID == "" {
		return nil, domain.Errorf(domain.CodeInvalidOrExpiredLink, op, "empty link id")
	}
	recs, err := e.store.Query(ctx, TableLists, store.Filter{
		"share_link_id": linkID,
		"is_shareable":  "true",
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(recs) == 0 {
		return nil, domain.Errorf(domain.CodeInvalidOrExpiredLink, op, "no shareable list for link")
	}
	return decodeList(recs[0])
}

// AddCollaborator grants userID an Editor or Viewer role. Owner only.
// Adding a user who already holds a role returns the existing row.
func (e *Engine) AddCollaborator(ctx context.Context, listID, actorID, userID string, role domain.ListRole) (*domain.Collaborator, error) {
	const op = "lists.addCollaborator"

	if userID == "" {
		return nil, domain.Errorf(domain.CodeInvalidArgument, op, "user id is required")
	}
	if role != domain.ListEditor && role != domain.ListViewer {
		return nil, domain.Errorf(domain.CodeInvalidArgument, op, "role must be editor or viewer, got %q", role)
	}

	var (
		c        domain.Collaborator
		existing *domain.Collaborator
	)
	err := e.retry(ctx, op, func() error {
		list, _, err := e.authorize(ctx, op, listID, actorID, isOwner)
		if err != nil {
			return err
		}

		c = domain.Collaborator{
			ID:      ident.CollaboratorID(listID, userID),
			ListID:  listID,
			UserID:  userID,
			Role:    role,
			AddedAt: e.clock.Now(),
		}
		rec, err := e.insertUnderList(ctx, op, list, TableCollaborators, c.ID, c)
		if errors.Is(err, store.ErrAlreadyExists) {
			existing, err = e.findCollaborator(ctx, e.store, listID, userID)
			if err != nil {
				return err
			}
			if existing == nil {
				return store.ErrVersionConflict
			}
			return nil
		}
		if err != nil {
			return err
		}
		c.Version = rec.Version
		c.Seq = rec.Seq
		return nil
	})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	e.emit(ctx, listID, feed.EventCollaboratorAdded, feed.KindCollaborator, feed.OpInsert, c)
	e.logger.Info("lists: collaborator added", "op", op, "list_id", listID, "user_id", userID, "role", role, "actor_id", actorID)
	return &c, nil
}

// ChangeRole switches a collaborator between Editor and Viewer. Owner only.
// The owner's own role cannot change.
func (e *Engine) ChangeRole(ctx context.Context, listID, actorID, userID string, role domain.ListRole) (*domain.Collaborator, error) {
	const op = "lists.changeRole"

	if role != domain.ListEditor && role != domain.ListViewer {
		return nil, domain.Errorf(domain.CodeInvalidArgument, op, "role must be editor or viewer, got %q", role)
	}

	var (
		updated *domain.Collaborator
		changed bool
	)
	err := e.retry(ctx, op, func() error {
		if _, _, err := e.authorize(ctx, op, listID, actorID, isOwner); err != nil {
			return err
		}
		target, err := e.findCollaborator(ctx, e.store, listID, userID)
		if err != nil {
			return err
		}
		if target == nil {
			return domain.Errorf(domain.CodeNotFound, op, "user %q is not a collaborator", userID)
		}
		if target.Role == domain.ListOwner {
			return domain.Errorf(domain.CodeNotAuthorized, op, "the owner's role cannot change")
		}
		if target.Role == role {
			updated = target
			return nil
		}
		rec, err := e.store.Update(ctx, TableCollaborators, target.ID, map[string]any{"role": role}, target.Version)
		if err != nil {
			return err
		}
		updated, err = decodeCollaborator(rec)
		changed = err == nil
		return err
	})
	if err != nil || !changed {
		return updated, err
	}

	e.emit(ctx, listID, feed.EventCollaboratorUpdated, feed.KindCollaborator, feed.OpUpdate, updated)
	e.logger.Info("lists: role changed", "op", op, "list_id", listID, "user_id", userID, "role", role, "actor_id", actorID)
	return updated, nil
}

// RemoveCollaborator revokes userID's role. The owner may remove anyone
// but themselves; any collaborator may remove themselves. Removing a user
// with no role is a no-op.
func (e *Engine) RemoveCollaborator(ctx context.Context, listID, userID, actorID string) error {
	const op = "lists.removeCollaborator"

	if _, err := e.getList(ctx, e.store, op, listID); err != nil {
		return err
	}
	actor, err := e.findCollaborator(ctx, e.store, listID, actorID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if actor == nil || (actorID != userID && actor.Role != domain.ListOwner) {
		return domain.Errorf(domain.CodeNotAuthorized, op, "user %q may not remove %q", actorID, userID)
	}

	target, err := e.findCollaborator(ctx, e.store, listID, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if target == nil {
		return nil
	}
	if target.Role == domain.ListOwner {
		return domain.Errorf(domain.CodeNotAuthorized, op, "the owner cannot be removed")
	}

	err = e.store.Delete(ctx, TableCollaborators, target.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	e.emit(ctx, listID, feed.EventCollaboratorRemoved, feed.KindCollaborator, feed.OpDelete, feed.Removed{ID: target.ID, Seq: target.Seq})
	e.logger.Info("lists: collaborator removed", "op", op, "list_id", listID, "user_id", userID, "actor_id", actorID)
	return nil
}
