package lists

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/shufflesync/internal/domain"
	"github.com/roach88/shufflesync/internal/feed"
	"github.com/roach88/shufflesync/internal/store"
)

// AddNote attaches a note to (restaurantID, context). When context is a
// list id, the author must be an Owner or Editor of that list and the
// change is published on the list topic. Favorites and winners notes are
// personal and publish nothing.
func (e *Engine) AddNote(ctx context.Context, restaurantID, noteContext, authorID, text string) (*domain.Note, error) {
	const op = "lists.addNote"

	restaurantID = strings.TrimSpace(restaurantID)
	text = normalizeText(text)
	switch {
	case restaurantID == "":
		return nil, domain.Errorf(domain.CodeInvalidArgument, op, "restaurant id is required")
	case noteContext == "":
		return nil, domain.Errorf(domain.CodeInvalidArgument, op, "context is required")
	case authorID == "":
		return nil, domain.Errorf(domain.CodeInvalidArgument, op, "author id is required")
	case text == "":
		return nil, domain.Errorf(domain.CodeInvalidArgument, op, "note text is required")
	}

	note := domain.Note{
		ID:           e.ids.NewID(),
		RestaurantID: restaurantID,
		Context:      noteContext,
		AuthorID:     authorID,
		Text:         text,
		CreatedAt:    e.clock.Now(),
	}
	if !domain.IsListContext(noteContext) {
		if _, err := e.store.Insert(ctx, TableNotes, note.ID, note); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	} else {
		err := e.retry(ctx, op, func() error {
			list, _, err := e.authorize(ctx, op, noteContext, authorID, canEdit)
			if err != nil {
				return err
			}
			_, err = e.insertUnderList(ctx, op, list, TableNotes, note.ID, note)
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	e.noteChanged(ctx, note)
	e.logger.Info("lists: note added", "op", op, "note_id", note.ID, "context", noteContext, "actor_id", authorID)
	return &note, nil
}

// DeleteNote removes a note. The author may always delete it; on a list
// context any Owner or Editor may too.
func (e *Engine) DeleteNote(ctx context.Context, noteID, actorID string) error {
	const op = "lists.deleteNote"

	rec, err := e.store.Get(ctx, TableNotes, noteID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Errorf(domain.CodeNotFound, op, "note %q not found", noteID)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	note, err := decodeNote(rec)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if note.AuthorID != actorID {
		if !domain.IsListContext(note.Context) {
			return domain.Errorf(domain.CodeNotAuthorized, op, "only the author may delete this note")
		}
		if _, _, err := e.authorize(ctx, op, note.Context, actorID, canEdit); err != nil {
			return err
		}
	}

	if err := store.IgnoreNotFound(e.store.Delete(ctx, TableNotes, noteID)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	e.noteChanged(ctx, *note)
	e.logger.Info("lists: note deleted", "op", op, "note_id", noteID, "actor_id", actorID)
	return nil
}

// Notes returns the notes on (restaurantID, context) in creation order.
func (e *Engine) Notes(ctx context.Context, restaurantID, noteContext string) ([]domain.Note, error) {
	recs, err := e.store.Query(ctx, TableNotes, store.Filter{
		"restaurant_id": restaurantID,
		"context":       noteContext,
	})
	if err != nil {
		return nil, fmt.Errorf("lists.notes: %w", err)
	}
	out := make([]domain.Note, 0, len(recs))
	for _, rec := range recs {
		n, err := decodeNote(rec)
		if err != nil {
			return nil, fmt.Errorf("lists.notes: %w", err)
		}
		out = append(out, *n)
	}
	return out, nil
}

func (e *Engine) noteChanged(ctx context.Context, n domain.Note) {
	if !domain.IsListContext(n.Context) {
		return
	}
	e.emit(ctx, n.Context, feed.EventNoteChanged, feed.KindNote, feed.OpEvent,
		feed.NoteChanged{RestaurantID: n.RestaurantID, Context: n.Context})
}
