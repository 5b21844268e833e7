package session

import (
	"context"
	"fmt"

	"github.com/roach88/shufflesync/internal/domain"
	"github.com/roach88/shufflesync/internal/ident"
	"github.com/roach88/shufflesync/internal/store"
)

// Get returns the stored session.
func (e *Engine) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	return e.getSession(ctx, e.store, "session.get", sessionID)
}

// Lookup resolves a live join code to its session.
func (e *Engine) Lookup(ctx context.Context, code string) (*domain.Session, error) {
	return e.lookup(ctx, "session.lookup", ident.NormalizeCode(code))
}

// Participants returns the session's participants in join order.
func (e *Engine) Participants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	const op = "session.participants"

	recs, err := e.store.Query(ctx, TableParticipants, store.Filter{"session_id": sessionID})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out := make([]domain.Participant, 0, len(recs))
	for _, rec := range recs {
		p, err := decodeParticipant(rec)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, *p)
	}
	return out, nil
}

// Snapshot returns the session and its participants, for client resync.
func (e *Engine) Snapshot(ctx context.Context, sessionID string) (*domain.SessionSnapshot, error) {
	sess, err := e.getSession(ctx, e.store, "session.snapshot", sessionID)
	if err != nil {
		return nil, err
	}
	participants, err := e.Participants(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &domain.SessionSnapshot{Session: sess, Participants: participants}, nil
}

// Actions returns the session's action log in append order.
func (e *Engine) Actions(ctx context.Context, sessionID string) ([]domain.SessionAction, error) {
	const op = "session.actions"

	recs, err := e.store.Query(ctx, TableActions, store.Filter{"session_id": sessionID})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out := make([]domain.SessionAction, 0, len(recs))
	for _, rec := range recs {
		a, err := decodeAction(rec)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, a)
	}
	return out, nil
}

// ReplayEliminations rebuilds the eliminated set from the action log. It
// matches Session.EliminatedIDs for any session whose log is intact.
func (e *Engine) ReplayEliminations(ctx context.Context, sessionID string) ([]string, error) {
	actions, err := e.Actions(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []string
	for _, a := range actions {
		if a.Kind != domain.ActionEliminate || seen[a.CandidateID] {
			continue
		}
		seen[a.CandidateID] = true
		out = append(out, a.CandidateID)
	}
	return out, nil
}
