package session

import (
	"context"

	"github.com/roach88/shufflesync/internal/domain"
	"github.com/roach88/shufflesync/internal/feed"
	"github.com/roach88/shufflesync/internal/store"
)

// EliminateResult is returned by Eliminate.
type EliminateResult struct {
	Session *domain.Session

	// Remaining is the number of candidates still in play.
	Remaining int

	// LastStanding is set when exactly one candidate remains, so the caller
	// can prompt for winner confirmation.
	LastStanding *domain.Candidate

	// Duplicate is true when the candidate was already eliminated and
	// nothing was written.
	Duplicate bool
}

func newEliminateResult(sess *domain.Session, duplicate bool) *EliminateResult {
	res := &EliminateResult{
		Session:   sess,
		Remaining: len(sess.Remaining()),
		Duplicate: duplicate,
	}
	if c, ok := sess.LastStanding(); ok {
		res.LastStanding = &c
	}
	return res
}

// UpdateFilters replaces the session filters. Allowed for any participant
// while Waiting or Configuring; the first call moves Waiting → Configuring.
func (e *Engine) UpdateFilters(ctx context.Context, sessionID, userID string, filters domain.Filters) (*domain.Session, error) {
	const op = "session.updateFilters"

	var updated *domain.Session
	err := e.retry(ctx, op, func() error {
		sess, err := e.getSession(ctx, e.store, op, sessionID)
		if err != nil {
			return err
		}
		actor, err := e.member(ctx, e.store, op, sessionID, userID)
		if err != nil {
			return err
		}
		if !sess.Status.Joinable() {
			return domain.Errorf(domain.CodeInvalidTransition, op, "filters are frozen once the session is %s", sess.Status)
		}

		next := sess.Clone()
		next.Filters = filters.Clone()
		next.Status = domain.StatusConfiguring

		err = e.store.Atomic(ctx, func(tx store.Tx) error {
			rec, err := tx.Update(ctx, TableSessions, sessionID, map[string]any{
				"filters": next.Filters,
				"status":  next.Status,
			}, sess.Version)
			if err != nil {
				return err
			}
			next.Version = rec.Version

			f := next.Filters.Clone()
			return e.appendAction(ctx, tx, domain.SessionAction{
				SessionID: sessionID,
				Kind:      domain.ActionUpdateFilters,
				ActorID:   actor.ID,
				Filters:   &f,
			})
		})
		if err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.emit(ctx, sessionID, feed.EventSessionUpdated, feed.KindSession, feed.OpUpdate, updated)
	e.logger.Info("session: filters updated",
		"op", op, "session_id", sessionID, "status", string(updated.Status))
	return updated, nil
}

// SetReady records a participant's readiness. It does not start the
// session. Allowed only before the session is Active; setting the current
// value again is a no-op.
func (e *Engine) SetReady(ctx context.Context, sessionID, userID string, ready bool) (*domain.Participant, error) {
	const op = "session.setReady"

	var (
		updated *domain.Participant
		changed bool
	)
	err := e.retry(ctx, op, func() error {
		sess, err := e.getSession(ctx, e.store, op, sessionID)
		if err != nil {
			return err
		}
		p, err := e.member(ctx, e.store, op, sessionID, userID)
		if err != nil {
			return err
		}
		if !sess.Status.Joinable() {
			return domain.Errorf(domain.CodeInvalidTransition, op, "readiness is fixed once the session is %s", sess.Status)
		}
		if p.IsReady == ready {
			updated, changed = p, false
			return nil
		}

		err = e.store.Atomic(ctx, func(tx store.Tx) error {
			rec, err := tx.Update(ctx, TableParticipants, p.ID, map[string]any{"is_ready": ready}, p.Version)
			if err != nil {
				return err
			}
			p.IsReady = ready
			p.Version = rec.Version

			r := ready
			return e.appendAction(ctx, tx, domain.SessionAction{
				SessionID: sessionID,
				Kind:      domain.ActionReady,
				ActorID:   p.ID,
				Ready:     &r,
			})
		})
		if err != nil {
			return err
		}
		updated, changed = p, true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		e.emit(ctx, sessionID, feed.EventParticipantUpdated, feed.KindParticipant, feed.OpUpdate, updated)
		e.logger.Info("session: readiness set",
			"op", op, "session_id", sessionID, "actor_id", updated.ID, "ready", ready)
	}
	return updated, nil
}

// Start freezes candidates and moves Configuring → Active. Host only.
// Candidate resolution is the caller's job.
func (e *Engine) Start(ctx context.Context, sessionID, userID string, candidates []domain.Candidate) (*domain.Session, error) {
	const op = "session.start"

	if err := validateCandidates(op, candidates); err != nil {
		return nil, err
	}

	var updated *domain.Session
	err := e.retry(ctx, op, func() error {
		sess, err := e.getSession(ctx, e.store, op, sessionID)
		if err != nil {
			return err
		}
		actor, err := e.member(ctx, e.store, op, sessionID, userID)
		if err != nil {
			return err
		}
		if actor.ID != sess.HostParticipantID {
			return domain.Errorf(domain.CodeNotAuthorized, op, "only the host may start the session")
		}
		if sess.Status != domain.StatusConfiguring {
			return domain.Errorf(domain.CodeInvalidTransition, op, "cannot start a %s session", sess.Status)
		}

		now := e.clock.Now()
		next := sess.Clone()
		next.Status = domain.StatusActive
		next.Candidates = append([]domain.Candidate(nil), candidates...)
		next.StartedAt = &now

		err = e.store.Atomic(ctx, func(tx store.Tx) error {
			rec, err := tx.Update(ctx, TableSessions, sessionID, map[string]any{
				"status":     next.Status,
				"candidates": next.Candidates,
				"started_at": now,
			}, sess.Version)
			if err != nil {
				return err
			}
			next.Version = rec.Version
			return e.appendAction(ctx, tx, domain.SessionAction{
				SessionID: sessionID,
				Kind:      domain.ActionStart,
				ActorID:   actor.ID,
			})
		})
		if err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.emit(ctx, sessionID, feed.EventSessionUpdated, feed.KindSession, feed.OpUpdate, updated)
	e.logger.Info("session: started",
		"op", op, "session_id", sessionID, "candidates", len(updated.Candidates))
	return updated, nil
}

func validateCandidates(op string, candidates []domain.Candidate) error {
	if len(candidates) == 0 {
		return domain.Errorf(domain.CodeInvalidArgument, op, "at least one candidate is required")
	}
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		if c.ID == "" {
			return domain.Errorf(domain.CodeInvalidArgument, op, "candidate id is required")
		}
		if seen[c.ID] {
			return domain.Errorf(domain.CodeInvalidArgument, op, "duplicate candidate %q", c.ID)
		}
		seen[c.ID] = true
	}
	return nil
}

// Eliminate removes candidateID from play.
//
// Re-eliminating a candidate is a no-op that publishes nothing. The last
// remaining candidate cannot be eliminated; declare it the winner instead.
// Reaching one remaining candidate does not complete the session.
func (e *Engine) Eliminate(ctx context.Context, sessionID, userID, candidateID string) (*EliminateResult, error) {
	const op = "session.eliminate"

	var (
		result  *EliminateResult
		actorID string
	)
	err := e.retry(ctx, op, func() error {
		sess, err := e.getSession(ctx, e.store, op, sessionID)
		if err != nil {
			return err
		}
		actor, err := e.member(ctx, e.store, op, sessionID, userID)
		if err != nil {
			return err
		}
		actorID = actor.ID
		if sess.Status != domain.StatusActive {
			return domain.Errorf(domain.CodeInvalidTransition, op, "cannot eliminate in a %s session", sess.Status)
		}
		if _, ok := sess.Candidate(candidateID); !ok {
			return domain.Errorf(domain.CodeUnknownCandidate, op, "candidate %q is not in the session", candidateID)
		}
		if sess.IsEliminated(candidateID) {
			result = newEliminateResult(sess, true)
			return nil
		}
		if len(sess.Remaining()) <= 1 {
			return domain.Errorf(domain.CodeInvalidTransition, op, "cannot eliminate the last remaining candidate")
		}

		next := sess.Clone()
		next.EliminatedIDs = append(next.EliminatedIDs, candidateID)

		// Conditional on the version read above: a concurrent elimination
		// bumps it, and the retry re-reads and appends to the new set.
		err = e.store.Atomic(ctx, func(tx store.Tx) error {
			rec, err := tx.Update(ctx, TableSessions, sessionID,
				map[string]any{"eliminated_ids": next.EliminatedIDs}, sess.Version)
			if err != nil {
				return err
			}
			next.Version = rec.Version
			return e.appendAction(ctx, tx, domain.SessionAction{
				SessionID:   sessionID,
				Kind:        domain.ActionEliminate,
				ActorID:     actor.ID,
				CandidateID: candidateID,
			})
		})
		if err != nil {
			return err
		}
		result = newEliminateResult(next, false)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.Duplicate {
		e.emit(ctx, sessionID, feed.EventEliminated, feed.KindSession, feed.OpEvent,
			feed.Eliminated{CandidateID: candidateID, ActorID: actorID})
		e.logger.Info("session: eliminated",
			"op", op, "session_id", sessionID, "actor_id", actorID,
			"candidate_id", candidateID, "remaining", result.Remaining)
	}
	return result, nil
}

// DeclareWinner completes the session with candidateID as winner.
//
// The candidate is checked against the stored session, so a candidate
// eliminated by someone else is rejected even if the caller has not seen
// that elimination yet. The host may declare any remaining candidate; a
// guest may only confirm the last one standing.
func (e *Engine) DeclareWinner(ctx context.Context, sessionID, userID, candidateID string) (*domain.Session, error) {
	const op = "session.declareWinner"

	var updated *domain.Session
	err := e.retry(ctx, op, func() error {
		sess, err := e.getSession(ctx, e.store, op, sessionID)
		if err != nil {
			return err
		}
		actor, err := e.member(ctx, e.store, op, sessionID, userID)
		if err != nil {
			return err
		}
		if sess.Status != domain.StatusActive {
			return domain.Errorf(domain.CodeInvalidTransition, op, "cannot declare a winner in a %s session", sess.Status)
		}
		winner, ok := sess.Candidate(candidateID)
		if !ok {
			return domain.Errorf(domain.CodeUnknownCandidate, op, "candidate %q is not in the session", candidateID)
		}
		if sess.IsEliminated(candidateID) {
			return domain.Errorf(domain.CodeUnknownCandidate, op, "candidate %q was eliminated", candidateID)
		}
		if actor.ID != sess.HostParticipantID {
			last, ok := sess.LastStanding()
			if !ok || last.ID != candidateID {
				return domain.Errorf(domain.CodeNotAuthorized, op, "only the host may declare while several candidates remain")
			}
		}

		now := e.clock.Now()
		next := sess.Clone()
		next.Status = domain.StatusCompleted
		next.Winner = &winner
		next.CompletedAt = &now

		err = e.store.Atomic(ctx, func(tx store.Tx) error {
			rec, err := tx.Update(ctx, TableSessions, sessionID, map[string]any{
				"status":       next.Status,
				"winner":       winner,
				"completed_at": now,
			}, sess.Version)
			if err != nil {
				return err
			}
			next.Version = rec.Version

			if err := releaseCode(ctx, tx, sess); err != nil {
				return err
			}
			return e.appendAction(ctx, tx, domain.SessionAction{
				SessionID:   sessionID,
				Kind:        domain.ActionDeclareWinner,
				ActorID:     actor.ID,
				CandidateID: candidateID,
			})
		})
		if err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.emit(ctx, sessionID, feed.EventSessionUpdated, feed.KindSession, feed.OpUpdate, updated)
	e.logger.Info("session: winner declared",
		"op", op, "session_id", sessionID, "candidate_id", candidateID)
	return updated, nil
}
