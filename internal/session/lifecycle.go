package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/shufflesync/internal/domain"
	"github.com/roach88/shufflesync/internal/feed"
	"github.com/roach88/shufflesync/internal/ident"
	"github.com/roach88/shufflesync/internal/store"
)

// JoinResult is returned by Join.
type JoinResult struct {
	Session     *domain.Session
	Participant *domain.Participant

	// Rejoined is true when the user was already a participant and nothing
	// was written.
	Rejoined bool
}

// Create starts a session in Waiting with hostUserID as Host.
//
// A fresh join code is drawn until one is free among live sessions; after
// codeAttempts collisions Create fails with CODE_GENERATION_EXHAUSTED.
// Nothing is published: no one can be subscribed yet.
func (e *Engine) Create(ctx context.Context, hostUserID string) (*domain.Session, error) {
	const op = "session.create"
	if hostUserID == "" {
		return nil, domain.Errorf(domain.CodeInvalidArgument, op, "host user id is required")
	}

	for attempt := 1; attempt <= e.codeAttempts; attempt++ {
		code, err := e.codes.NextCode()
		if err != nil {
			return nil, fmt.Errorf("%s: generate code: %w", op, err)
		}
		code = ident.NormalizeCode(code)

		sess, err := e.insertSession(ctx, code, hostUserID)
		if errors.Is(err, store.ErrAlreadyExists) {
			e.logger.Debug("session: join code collision", "op", op, "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		e.logger.Info("session: created",
			"op", op, "session_id", sess.ID, "actor_id", sess.HostParticipantID, "code", sess.Code)
		return sess, nil
	}

	return nil, domain.Errorf(domain.CodeCodeGenerationExhausted, op,
		"no free join code after %d attempts", e.codeAttempts)
}

func (e *Engine) insertSession(ctx context.Context, code, hostUserID string) (*domain.Session, error) {
	now := e.clock.Now()
	sessionID := e.ids.NewID()
	host := domain.Participant{
		ID:        ident.ParticipantID(sessionID, hostUserID),
		SessionID: sessionID,
		UserID:    hostUserID,
		Role:      domain.RoleHost,
		JoinedAt:  now,
	}
	sess := &domain.Session{
		ID:                sessionID,
		Code:              code,
		HostUserID:        hostUserID,
		HostParticipantID: host.ID,
		Status:            domain.StatusWaiting,
		CreatedAt:         now,
	}

	err := e.store.Atomic(ctx, func(tx store.Tx) error {
		if _, err := tx.Insert(ctx, TableCodes, code, codeReservation{Code: code, SessionID: sessionID}); err != nil {
			return err
		}
		rec, err := tx.Insert(ctx, TableSessions, sessionID, sess)
		if err != nil {
			return err
		}
		sess.Version = rec.Version
		_, err = tx.Insert(ctx, TableParticipants, host.ID, host)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Join adds userID as a Guest of the session carrying code.
//
// Joining again returns the existing participant with Rejoined set for as
// long as the code resolves. New participants are admitted only while the
// session is Waiting or Configuring; otherwise Join fails with
// SESSION_NOT_JOINABLE.
//
// A completed session releases its code, so Join fails with
// SESSION_NOT_JOINABLE for members too. Members read a finished session by
// id through Snapshot.
func (e *Engine) Join(ctx context.Context, code, userID string) (*JoinResult, error) {
	const op = "session.join"
	if userID == "" {
		return nil, domain.Errorf(domain.CodeInvalidArgument, op, "user id is required")
	}
	code = ident.NormalizeCode(code)

	var result *JoinResult
	err := e.retry(ctx, op, func() error {
		sess, err := e.lookup(ctx, op, code)
		if err != nil {
			return err
		}

		existing, err := e.findParticipant(ctx, e.store, sess.ID, userID)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if existing != nil {
			result = &JoinResult{Session: sess, Participant: existing, Rejoined: true}
			return nil
		}

		if !sess.Status.Joinable() {
			return domain.Errorf(domain.CodeSessionNotJoinable, op, "session is %s", sess.Status)
		}

		p := &domain.Participant{
			ID:        ident.ParticipantID(sess.ID, userID),
			SessionID: sess.ID,
			UserID:    userID,
			Role:      domain.RoleGuest,
			JoinedAt:  e.clock.Now(),
		}
		err = e.store.Atomic(ctx, func(tx store.Tx) error {
			// Guard write: fails if the session moved (e.g. started)
			// since it was read.
			rec, err := tx.Update(ctx, TableSessions, sess.ID, map[string]any{}, sess.Version)
			if err != nil {
				return err
			}
			sess.Version = rec.Version

			prec, err := tx.Insert(ctx, TableParticipants, p.ID, p)
			if err != nil {
				return err
			}
			p.Version, p.Seq = prec.Version, prec.Seq

			return e.appendAction(ctx, tx, domain.SessionAction{
				SessionID: sess.ID,
				Kind:      domain.ActionJoin,
				ActorID:   p.ID,
			})
		})
		if errors.Is(err, store.ErrAlreadyExists) {
			// A concurrent Join by the same user won; return its row.
			existing, ferr := e.findParticipant(ctx, e.store, sess.ID, userID)
			if ferr != nil || existing == nil {
				return fmt.Errorf("%s: %w", op, err)
			}
			result = &JoinResult{Session: sess, Participant: existing, Rejoined: true}
			return nil
		}
		if err != nil {
			return err
		}

		result = &JoinResult{Session: sess, Participant: p}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.Rejoined {
		e.emit(ctx, result.Session.ID, feed.EventParticipantJoined, feed.KindParticipant, feed.OpInsert, result.Participant)
		e.logger.Info("session: joined",
			"op", op, "session_id", result.Session.ID, "actor_id", result.Participant.ID)
	}
	return result, nil
}

// lookup resolves a live join code. Unknown codes are SESSION_NOT_JOINABLE.
func (e *Engine) lookup(ctx context.Context, op, code string) (*domain.Session, error) {
	rec, err := e.store.Get(ctx, TableCodes, code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.Errorf(domain.CodeSessionNotJoinable, op, "no session with code %q", code)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var res codeReservation
	if err := rec.Decode(&res); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	sess, err := e.getSession(ctx, e.store, op, res.SessionID)
	if domain.IsNotFound(err) {
		return nil, domain.Errorf(domain.CodeSessionNotJoinable, op, "no session with code %q", code)
	}
	return sess, err
}

// Leave removes userID from the session. Leaving a session one is not in is
// a no-op. A leaving Host leaves the session without a host; no one is
// promoted.
func (e *Engine) Leave(ctx context.Context, sessionID, userID string) error {
	const op = "session.leave"

	p, err := e.findParticipant(ctx, e.store, sessionID, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if p == nil {
		return nil
	}

	err = e.store.Atomic(ctx, func(tx store.Tx) error {
		if err := tx.Delete(ctx, TableParticipants, p.ID); err != nil {
			return err
		}
		if p.Role == domain.RoleHost {
			_, err := tx.Update(ctx, TableSessions, sessionID,
				map[string]any{"host_participant_id": ""}, store.AnyVersion)
			if err := store.IgnoreNotFound(err); err != nil {
				return err
			}
		}
		return e.appendAction(ctx, tx, domain.SessionAction{
			SessionID: sessionID,
			Kind:      domain.ActionLeave,
			ActorID:   p.ID,
		})
	})
	if errors.Is(err, store.ErrNotFound) {
		// Concurrent leave removed the row first.
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	e.emit(ctx, sessionID, feed.EventParticipantLeft, feed.KindParticipant, feed.OpDelete,
		feed.Removed{ID: p.ID, Seq: p.Seq})
	e.logger.Info("session: left", "op", op, "session_id", sessionID, "actor_id", p.ID)
	return nil
}

// Delete destroys the session with its participants, action log, and join
// code. Only the user who created the session may delete it.
func (e *Engine) Delete(ctx context.Context, sessionID, userID string) error {
	const op = "session.delete"

	sess, err := e.getSession(ctx, e.store, op, sessionID)
	if err != nil {
		return err
	}
	if sess.HostUserID != userID {
		return domain.Errorf(domain.CodeNotAuthorized, op, "only the host may delete the session")
	}

	err = e.store.Atomic(ctx, func(tx store.Tx) error {
		for _, table := range []string{TableParticipants, TableActions} {
			recs, err := tx.Query(ctx, table, store.Filter{"session_id": sessionID})
			if err != nil {
				return err
			}
			for _, rec := range recs {
				if err := tx.Delete(ctx, table, rec.Key); err != nil {
					return err
				}
			}
		}
		if err := releaseCode(ctx, tx, sess); err != nil {
			return err
		}
		return tx.Delete(ctx, TableSessions, sessionID)
	})
	if errors.Is(err, store.ErrNotFound) {
		return domain.Errorf(domain.CodeNotFound, op, "session %q not found", sessionID)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	topic := feed.SessionTopic(sessionID)
	e.emit(ctx, sessionID, feed.EventSessionDeleted, feed.KindSession, feed.OpDelete, feed.Removed{ID: sessionID})
	e.closeTopic(topic)
	e.pub.Forget(topic)

	e.logger.Info("session: deleted", "op", op, "session_id", sessionID, "actor_id", sess.HostParticipantID)
	return nil
}

// releaseCode frees the session's join code if it still owns it.
func releaseCode(ctx context.Context, tx store.Tx, sess *domain.Session) error {
	rec, err := tx.Get(ctx, TableCodes, sess.Code)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	var res codeReservation
	if err := rec.Decode(&res); err != nil {
		return err
	}
	if res.SessionID != sess.ID {
		return nil
	}
	return tx.Delete(ctx, TableCodes, sess.Code)
}
