package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/shufflesync/internal/clock"
	"github.com/roach88/shufflesync/internal/domain"
	"github.com/roach88/shufflesync/internal/feed"
	"github.com/roach88/shufflesync/internal/ident"
	"github.com/roach88/shufflesync/internal/store"
)

// Store tables owned by the session engine.
const (
	TableSessions     = "sessions"
	TableParticipants = "participants"
	TableActions      = "session_actions"
	TableCodes        = "session_codes"
)

// Defaults for Engine options.
const (
	DefaultCodeAttempts = 5
	DefaultMaxRetries   = 8
)

// codeReservation maps a live join code to its session. Inserting it is the
// collision check: the code is the record key.
type codeReservation struct {
	Code      string `json:"code"`
	SessionID string `json:"session_id"`
}

// Engine owns the shuffle-session state machine.
//
// Every mutation is a read, a conditional write inside store.Atomic, and a
// best-effort publish. Version conflicts re-run the whole cycle up to
// maxRetries times before surfacing CONCURRENT_MODIFICATION.
//
// Thread-safety: Engine is safe for concurrent use; it holds no mutable
// state of its own.
type Engine struct {
	store  store.Store
	pub    *feed.Publisher
	ids    ident.Generator
	codes  ident.CodeSource
	clock  clock.Clock
	logger *slog.Logger

	codeAttempts int
	maxRetries   int
	closeTopic   func(feed.Topic)
}

// Option configures an Engine.
type Option func(*Engine)

// WithIDs sets the generator for session and action ids.
func WithIDs(g ident.Generator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithCodes sets the join code source.
func WithCodes(c ident.CodeSource) Option {
	return func(e *Engine) { e.codes = c }
}

// WithClock sets the timestamp source.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithCodeAttempts bounds join code collision retries.
func WithCodeAttempts(n int) Option {
	return func(e *Engine) { e.codeAttempts = n }
}

// WithMaxRetries bounds optimistic-concurrency retries per operation.
func WithMaxRetries(n int) Option {
	return func(e *Engine) { e.maxRetries = n }
}

// WithTopicCloser registers a hook run after a session is deleted, used to
// end feed and presence subscriptions on its topic.
func WithTopicCloser(fn func(feed.Topic)) Option {
	return func(e *Engine) { e.closeTopic = fn }
}

// New creates a session engine persisting to st and publishing through pub.
func New(st store.Store, pub *feed.Publisher, opts ...Option) *Engine {
	e := &Engine{
		store:        st,
		pub:          pub,
		ids:          ident.UUIDv7{},
		codes:        ident.RandomCodes{Length: ident.DefaultCodeLength},
		clock:        clock.System{},
		logger:       slog.Default(),
		codeAttempts: DefaultCodeAttempts,
		maxRetries:   DefaultMaxRetries,
		closeTopic:   func(feed.Topic) {},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.codeAttempts < 1 {
		e.codeAttempts = 1
	}
	if e.maxRetries < 1 {
		e.maxRetries = 1
	}
	return e
}

// retry runs fn under store.Retry and maps exhaustion to
// CONCURRENT_MODIFICATION.
func (e *Engine) retry(ctx context.Context, op string, fn func() error) error {
	err := store.Retry(ctx, e.maxRetries, fn)
	if errors.Is(err, store.ErrVersionConflict) {
		e.logger.Warn("session: retries exhausted", "op", op, "error", err)
		return domain.Wrap(domain.CodeConcurrentModification, op, err)
	}
	return err
}

func (e *Engine) emit(ctx context.Context, sessionID, name string, kind feed.EntityKind, op feed.Op, payload any) {
	e.pub.Emit(ctx, feed.SessionTopic(sessionID), name, kind, op, payload)
}

func (e *Engine) appendAction(ctx context.Context, tx store.Tx, a domain.SessionAction) error {
	a.ID = e.ids.NewID()
	a.At = e.clock.Now()
	if _, err := tx.Insert(ctx, TableActions, a.ID, a); err != nil {
		return fmt.Errorf("append action: %w", err)
	}
	return nil
}

func (e *Engine) getSession(ctx context.Context, r store.Reader, op, id string) (*domain.Session, error) {
	rec, err := r.Get(ctx, TableSessions, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.Errorf(domain.CodeNotFound, op, "session %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return decodeSession(rec)
}

// member returns the participant row for (sessionID, userID), or
// NOT_AUTHORIZED when the user is not in the session.
func (e *Engine) member(ctx context.Context, r store.Reader, op, sessionID, userID string) (*domain.Participant, error) {
	p, err := e.findParticipant(ctx, r, sessionID, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if p == nil {
		return nil, domain.Errorf(domain.CodeNotAuthorized, op, "user %q is not a participant", userID)
	}
	return p, nil
}

// findParticipant returns nil, nil when the user is not a participant.
func (e *Engine) findParticipant(ctx context.Context, r store.Reader, sessionID, userID string) (*domain.Participant, error) {
	rec, err := r.Get(ctx, TableParticipants, ident.ParticipantID(sessionID, userID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeParticipant(rec)
}

func decodeSession(rec store.Record) (*domain.Session, error) {
	var s domain.Session
	if err := rec.Decode(&s); err != nil {
		return nil, err
	}
	s.Version = rec.Version
	return &s, nil
}

func decodeParticipant(rec store.Record) (*domain.Participant, error) {
	var p domain.Participant
	if err := rec.Decode(&p); err != nil {
		return nil, err
	}
	p.Version = rec.Version
	p.Seq = rec.Seq
	return &p, nil
}

func decodeAction(rec store.Record) (domain.SessionAction, error) {
	var a domain.SessionAction
	if err := rec.Decode(&a); err != nil {
		return domain.SessionAction{}, err
	}
	a.Seq = rec.Seq
	return a, nil
}
