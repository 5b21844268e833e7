package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinel errors returned by every Store implementation.
var (
	// ErrNotFound is returned when no record exists for (table, key).
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyExists is returned by Insert when (table, key) is taken.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrVersionConflict is returned by Update when the record's version
	// differs from expectedVersion.
	ErrVersionConflict = errors.New("version conflict")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store closed")
)

// AnyVersion makes Update unconditional.
const AnyVersion int64 = 0

// Record is one stored document.
type Record struct {
	Table string
	Key   string

	// Version starts at 1 on insert and increases by one on every update.
	Version int64

	// Seq is the store-wide logical sequence assigned at insert. Query
	// results are ordered by Seq.
	Seq int64

	// Data is the JSON object document.
	Data json.RawMessage
}

// Decode unmarshals the record's document into v.
func (r Record) Decode(v any) error {
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("decode %s/%s: %w", r.Table, r.Key, err)
	}
	return nil
}

// Filter selects records whose top-level scalar fields equal the given
// values. String fields compare by value; numbers and booleans compare by
// their JSON text ("true", "42").
type Filter map[string]string

// Reader is the read half of the store contract.
type Reader interface {
	// Get returns the record for (table, key) or ErrNotFound.
	Get(ctx context.Context, table, key string) (Record, error)

	// Query returns all records in table matching filter, ordered by Seq.
	// An empty filter returns the whole table.
	Query(ctx context.Context, table string, filter Filter) ([]Record, error)
}

// Writer is the write half of the store contract.
type Writer interface {
	// Insert creates (table, key) with doc, or returns ErrAlreadyExists.
	// doc must marshal to a JSON object.
	Insert(ctx context.Context, table, key string, doc any) (Record, error)

	// Update merges patch's top-level fields into the document. If
	// expectedVersion is not AnyVersion and differs from the stored version,
	// Update returns ErrVersionConflict and changes nothing.
	Update(ctx context.Context, table, key string, patch any, expectedVersion int64) (Record, error)

	// Delete removes (table, key) or returns ErrNotFound.
	Delete(ctx context.Context, table, key string) error
}

// Tx is the view of the store inside an Atomic block.
type Tx interface {
	Reader
	Writer
}

// Store is the shared transactional document store the engines persist to.
// Implementations: Memory (tests, single process) and sqlstore.Store.
type Store interface {
	Tx

	// Atomic runs fn so that all of its writes commit together or not at
	// all. Returning an error from fn rolls back.
	Atomic(ctx context.Context, fn func(tx Tx) error) error

	Close() error
}

// Retry runs fn until it returns nil, an error other than
// ErrVersionConflict, or attempts are exhausted. The read-modify-write cycle
// lives inside fn, so each attempt re-reads the current version.
//
// On exhaustion the returned error still matches ErrVersionConflict.
func Retry(ctx context.Context, attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = fn()
		if !errors.Is(err, ErrVersionConflict) {
			return err
		}
	}
	return fmt.Errorf("retries exhausted after %d attempts: %w", attempts, err)
}

// IgnoreNotFound returns nil for ErrNotFound and err otherwise.
func IgnoreNotFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
