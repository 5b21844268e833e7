package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Memory is an in-process Store backed by maps.
//
// All operations serialize on one mutex. Atomic holds the mutex for the
// whole block and keeps an undo log so an error restores every touched
// record.
//
// Thread-safety: Memory is safe for concurrent use.
type Memory struct {
	mu     sync.Mutex
	tables map[string]map[string]*memRecord
	seq    *Sequence
	closed bool
}

type memRecord struct {
	rec    Record
	fields map[string]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		tables: make(map[string]map[string]*memRecord),
		seq:    NewSequence(),
	}
}

// Get implements Reader.
func (m *Memory) Get(ctx context.Context, table, key string) (Record, error) {
	var out Record
	err := m.locked(func(tx *memTx) error {
		var err error
		out, err = tx.Get(ctx, table, key)
		return err
	})
	return out, err
}

// Query implements Reader.
func (m *Memory) Query(ctx context.Context, table string, filter Filter) ([]Record, error) {
	var out []Record
	err := m.locked(func(tx *memTx) error {
		var err error
		out, err = tx.Query(ctx, table, filter)
		return err
	})
	return out, err
}

// Insert implements Writer.
func (m *Memory) Insert(ctx context.Context, table, key string, doc any) (Record, error) {
	var out Record
	err := m.locked(func(tx *memTx) error {
		var err error
		out, err = tx.Insert(ctx, table, key, doc)
		return err
	})
	return out, err
}

// Update implements Writer.
func (m *Memory) Update(ctx context.Context, table, key string, patch any, expectedVersion int64) (Record, error) {
	var out Record
	err := m.locked(func(tx *memTx) error {
		var err error
		out, err = tx.Update(ctx, table, key, patch, expectedVersion)
		return err
	})
	return out, err
}

// Delete implements Writer.
func (m *Memory) Delete(ctx context.Context, table, key string) error {
	return m.locked(func(tx *memTx) error {
		return tx.Delete(ctx, table, key)
	})
}

// Atomic implements Store. Writes made through tx are undone if fn fails.
func (m *Memory) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	return m.locked(func(tx *memTx) error {
		if err := fn(tx); err != nil {
			tx.rollback()
			return err
		}
		return nil
	})
}

// Close marks the store closed. Safe to call multiple times.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Len returns the number of records in table. Used by tests.
func (m *Memory) Len(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tables[table])
}

func (m *Memory) locked(fn func(tx *memTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return fn(&memTx{m: m})
}

// memTx operates on Memory's maps with the mutex already held.
type memTx struct {
	m    *Memory
	undo []func()
}

func (tx *memTx) Get(ctx context.Context, table, key string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	r, ok := tx.m.tables[table][key]
	if !ok {
		return Record{}, fmt.Errorf("get %s/%s: %w", table, key, ErrNotFound)
	}
	return copyRecord(r.rec), nil
}

func (tx *memTx) Query(ctx context.Context, table string, filter Filter) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Record
	for _, r := range tx.m.tables[table] {
		if Matches(r.fields, filter) {
			out = append(out, copyRecord(r.rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Seq != out[j].Seq {
			return out[i].Seq < out[j].Seq
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

func (tx *memTx) Insert(ctx context.Context, table, key string, doc any) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	data, err := EncodeObject(doc)
	if err != nil {
		return Record{}, fmt.Errorf("insert %s/%s: %w", table, key, err)
	}
	fields, err := ScalarFields(data)
	if err != nil {
		return Record{}, fmt.Errorf("insert %s/%s: %w", table, key, err)
	}

	t := tx.m.tables[table]
	if t == nil {
		t = make(map[string]*memRecord)
		tx.m.tables[table] = t
	}
	if _, ok := t[key]; ok {
		return Record{}, fmt.Errorf("insert %s/%s: %w", table, key, ErrAlreadyExists)
	}

	rec := Record{Table: table, Key: key, Version: 1, Seq: tx.m.seq.Next(), Data: data}
	t[key] = &memRecord{rec: rec, fields: fields}
	tx.undo = append(tx.undo, func() { delete(t, key) })

	return copyRecord(rec), nil
}

func (tx *memTx) Update(ctx context.Context, table, key string, patch any, expectedVersion int64) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	t := tx.m.tables[table]
	cur, ok := t[key]
	if !ok {
		return Record{}, fmt.Errorf("update %s/%s: %w", table, key, ErrNotFound)
	}
	if expectedVersion != AnyVersion && cur.rec.Version != expectedVersion {
		return Record{}, fmt.Errorf("update %s/%s: expected v%d, found v%d: %w",
			table, key, expectedVersion, cur.rec.Version, ErrVersionConflict)
	}

	data, err := MergePatch(cur.rec.Data, patch)
	if err != nil {
		return Record{}, fmt.Errorf("update %s/%s: %w", table, key, err)
	}
	fields, err := ScalarFields(data)
	if err != nil {
		return Record{}, fmt.Errorf("update %s/%s: %w", table, key, err)
	}

	prev := cur
	rec := cur.rec
	rec.Version++
	rec.Data = data
	t[key] = &memRecord{rec: rec, fields: fields}
	tx.undo = append(tx.undo, func() { t[key] = prev })

	return copyRecord(rec), nil
}

func (tx *memTx) Delete(ctx context.Context, table, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := tx.m.tables[table]
	prev, ok := t[key]
	if !ok {
		return fmt.Errorf("delete %s/%s: %w", table, key, ErrNotFound)
	}
	delete(t, key)
	tx.undo = append(tx.undo, func() { t[key] = prev })
	return nil
}

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func copyRecord(r Record) Record {
	r.Data = append(json.RawMessage(nil), r.Data...)
	return r
}
