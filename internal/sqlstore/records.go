package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/roach88/shufflesync/internal/store"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// view runs record operations against q. Writes through a view on *sql.DB
// are not atomic across records and record_fields; Store wraps them in
// Atomic.
type view struct {
	q      querier
	driver Driver
	seq    *store.Sequence
}

func (s *Store) view(q querier) *view {
	return &view{q: q, driver: s.driver, seq: s.seq}
}

func (v *view) Get(ctx context.Context, table, key string) (store.Record, error) {
	rec := store.Record{Table: table, Key: key}
	var data string
	err := v.q.QueryRowContext(ctx, v.rebind(`
		SELECT version, seq, data FROM records
		WHERE tbl = ? AND rkey = ?
	`), table, key).Scan(&rec.Version, &rec.Seq, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, fmt.Errorf("get %s/%s: %w", table, key, store.ErrNotFound)
	}
	if err != nil {
		return store.Record{}, fmt.Errorf("get %s/%s: %w", table, key, err)
	}
	rec.Data = []byte(data)
	return rec, nil
}

func (v *view) Query(ctx context.Context, table string, filter store.Filter) ([]store.Record, error) {
	var b strings.Builder
	args := []any{table}
	b.WriteString("SELECT r.rkey, r.version, r.seq, r.data FROM records r WHERE r.tbl = ?")

	fields := make([]string, 0, len(filter))
	for f := range filter {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		b.WriteString(` AND EXISTS (SELECT 1 FROM record_fields f
			WHERE f.tbl = r.tbl AND f.rkey = r.rkey AND f.field = ? AND f.value = ?)`)
		args = append(args, f, filter[f])
	}
	b.WriteString(" ORDER BY r.seq ASC, r.rkey ASC")

	rows, err := v.q.QueryContext(ctx, v.rebind(b.String()), args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	var out []store.Record
	for rows.Next() {
		rec := store.Record{Table: table}
		var data string
		if err := rows.Scan(&rec.Key, &rec.Version, &rec.Seq, &data); err != nil {
			return nil, fmt.Errorf("query %s: scan: %w", table, err)
		}
		rec.Data = []byte(data)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	return out, nil
}

func (v *view) Insert(ctx context.Context, table, key string, doc any) (store.Record, error) {
	data, err := store.EncodeObject(doc)
	if err != nil {
		return store.Record{}, fmt.Errorf("insert %s/%s: %w", table, key, err)
	}

	rec := store.Record{Table: table, Key: key, Version: 1, Seq: v.seq.Next(), Data: data}

	// ON CONFLICT DO NOTHING turns a concurrent duplicate into zero rows
	// affected instead of a constraint error.
	res, err := v.q.ExecContext(ctx, v.rebind(`
		INSERT INTO records (tbl, rkey, version, seq, data)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (tbl, rkey) DO NOTHING
	`), table, key, rec.Version, rec.Seq, string(data))
	if err != nil {
		return store.Record{}, fmt.Errorf("insert %s/%s: %w", table, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return store.Record{}, fmt.Errorf("insert %s/%s: %w", table, key, err)
	}
	if n == 0 {
		return store.Record{}, fmt.Errorf("insert %s/%s: %w", table, key, store.ErrAlreadyExists)
	}

	if err := v.writeFields(ctx, table, key, data); err != nil {
		return store.Record{}, fmt.Errorf("insert %s/%s: %w", table, key, err)
	}
	return rec, nil
}

func (v *view) Update(ctx context.Context, table, key string, patch any, expectedVersion int64) (store.Record, error) {
	cur, err := v.Get(ctx, table, key)
	if err != nil {
		return store.Record{}, fmt.Errorf("update: %w", err)
	}
	if expectedVersion != store.AnyVersion && cur.Version != expectedVersion {
		return store.Record{}, fmt.Errorf("update %s/%s: expected v%d, found v%d: %w",
			table, key, expectedVersion, cur.Version, store.ErrVersionConflict)
	}

	data, err := store.MergePatch(cur.Data, patch)
	if err != nil {
		return store.Record{}, fmt.Errorf("update %s/%s: %w", table, key, err)
	}

	// The version predicate re-checks under the row lock, so a writer that
	// committed between the read above and this statement is detected.
	res, err := v.q.ExecContext(ctx, v.rebind(`
		UPDATE records SET version = ?, data = ?
		WHERE tbl = ? AND rkey = ? AND version = ?
	`), cur.Version+1, string(data), table, key, cur.Version)
	if err != nil {
		return store.Record{}, fmt.Errorf("update %s/%s: %w", table, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return store.Record{}, fmt.Errorf("update %s/%s: %w", table, key, err)
	}
	if n == 0 {
		return store.Record{}, fmt.Errorf("update %s/%s: %w", table, key, store.ErrVersionConflict)
	}

	if err := v.deleteFields(ctx, table, key); err != nil {
		return store.Record{}, fmt.Errorf("update %s/%s: %w", table, key, err)
	}
	if err := v.writeFields(ctx, table, key, data); err != nil {
		return store.Record{}, fmt.Errorf("update %s/%s: %w", table, key, err)
	}

	cur.Version++
	cur.Data = data
	return cur, nil
}

func (v *view) Delete(ctx context.Context, table, key string) error {
	res, err := v.q.ExecContext(ctx, v.rebind(`
		DELETE FROM records WHERE tbl = ? AND rkey = ?
	`), table, key)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", table, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", table, key, err)
	}
	if n == 0 {
		return fmt.Errorf("delete %s/%s: %w", table, key, store.ErrNotFound)
	}
	if err := v.deleteFields(ctx, table, key); err != nil {
		return fmt.Errorf("delete %s/%s: %w", table, key, err)
	}
	return nil
}

func (v *view) writeFields(ctx context.Context, table, key string, data []byte) error {
	fields, err := store.ScalarFields(data)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, err := v.q.ExecContext(ctx, v.rebind(`
			INSERT INTO record_fields (tbl, rkey, field, value) VALUES (?, ?, ?, ?)
		`), table, key, name, fields[name]); err != nil {
			return fmt.Errorf("write field %s: %w", name, err)
		}
	}
	return nil
}

func (v *view) deleteFields(ctx context.Context, table, key string) error {
	if _, err := v.q.ExecContext(ctx, v.rebind(`
		DELETE FROM record_fields WHERE tbl = ? AND rkey = ?
	`), table, key); err != nil {
		return fmt.Errorf("delete fields: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders to $1, $2, ... for PostgreSQL.
func (v *view) rebind(query string) string {
	if v.driver != DriverPostgres {
		return query
	}
	return rebindDollar(query)
}

func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
