package sqlstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/roach88/shufflesync/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Empty database
// 1 - records + record_fields
const currentSchemaVersion = 1

// Driver names a database/sql driver this package can open.
type Driver string

const (
	DriverSQLite3  Driver = "sqlite3"  // mattn/go-sqlite3
	DriverSQLite   Driver = "sqlite"   // modernc.org/sqlite
	DriverPostgres Driver = "postgres" // lib/pq
)

// ParseDriver validates a driver name from configuration.
func ParseDriver(name string) (Driver, error) {
	switch d := Driver(name); d {
	case DriverSQLite3, DriverSQLite, DriverPostgres:
		return d, nil
	default:
		return "", fmt.Errorf("unknown store driver %q", name)
	}
}

func (d Driver) isSQLite() bool {
	return d == DriverSQLite3 || d == DriverSQLite
}

// Store is a store.Store backed by database/sql.
type Store struct {
	db     *sql.DB
	driver Driver
	seq    *store.Sequence
}

var _ store.Store = (*Store)(nil)

// Open creates or opens the database at dsn using driver.
// Applies required pragmas and migrations automatically.
//
// This function is idempotent - safe to call multiple times.
func Open(ctx context.Context, driver Driver, dsn string) (*Store, error) {
	if _, err := ParseDriver(string(driver)); err != nil {
		return nil, err
	}

	db, err := sql.Open(string(driver), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver.isSQLite() {
		// SQLite only supports one writer at a time.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

		if err := applyPragmas(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
	}

	s := &Store{db: db, driver: driver}

	if err := s.applySchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	var maxSeq int64
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), 0) FROM records").Scan(&maxSeq); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read sequence: %w", err)
	}
	s.seq = store.NewSequenceAt(maxSeq)

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB. Used by tests and diagnostics.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Driver returns the driver the store was opened with.
func (s *Store) Driver() Driver {
	return s.driver
}

// Get implements store.Reader.
func (s *Store) Get(ctx context.Context, table, key string) (store.Record, error) {
	return s.view(s.db).Get(ctx, table, key)
}

// Query implements store.Reader.
func (s *Store) Query(ctx context.Context, table string, filter store.Filter) ([]store.Record, error) {
	return s.view(s.db).Query(ctx, table, filter)
}

// Insert implements store.Writer.
func (s *Store) Insert(ctx context.Context, table, key string, doc any) (store.Record, error) {
	var out store.Record
	err := s.Atomic(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.Insert(ctx, table, key, doc)
		return err
	})
	return out, err
}

// Update implements store.Writer.
func (s *Store) Update(ctx context.Context, table, key string, patch any, expectedVersion int64) (store.Record, error) {
	var out store.Record
	err := s.Atomic(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.Update(ctx, table, key, patch, expectedVersion)
		return err
	})
	return out, err
}

// Delete implements store.Writer.
func (s *Store) Delete(ctx context.Context, table, key string) error {
	return s.Atomic(ctx, func(tx store.Tx) error {
		return tx.Delete(ctx, table, key)
	})
}

// Atomic implements store.Store with a database transaction.
// fn must only use tx: on SQLite the transaction holds the only connection.
func (s *Store) Atomic(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(s.view(sqlTx)); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func (s *Store) applySchema(ctx context.Context) error {
	for _, stmt := range splitStatements(schemaSQL) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema: %w", err)
		}
	}

	if err := s.runMigrations(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations stamps the schema version, refusing databases written by a
// newer build.
func (s *Store) runMigrations(ctx context.Context) error {
	version, err := s.schemaVersion(ctx)
	if err != nil {
		return err
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema v%d is newer than supported v%d", version, currentSchemaVersion)
	}
	if version == currentSchemaVersion {
		return nil
	}
	return s.setSchemaVersion(ctx, currentSchemaVersion)
}

// schemaVersion reads PRAGMA user_version on SQLite and the schema_meta
// table on PostgreSQL.
func (s *Store) schemaVersion(ctx context.Context) (int, error) {
	var version int
	if s.driver.isSQLite() {
		if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
			return 0, fmt.Errorf("get user_version: %w", err)
		}
		return version, nil
	}

	if _, err := s.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_meta (version INTEGER NOT NULL)"); err != nil {
		return 0, fmt.Errorf("create schema_meta: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_meta").Scan(&version); err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	return version, nil
}

func (s *Store) setSchemaVersion(ctx context.Context, version int) error {
	if s.driver.isSQLite() {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
		return nil
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM schema_meta"); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_meta (version) VALUES ($1)", version); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}

// splitStatements splits a schema script on semicolons, dropping comment
// lines. Schema statements contain no string literals.
func splitStatements(script string) []string {
	var lines []string
	for _, line := range strings.Split(script, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		lines = append(lines, line)
	}

	var out []string
	for _, stmt := range strings.Split(strings.Join(lines, "\n"), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
