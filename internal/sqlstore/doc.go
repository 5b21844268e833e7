// Package sqlstore implements store.Store on database/sql.
//
// Three drivers are supported:
//   - sqlite3: github.com/mattn/go-sqlite3 (cgo)
//   - sqlite: modernc.org/sqlite (pure Go)
//   - postgres: github.com/lib/pq
//
// Documents live in one records table keyed by (tbl, rkey). Their top-level
// scalar fields are mirrored into record_fields so Query filters are plain
// indexed joins.
//
// # Critical Patterns
//
// Insert-If-Absent:
//   - INSERT ... ON CONFLICT (tbl, rkey) DO NOTHING
//   - Zero rows affected means ErrAlreadyExists
//
// Conditional Update:
//   - UPDATE ... WHERE version = ?
//   - Zero rows affected means ErrVersionConflict (or ErrNotFound when the
//     row is gone)
//
// Deterministic Query Results:
//   - All queries include ORDER BY seq ASC, rkey ASC
//
// # Database Configuration (SQLite)
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - One open connection: a single writer avoids SQLITE_BUSY
package sqlstore
