// Package store defines the shared document store the engines persist to,
// plus an in-memory implementation.
//
// The contract is deliberately narrow: Get, Query, Insert, Update (with an
// optional expected version), Delete, and Atomic. Engines are agnostic to
// whether it is backed by SQL (see internal/sqlstore) or by Memory.
//
// # Critical Patterns
//
// Optimistic Concurrency:
//   - Every record carries a Version (1 on insert, +1 per update)
//   - Update(..., expectedVersion) fails with ErrVersionConflict on mismatch
//   - Engines wrap read-modify-write cycles in Retry, which re-reads on
//     conflict and gives up after a bounded number of attempts
//
// Insert-If-Absent:
//   - Insert returns ErrAlreadyExists when the key is taken
//   - Composite identities use derived keys (ident.Derive), so concurrent
//     double inserts collide on the key instead of creating duplicates
//
// Logical Ordering:
//   - Every insert is stamped with Seq from a monotonic Sequence
//   - Query results are ordered by Seq, then Key. Wall time never orders
//     records
//
// Atomicity:
//   - Atomic(fn) commits all of fn's writes together; an error rolls back
//   - Cascading deletes run inside one Atomic so no partial cascade is ever
//     observable
package store
