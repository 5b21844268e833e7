// Package session implements the shuffle-session engine: creation,
// join-by-code, filter configuration, readiness, start, elimination, winner
// declaration, leave, and deletion.
//
// # State Machine
//
//	Waiting ──updateFilters──▶ Configuring ──start──▶ Active ──declareWinner──▶ Completed
//
// Deletion is not a transition; the host may delete from any state.
//
// # Critical Patterns
//
// Conditional Writes:
//   - Every mutation reads the session, validates, and writes with the
//     version it read. A conflict re-runs the cycle (bounded)
//   - Concurrent eliminations therefore converge to the union of their
//     candidates with no lost update
//
// Derived Identity:
//   - A participant's id is ident.ParticipantID(sessionID, userID), so a
//     duplicate join collides on insert instead of adding a second row
//
// Join Codes:
//   - A session_codes record keyed by the code reserves it while the
//     session is live. Insert-if-absent is the collision check
//   - The reservation is released on completion and on deletion
//
// Write First, Notify Second:
//   - Events are published after the store commit. A publish failure is
//     logged and the operation still succeeds
//
// Actors are identified by user id; logs and events record the actor's
// participant id.
package session
