// Package domain defines the shufflesync data model and error taxonomy.
//
// Sessions, participants, and the session action log are owned by the
// session engine; lists, collaborators, list items, and notes are owned by
// the list engine. Both engines persist these types as JSON documents in a
// store.Store and publish them on feed topics.
//
// # Error Taxonomy
//
// Every engine failure is an *Error with one of:
//
//   - INVALID_TRANSITION: the session state machine was violated
//   - NOT_AUTHORIZED: a role or ownership check failed
//   - UNKNOWN_CANDIDATE, SESSION_NOT_JOINABLE, INVALID_OR_EXPIRED_LINK,
//     NOT_FOUND: referential or lookup failures
//   - CONCURRENT_MODIFICATION: optimistic-concurrency retries exhausted
//   - CODE_GENERATION_EXHAUSTED: join code collisions exhausted
//   - INVALID_ARGUMENT: malformed input
//
// Use errors.Is against the Err* sentinels, or CodeOf to read the code.
package domain
