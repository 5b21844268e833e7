// Package projector folds change-feed and presence events into local,
// eventually consistent views of one session or one list.
//
// Delivery is at-least-once with ordering only per publisher, so every
// view applies events idempotently:
//
//   - events are deduplicated by id
//   - collections merge as sets (eliminations union; items, participants
//     and collaborators carry sequence tombstones)
//   - scalars take the value with the highest record version
//
// Each view tracks the last sequence number per publisher. A jump marks
// the view stale; the owner fetches a snapshot and calls Reset. Follow
// wires a feed subscription, a view, and a resync callback together.
package projector
