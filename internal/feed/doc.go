// Package feed implements the change feed: per-topic publish/subscribe of
// record changes and application events.
//
// A topic is one session ("session:<id>") or one list ("list:<id>").
// Engines publish through a Publisher, which stamps each event with an ID,
// a per-(publisher, topic) sequence number, and a timestamp. Bus is the
// in-process transport; internal/server bridges it to WebSocket clients.
//
// # Delivery Contract
//
//   - At-least-once: consumers deduplicate by Event.ID
//   - Ordered per topic per publisher; unordered across publishers
//   - No durability across disconnection: a consumer that sees a Seq gap
//     must re-read the topic's state from the store
//   - Unsubscribe is idempotent and safe after the topic was closed
package feed
