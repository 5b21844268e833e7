// Package server exposes the session and list engines over HTTP and
// streams each topic's change feed and presence over WebSocket.
//
// Callers identify themselves with an opaque user id in the X-User-ID
// header (or the user_id query parameter on stream handshakes). Engine
// errors map to HTTP statuses by domain.ErrorCode; see StatusFor.
//
// # Streams
//
// GET /ws/sessions/:id and GET /ws/lists/:id upgrade to WebSocket for
// participants and collaborators respectively. The server sends JSON
// Frames:
//
//	{"type":"change","change":{...feed.Event}}
//	{"type":"presence","presence":{...presence.Event}}
//	{"type":"closed"}
//
// A presence Sync frame arrives first. Events are delivered at least once
// and carry per-publisher sequence numbers; clients resync from the
// snapshot endpoint when they detect a gap.
//
// # Critical Patterns
//
// Each connection has exactly one writer goroutine (writeLoop). Pongs and
// any client message are presence heartbeats; a connection silent for the
// tracker's grace period is reaped and closed.
package server
