package server

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/roach88/shufflesync/internal/feed"
	"github.com/roach88/shufflesync/internal/presence"
)

const writeWait = 5 * time.Second

// FrameType tags a stream frame.
type FrameType string

const (
	FrameChange   FrameType = "change"
	FramePresence FrameType = "presence"

	// FrameClosed is sent once when the topic is closed, i.e. the session or
	// list was deleted.
	FrameClosed FrameType = "closed"
)

// Frame is one server-to-client WebSocket message.
type Frame struct {
	Type     FrameType       `json:"type"`
	Change   *feed.Event     `json:"change,omitempty"`
	Presence *presence.Event `json:"presence,omitempty"`
}

func (s *Server) streamSession(c *gin.Context) {
	id := c.Param("id")
	_, p, err := s.sessionMember(c.Request.Context(), id, userID(c))
	if err != nil {
		fail(c, err)
		return
	}
	s.stream(c, feed.SessionTopic(id), p.ID)
}

func (s *Server) streamList(c *gin.Context) {
	id := c.Param("id")
	_, collab, err := s.listMember(c.Request.Context(), id, userID(c))
	if err != nil {
		fail(c, err)
		return
	}
	s.stream(c, feed.ListTopic(id), collab.ID)
}

// stream upgrades the request and relays topic's change feed and presence
// until either side goes away. The connection counts as present for
// memberID while it is open; pongs and client messages are heartbeats.
//
// Subscriptions are opened before the upgrade so a client that fetches a
// snapshot after connecting misses nothing.
func (s *Server) stream(c *gin.Context, topic feed.Topic, memberID string) {
	changes, err := s.feed.Subscribe(topic)
	if err != nil {
		fail(c, err)
		return
	}
	defer changes.Unsubscribe()

	roster, err := s.presence.Subscribe(topic)
	if err != nil {
		fail(c, err)
		return
	}
	defer roster.Unsubscribe()

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already replied.
		s.logger.Warn("websocket upgrade failed", "topic", topic, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	handle, err := s.presence.Attach(ctx, topic, memberID)
	if err != nil {
		s.logger.Warn("presence attach failed", "topic", topic, "member_id", memberID, "error", err)
		return
	}
	defer handle.Detach()

	logger := s.logger.With("topic", topic, "member_id", memberID)
	logger.Debug("stream opened")
	defer logger.Debug("stream closed")

	frames := make(chan Frame)
	go func() {
		defer cancel()
		pump(ctx, frames, changes.Next, feed.ErrClosed, func(ev feed.Event) Frame {
			return Frame{Type: FrameChange, Change: &ev}
		})
	}()
	go func() {
		defer cancel()
		pump(ctx, frames, roster.Next, presence.ErrClosed, func(ev presence.Event) Frame {
			return Frame{Type: FramePresence, Presence: &ev}
		})
	}()
	go func() {
		defer cancel()
		readLoop(conn, handle)
	}()

	if err := s.writeLoop(ctx, conn, handle, frames); err != nil {
		logger.Warn("stream write failed", "error", err)
	}
}

// pump forwards events from next into frames. A closed source sends one
// FrameClosed and stops.
func pump[T any](ctx context.Context, frames chan<- Frame, next func(context.Context) (T, error), closed error, wrap func(T) Frame) {
	for {
		ev, err := next(ctx)
		if errors.Is(err, closed) {
			select {
			case frames <- Frame{Type: FrameClosed}:
			case <-ctx.Done():
			}
			return
		}
		if err != nil {
			return
		}
		select {
		case frames <- wrap(ev):
		case <-ctx.Done():
			return
		}
	}
}

// readLoop consumes client traffic until the connection fails. Clients have
// nothing to say beyond liveness.
func readLoop(conn *websocket.Conn, handle *presence.Handle) {
	conn.SetPongHandler(func(string) error {
		handle.Heartbeat()
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		handle.Heartbeat()
	}
}

// writeLoop is the connection's only writer.
func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, handle *presence.Handle, frames <-chan Frame) error {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	closing := func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	}

	for {
		select {
		case <-ctx.Done():
			closing()
			return nil
		case <-handle.Done():
			closing()
			return nil
		case f := <-frames:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(f); err != nil {
				return err
			}
			if f.Type == FrameClosed {
				closing()
				return nil
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return err
			}
		}
	}
}
