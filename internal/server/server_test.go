package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shufflesync/internal/domain"
	"github.com/roach88/shufflesync/internal/feed"
	"github.com/roach88/shufflesync/internal/ident"
	"github.com/roach88/shufflesync/internal/lists"
	"github.com/roach88/shufflesync/internal/presence"
	"github.com/roach88/shufflesync/internal/session"
	"github.com/roach88/shufflesync/internal/store"
	"github.com/roach88/shufflesync/internal/testutil"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	server   *Server
	bus      *feed.Bus
	presence *presence.Tracker
}

func newFixture(t *testing.T, codes ...string) *fixture {
	t.Helper()
	if len(codes) == 0 {
		codes = []string{"AAAAAA", "BBBBBB", "CCCCCC"}
	}
	st := store.NewMemory()
	bus := feed.NewBus()
	tracker := presence.New(presence.WithLogger(quietLogger()), presence.WithGracePeriod(time.Minute))
	t.Cleanup(func() {
		_ = tracker.Close()
		_ = bus.Close()
		_ = st.Close()
	})

	closeTopic := func(topic feed.Topic) {
		bus.CloseTopic(topic)
		tracker.CloseTopic(topic)
	}
	pub := feed.NewPublisher(bus, "api", feed.WithLogger(quietLogger()))
	sessions := session.New(st, pub,
		session.WithCodes(testutil.NewFixedCodes(codes...)),
		session.WithLogger(quietLogger()),
		session.WithTopicCloser(closeTopic),
	)
	lst := lists.New(st, pub,
		lists.WithTokens(ident.NewSequence("link")),
		lists.WithLogger(quietLogger()),
		lists.WithTopicCloser(closeTopic),
	)
	srv := New(sessions, lst, bus, tracker,
		WithLogger(quietLogger()),
		WithPingInterval(50*time.Millisecond),
	)
	return &fixture{server: srv, bus: bus, presence: tracker}
}

// do issues a request as user and decodes a JSON response into out when
// out is non-nil.
func (f *fixture) do(t *testing.T, method, path, user string, body any, out any) int {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	if out != nil && rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func candidates(ids ...string) []domain.Candidate {
	out := make([]domain.Candidate, len(ids))
	for i, id := range ids {
		out[i] = domain.Candidate{ID: id, Name: "Restaurant " + id}
	}
	return out
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		code domain.ErrorCode
		want int
	}{
		{domain.CodeInvalidTransition, http.StatusConflict},
		{domain.CodeConcurrentModification, http.StatusConflict},
		{domain.CodeNotAuthorized, http.StatusForbidden},
		{domain.CodeNotFound, http.StatusNotFound},
		{domain.CodeSessionNotJoinable, http.StatusNotFound},
		{domain.CodeInvalidOrExpiredLink, http.StatusNotFound},
		{domain.CodeUnknownCandidate, http.StatusUnprocessableEntity},
		{domain.CodeInvalidArgument, http.StatusUnprocessableEntity},
		{domain.CodeCodeGenerationExhausted, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := fmt.Errorf("wrapped: %w", domain.Errorf(tt.code, "op", "boom"))
			assert.Equal(t, tt.want, StatusFor(err))
		})
	}
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("disk on fire")))
}

func TestRequireUser(t *testing.T) {
	f := newFixture(t)
	var resp ErrorResponse
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, "/api/v1/sessions", "", nil, &resp))
	assert.Equal(t, "UNAUTHENTICATED", resp.Code)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", "", nil, nil))
}

func TestSessionFlow(t *testing.T) {
	f := newFixture(t)

	var sess domain.Session
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/v1/sessions", "host", nil, &sess))
	assert.Equal(t, domain.StatusWaiting, sess.Status)
	base := "/api/v1/sessions/" + sess.ID

	var looked domain.Session
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/v1/codes/aaaaaa", "guest", nil, &looked))
	assert.Equal(t, sess.ID, looked.ID)

	var joined JoinSessionResponse
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/v1/codes/AAAAAA/join", "guest", nil, &joined))
	assert.False(t, joined.Rejoined)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/v1/codes/AAAAAA/join", "guest", nil, &joined))
	assert.True(t, joined.Rejoined)

	var updated domain.Session
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPut, base+"/filters", "guest",
		domain.Filters{Categories: []string{"thai"}}, &updated))
	assert.Equal(t, domain.StatusConfiguring, updated.Status)

	var p domain.Participant
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPut, base+"/ready", "guest", gin.H{"ready": true}, &p))
	assert.True(t, p.IsReady)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPut, base+"/ready", "guest", gin.H{}, nil))

	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, base+"/start", "guest",
		startRequest{Candidates: candidates("c1", "c2", "c3")}, nil))
	assert.Equal(t, http.StatusUnprocessableEntity, f.do(t, http.MethodPost, base+"/start", "host",
		startRequest{}, nil))
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, base+"/start", "host",
		startRequest{Candidates: candidates("c1", "c2", "c3")}, &updated))
	assert.Equal(t, domain.StatusActive, updated.Status)

	var elim EliminateResponse
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, base+"/eliminations", "guest",
		candidateRequest{CandidateID: "c2"}, &elim))
	assert.Equal(t, 2, elim.Remaining)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, base+"/eliminations", "host",
		candidateRequest{CandidateID: "c2"}, &elim))
	assert.True(t, elim.Duplicate)
	assert.Equal(t, http.StatusUnprocessableEntity, f.do(t, http.MethodPost, base+"/eliminations", "host",
		candidateRequest{CandidateID: "nope"}, nil))
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, base+"/eliminations", "stranger",
		candidateRequest{CandidateID: "c1"}, nil))

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, base+"/winner", "host",
		candidateRequest{CandidateID: "c3"}, &updated))
	assert.Equal(t, domain.StatusCompleted, updated.Status)
	require.NotNil(t, updated.Winner)
	assert.Equal(t, "c3", updated.Winner.ID)

	var errResp ErrorResponse
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, base+"/eliminations", "host",
		candidateRequest{CandidateID: "c1"}, &errResp))
	assert.Equal(t, string(domain.CodeInvalidTransition), errResp.Code)

	var snap domain.SessionSnapshot
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, base+"/snapshot", "guest", nil, &snap))
	assert.Len(t, snap.Participants, 2)
	assert.Equal(t, []string{"c2"}, snap.Session.EliminatedIDs)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, base+"/snapshot", "stranger", nil, nil))

	var actions []domain.SessionAction
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, base+"/actions", "host", nil, &actions))
	assert.NotEmpty(t, actions)

	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodDelete, base, "guest", nil, nil))
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, base, "host", nil, nil))
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, base, "host", nil, nil))
}

func TestSessionJoinErrors(t *testing.T) {
	f := newFixture(t, "AAAAAA", "AAAAAA", "AAAAAA", "AAAAAA", "AAAAAA", "AAAAAA")

	var errResp ErrorResponse
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/v1/codes/ZZZZZZ/join", "guest", nil, &errResp))
	assert.Equal(t, string(domain.CodeSessionNotJoinable), errResp.Code)

	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/v1/sessions", "host", nil, nil))
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodPost, "/api/v1/sessions", "host2", nil, &errResp))
	assert.Equal(t, string(domain.CodeCodeGenerationExhausted), errResp.Code)
}

func TestListFlow(t *testing.T) {
	f := newFixture(t)

	var l domain.List
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/v1/lists", "alice",
		createListRequest{Title: "Date night"}, &l))
	base := "/api/v1/lists/" + l.ID
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/v1/lists", "alice", gin.H{}, nil))

	var errResp ErrorResponse
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/v1/share-links/link-1/join", "bob", nil, &errResp))
	assert.Equal(t, string(domain.CodeInvalidOrExpiredLink), errResp.Code)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, base+"/share-link", "alice", nil, &l))
	require.True(t, l.IsShareable)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, base+"/share-link", "bob", nil, nil))

	var joined JoinListResponse
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/v1/share-links/"+l.ShareLinkID+"/join", "bob", nil, &joined))
	assert.Equal(t, domain.ListEditor, joined.Collaborator.Role)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/v1/share-links/"+l.ShareLinkID+"/join", "bob", nil, &joined))
	assert.True(t, joined.AlreadyMember)

	var added AddItemResponse
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, base+"/items", "bob",
		domain.Pointer{RestaurantID: "r1", RestaurantSource: "places", Name: "Noodle Bar"}, &added))
	assert.True(t, added.Created)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, base+"/items", "alice",
		domain.Pointer{RestaurantID: "r1", RestaurantSource: "places", Name: "Noodle Bar"}, &added))
	assert.False(t, added.Created)

	title := "Anniversary"
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPatch, base, "alice", updateListRequest{Title: &title}, &l))
	assert.Equal(t, "Anniversary", l.Title)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPatch, base, "bob", updateListRequest{Title: &title}, nil))

	var c domain.Collaborator
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, base+"/collaborators", "alice",
		collaboratorRequest{UserID: "carol", Role: domain.ListViewer}, &c))
	assert.Equal(t, domain.ListViewer, c.Role)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, base+"/items", "carol",
		domain.Pointer{RestaurantID: "r2"}, nil))
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPut, base+"/collaborators/carol", "alice",
		roleRequest{Role: domain.ListEditor}, &c))
	assert.Equal(t, domain.ListEditor, c.Role)

	var snap domain.ListSnapshot
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, base+"/snapshot", "carol", nil, &snap))
	assert.Len(t, snap.Collaborators, 3)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, base+"/snapshot", "mallory", nil, nil))

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/api/v1/items/"+snap.Items[0].ID, "carol", nil, nil))
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/api/v1/items/"+snap.Items[0].ID, "carol", nil, nil), "absent item is a no-op")

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, base+"/collaborators/carol", "carol", nil, nil))
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodDelete, base+"/collaborators/alice", "alice", nil, nil))

	var mine []domain.List
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/v1/lists", "bob", nil, &mine))
	require.Len(t, mine, 1)
	assert.Equal(t, l.ID, mine[0].ID)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, base+"/share-link", "alice", nil, &l))
	assert.False(t, l.IsShareable)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, base, "alice", nil, nil))
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, base, "alice", nil, nil))
}

func TestNotes(t *testing.T) {
	f := newFixture(t)

	var l domain.List
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/v1/lists", "alice",
		createListRequest{Title: "Lunch"}, &l))

	var n domain.Note
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/v1/notes", "alice",
		noteRequest{RestaurantID: "r1", Context: l.ID, Text: "  try the dumplings "}, &n))
	assert.Equal(t, "try the dumplings", n.Text)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/v1/notes", "alice",
		noteRequest{RestaurantID: "r1", Context: domain.NoteContextFavorites, Text: "mine"}, nil))
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/v1/notes", "bob",
		noteRequest{RestaurantID: "r1", Context: domain.NoteContextFavorites, Text: "bob's"}, nil))

	var notes []domain.Note
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/v1/notes?restaurant_id=r1&context="+l.ID, "alice", nil, &notes))
	require.Len(t, notes, 1)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/api/v1/notes?restaurant_id=r1&context="+l.ID, "bob", nil, nil))
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/v1/notes?restaurant_id=r1", "bob", nil, nil))

	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/v1/notes?restaurant_id=r1&context=favorites", "bob", nil, &notes))
	require.Len(t, notes, 1, "personal notes are private")
	assert.Equal(t, "bob's", notes[0].Text)

	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodDelete, "/api/v1/notes/"+n.ID, "bob", nil, nil))
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/api/v1/notes/"+n.ID, "alice", nil, nil))
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/api/v1/notes/"+n.ID, "alice", nil, nil))
}

func TestCORS(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/sessions", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	assert.Less(t, rec.Code, 300)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCheckOrigin(t *testing.T) {
	s := &Server{origins: []string{"https://app.example"}}
	req := httptest.NewRequest(http.MethodGet, "/ws/sessions/x", nil)

	assert.True(t, s.checkOrigin(req), "no origin header")
	req.Header.Set("Origin", "https://app.example")
	assert.True(t, s.checkOrigin(req))
	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, s.checkOrigin(req))
}

// dial opens a stream as user on path.
func dial(t *testing.T, ts *httptest.Server, path, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path + "?user_id=" + user
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads frames until match returns true or the deadline passes.
func readUntil(t *testing.T, conn *websocket.Conn, match func(Frame) bool) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var f Frame
		require.NoError(t, conn.ReadJSON(&f))
		if match(f) {
			return f
		}
	}
}

func TestStream_SessionChangesAndPresence(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	var sess domain.Session
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/v1/sessions", "host", nil, &sess))
	path := "/ws/sessions/" + sess.ID

	conn := dial(t, ts, path, "host")
	hostPID := ident.ParticipantID(sess.ID, "host")

	joinFrame := readUntil(t, conn, func(fr Frame) bool {
		return fr.Type == FramePresence && fr.Presence.Type == presence.EventJoin
	})
	assert.Equal(t, []string{hostPID}, joinFrame.Presence.ParticipantIDs)

	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/v1/codes/AAAAAA/join", "guest", nil, nil))
	change := readUntil(t, conn, func(fr Frame) bool { return fr.Type == FrameChange })
	assert.Equal(t, feed.EventParticipantJoined, change.Change.Name)
	assert.Equal(t, feed.SessionTopic(sess.ID), change.Change.Topic)

	guest := dial(t, ts, path, "guest")
	readUntil(t, conn, func(fr Frame) bool {
		return fr.Type == FramePresence && fr.Presence.Type == presence.EventJoin &&
			fr.Presence.ParticipantIDs[0] == ident.ParticipantID(sess.ID, "guest")
	})
	require.NoError(t, guest.Close())
	leave := readUntil(t, conn, func(fr Frame) bool {
		return fr.Type == FramePresence && fr.Presence.Type == presence.EventLeave
	})
	assert.Equal(t, []string{ident.ParticipantID(sess.ID, "guest")}, leave.Presence.ParticipantIDs)

	// Deleting the session ends the stream.
	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/api/v1/sessions/"+sess.ID, "host", nil, nil))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var fr Frame
		err := conn.ReadJSON(&fr)
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
		}
		break
	}
	assert.Eventually(t, func() bool {
		return f.bus.Subscribers(feed.SessionTopic(sess.ID)) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStream_RejectsNonMembers(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	var l domain.List
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/v1/lists", "alice",
		createListRequest{Title: "Brunch"}, &l))

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/lists/" + l.ID + "?user_id=mallory"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws/lists/"+l.ID, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStream_ListItemEvents(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	var l domain.List
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/v1/lists", "alice",
		createListRequest{Title: "Brunch"}, &l))
	conn := dial(t, ts, "/ws/lists/"+l.ID, "alice")
	readUntil(t, conn, func(fr Frame) bool {
		return fr.Type == FramePresence && fr.Presence.Type == presence.EventJoin
	})

	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/v1/lists/"+l.ID+"/items", "alice",
		domain.Pointer{RestaurantID: "r1", Name: "Waffles"}, nil))
	change := readUntil(t, conn, func(fr Frame) bool { return fr.Type == FrameChange })
	assert.Equal(t, feed.EventItemAdded, change.Change.Name)

	var it domain.ListItem
	require.NoError(t, change.Change.Decode(&it))
	assert.Equal(t, ident.ListItemID(l.ID, "r1"), it.ID)
}

func TestListenAndServe_ShutsDownOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.server.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
