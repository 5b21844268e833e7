package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/roach88/shufflesync/internal/domain"
)

type readyRequest struct {
	Ready *bool `json:"ready" binding:"required"`
}

type startRequest struct {
	Candidates []domain.Candidate `json:"candidates"`
}

type candidateRequest struct {
	CandidateID string `json:"candidate_id" binding:"required"`
}

// JoinSessionResponse is returned by POST /codes/:code/join.
type JoinSessionResponse struct {
	Session     *domain.Session     `json:"session"`
	Participant *domain.Participant `json:"participant"`
	Rejoined    bool                `json:"rejoined"`
}

// EliminateResponse is returned by POST /sessions/:id/eliminations.
type EliminateResponse struct {
	Session      *domain.Session   `json:"session"`
	Remaining    int               `json:"remaining"`
	LastStanding *domain.Candidate `json:"last_standing,omitempty"`
	Duplicate    bool              `json:"duplicate"`
}

// sessionMember returns the snapshot of a session the caller participates
// in, and the caller's participant row.
func (s *Server) sessionMember(ctx context.Context, sessionID, user string) (*domain.SessionSnapshot, *domain.Participant, error) {
	snap, err := s.sessions.Snapshot(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	for i := range snap.Participants {
		if snap.Participants[i].UserID == user {
			return snap, &snap.Participants[i], nil
		}
	}
	return nil, nil, domain.Errorf(domain.CodeNotAuthorized, "server.session", "user %q is not a participant", user)
}

func (s *Server) createSession(c *gin.Context) {
	sess, err := s.sessions.Create(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (s *Server) lookupSession(c *gin.Context) {
	sess, err := s.sessions.Lookup(c.Request.Context(), c.Param("code"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) joinSession(c *gin.Context) {
	res, err := s.sessions.Join(c.Request.Context(), c.Param("code"), userID(c))
	if err != nil {
		fail(c, err)
		return
	}
	status := http.StatusCreated
	if res.Rejoined {
		status = http.StatusOK
	}
	c.JSON(status, JoinSessionResponse{
		Session:     res.Session,
		Participant: res.Participant,
		Rejoined:    res.Rejoined,
	})
}

func (s *Server) getSession(c *gin.Context) {
	snap, _, err := s.sessionMember(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap.Session)
}

func (s *Server) sessionSnapshot(c *gin.Context) {
	snap, _, err := s.sessionMember(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) sessionParticipants(c *gin.Context) {
	snap, _, err := s.sessionMember(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap.Participants)
}

func (s *Server) sessionActions(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, _, err := s.sessionMember(ctx, id, userID(c)); err != nil {
		fail(c, err)
		return
	}
	actions, err := s.sessions.Actions(ctx, id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, actions)
}

func (s *Server) leaveSession(c *gin.Context) {
	if err := s.sessions.Leave(c.Request.Context(), c.Param("id"), userID(c)); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) deleteSession(c *gin.Context) {
	if err := s.sessions.Delete(c.Request.Context(), c.Param("id"), userID(c)); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) updateFilters(c *gin.Context) {
	var filters domain.Filters
	if err := c.ShouldBindJSON(&filters); err != nil {
		badRequest(c, err)
		return
	}
	sess, err := s.sessions.UpdateFilters(c.Request.Context(), c.Param("id"), userID(c), filters)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) setReady(c *gin.Context) {
	var req readyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p, err := s.sessions.SetReady(c.Request.Context(), c.Param("id"), userID(c), *req.Ready)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) startSession(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sess, err := s.sessions.Start(c.Request.Context(), c.Param("id"), userID(c), req.Candidates)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) eliminate(c *gin.Context) {
	var req candidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.sessions.Eliminate(c.Request.Context(), c.Param("id"), userID(c), req.CandidateID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, EliminateResponse{
		Session:      res.Session,
		Remaining:    res.Remaining,
		LastStanding: res.LastStanding,
		Duplicate:    res.Duplicate,
	})
}

func (s *Server) declareWinner(c *gin.Context) {
	var req candidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sess, err := s.sessions.DeclareWinner(c.Request.Context(), c.Param("id"), userID(c), req.CandidateID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}
