package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/roach88/shufflesync/internal/domain"
	"github.com/roach88/shufflesync/internal/lists"
)

type createListRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
}

type updateListRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

type collaboratorRequest struct {
	UserID string          `json:"user_id" binding:"required"`
	Role   domain.ListRole `json:"role" binding:"required"`
}

type roleRequest struct {
	Role domain.ListRole `json:"role" binding:"required"`
}

type noteRequest struct {
	RestaurantID string `json:"restaurant_id" binding:"required"`
	Context      string `json:"context" binding:"required"`
	Text         string `json:"text" binding:"required"`
}

// JoinListResponse is returned by POST /share-links/:link/join.
type JoinListResponse struct {
	List          *domain.List         `json:"list"`
	Collaborator  *domain.Collaborator `json:"collaborator"`
	AlreadyMember bool                 `json:"already_member"`
}

// AddItemResponse is returned by POST /lists/:id/items.
type AddItemResponse struct {
	Item    *domain.ListItem `json:"item"`
	Created bool             `json:"created"`
}

// listMember returns the snapshot of a list the caller holds a role on, and
// the caller's collaborator row.
func (s *Server) listMember(ctx context.Context, listID, user string) (*domain.ListSnapshot, *domain.Collaborator, error) {
	snap, err := s.lists.Snapshot(ctx, listID)
	if err != nil {
		return nil, nil, err
	}
	for i := range snap.Collaborators {
		if snap.Collaborators[i].UserID == user {
			return snap, &snap.Collaborators[i], nil
		}
	}
	return nil, nil, domain.Errorf(domain.CodeNotAuthorized, "server.list", "user %q has no role on list", user)
}

func (s *Server) createList(c *gin.Context) {
	var req createListRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	l, err := s.lists.CreateList(c.Request.Context(), userID(c), req.Title, req.Description)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, l)
}

func (s *Server) listsForUser(c *gin.Context) {
	out, err := s.lists.ListsFor(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getList(c *gin.Context) {
	snap, _, err := s.listMember(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap.List)
}

func (s *Server) listSnapshot(c *gin.Context) {
	snap, _, err := s.listMember(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) updateList(c *gin.Context) {
	var req updateListRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	l, err := s.lists.UpdateList(c.Request.Context(), c.Param("id"), userID(c), lists.Patch{
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

func (s *Server) deleteList(c *gin.Context) {
	if err := s.lists.DeleteList(c.Request.Context(), c.Param("id"), userID(c)); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) generateShareLink(c *gin.Context) {
	l, err := s.lists.GenerateShareLink(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

func (s *Server) revokeShareLink(c *gin.Context) {
	l, err := s.lists.RevokeShareLink(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

func (s *Server) joinList(c *gin.Context) {
	res, err := s.lists.JoinViaShareLink(c.Request.Context(), c.Param("link"), userID(c))
	if err != nil {
		fail(c, err)
		return
	}
	status := http.StatusCreated
	if res.AlreadyMember {
		status = http.StatusOK
	}
	c.JSON(status, JoinListResponse{
		List:          res.List,
		Collaborator:  res.Collaborator,
		AlreadyMember: res.AlreadyMember,
	})
}

func (s *Server) addItem(c *gin.Context) {
	var p domain.Pointer
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.lists.AddItem(c.Request.Context(), c.Param("id"), userID(c), p)
	if err != nil {
		fail(c, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	c.JSON(status, AddItemResponse{Item: res.Item, Created: res.Created})
}

func (s *Server) removeItem(c *gin.Context) {
	if err := s.lists.RemoveItem(c.Request.Context(), c.Param("id"), userID(c)); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listCollaborators(c *gin.Context) {
	snap, _, err := s.listMember(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap.Collaborators)
}

func (s *Server) addCollaborator(c *gin.Context) {
	var req collaboratorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	collab, err := s.lists.AddCollaborator(c.Request.Context(), c.Param("id"), userID(c), req.UserID, req.Role)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, collab)
}

func (s *Server) changeRole(c *gin.Context) {
	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	collab, err := s.lists.ChangeRole(c.Request.Context(), c.Param("id"), userID(c), c.Param("user"), req.Role)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, collab)
}

func (s *Server) removeCollaborator(c *gin.Context) {
	if err := s.lists.RemoveCollaborator(c.Request.Context(), c.Param("id"), c.Param("user"), userID(c)); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) addNote(c *gin.Context) {
	var req noteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	n, err := s.lists.AddNote(c.Request.Context(), req.RestaurantID, req.Context, userID(c), req.Text)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, n)
}

// listNotes returns the notes on a (restaurant, context) pair. List notes
// are visible to every collaborator; personal contexts only to their author.
func (s *Server) listNotes(c *gin.Context) {
	ctx := c.Request.Context()
	restaurantID, noteContext := c.Query("restaurant_id"), c.Query("context")
	if restaurantID == "" || noteContext == "" {
		badRequest(c, errors.New("restaurant_id and context are required"))
		return
	}
	user := userID(c)
	personal := !domain.IsListContext(noteContext)
	if !personal {
		if _, _, err := s.listMember(ctx, noteContext, user); err != nil {
			fail(c, err)
			return
		}
	}

	notes, err := s.lists.Notes(ctx, restaurantID, noteContext)
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]domain.Note, 0, len(notes))
	for _, n := range notes {
		if personal && n.AuthorID != user {
			continue
		}
		out = append(out, n)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) deleteNote(c *gin.Context) {
	if err := s.lists.DeleteNote(c.Request.Context(), c.Param("id"), userID(c)); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
