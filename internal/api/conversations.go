package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/stylequeue/internal/conversation"
	sqerr "github.com/zulandar/stylequeue/internal/errors"
	"github.com/zulandar/stylequeue/internal/models"
)

type createConversationRequest struct {
	ID             string          `json:"id"`
	RequesterID    string          `json:"requester_id"`
	RequesterEmail string          `json:"requester_email"`
	Subject        string          `json:"subject"`
	Priority       models.Priority `json:"priority"`
}

type replyRequest struct {
	At *time.Time `json:"at"`
}

type conversationResponse struct {
	Conversation *models.Conversation `json:"conversation"`
	Drafts       []models.EmailDraft  `json:"drafts"`
}

func (s *Server) handleHealthz(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{"status": "ok", "version": s.version})
}

func (s *Server) handleStatus(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{
		"version":     s.version,
		"database":    s.health.Check(c.Request.Context()),
		"queue":       s.queue.Stats(),
		"subscribers": s.bus.Subscribers(),
	})
}

func (s *Server) handleListConversations(c *gin.Context) {
	f := conversation.ListFilters{
		Status:      models.Status(c.Query("status")),
		ClaimedBy:   c.Query("claimed_by"),
		RequesterID: c.Query("requester_id"),
	}
	if p := c.Query("priority"); p != "" {
		prio, err := models.ParsePriority(p)
		if err != nil {
			fail(c, sqerr.NewInvalidRequest(err.Error()))
			return
		}
		f.Priority = prio
	}
	if l := c.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			fail(c, sqerr.NewInvalidRequest("limit must be a non-negative integer"))
			return
		}
		f.Limit = n
	}
	list, err := s.store.List(c.Request.Context(), f)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, list)
}

func (s *Server) handleCreateConversation(c *gin.Context) {
	var req createConversationRequest
	if !bind(c, &req) {
		return
	}
	conv, err := s.queue.Intake(c.Request.Context(), conversation.CreateOpts{
		ID:             req.ID,
		RequesterID:    req.RequesterID,
		RequesterEmail: req.RequesterEmail,
		Subject:        req.Subject,
		Priority:       req.Priority,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, conv)
}

func (s *Server) handleGetConversation(c *gin.Context) {
	ctx := c.Request.Context()
	conv, err := s.store.Get(ctx, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	drafts, err := s.drafts.ForConversation(ctx, conv.ID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, conversationResponse{Conversation: conv, Drafts: drafts})
}

func (s *Server) handleReply(c *gin.Context) {
	var req replyRequest
	if c.Request.ContentLength != 0 && !bind(c, &req) {
		return
	}
	at := s.store.Now()
	if req.At != nil {
		at = req.At.UTC()
	}
	conv, err := s.queue.RecordReply(c.Request.Context(), c.Param("id"), at)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, conv)
}
