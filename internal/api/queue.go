package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	sqerr "github.com/zulandar/stylequeue/internal/errors"
	"github.com/zulandar/stylequeue/internal/models"
	"github.com/zulandar/stylequeue/internal/queue"
)

type releaseRequest struct {
	Reason queue.ReleaseReason `json:"reason"`
}

func (s *Server) handleQueue(c *gin.Context) {
	var f queue.Filter
	if p := c.Query("min_priority"); p != "" {
		prio, err := models.ParsePriority(p)
		if err != nil {
			fail(c, sqerr.NewInvalidRequest(err.Error()))
			return
		}
		f.MinPriority = prio
	}
	entries := s.queue.Snapshot(c.Request.Context(), f)
	if entries == nil {
		entries = []queue.Entry{}
	}
	ok(c, http.StatusOK, entries)
}

func (s *Server) handleQueueStats(c *gin.Context) {
	ok(c, http.StatusOK, s.queue.Stats())
}

func (s *Server) handleClaim(c *gin.Context) {
	ctx, cancel := s.operation(c)
	defer cancel()
	conv, err := s.queue.Claim(ctx, c.Param("id"), stylistID(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, conv)
}

func (s *Server) handleRelease(c *gin.Context) {
	req := releaseRequest{Reason: queue.ReasonStylistRelease}
	if c.Request.ContentLength != 0 && !bind(c, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = queue.ReasonStylistRelease
	}
	if req.Reason != queue.ReasonStylistRelease {
		fail(c, sqerr.NewInvalidRequest("only stylist_release may be requested over the API"))
		return
	}

	ctx, cancel := s.operation(c)
	defer cancel()
	conv, err := s.queue.Release(ctx, c.Param("id"), stylistID(c), req.Reason)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, conv)
}

func (s *Server) handleBegin(c *gin.Context) {
	ctx, cancel := s.operation(c)
	defer cancel()
	conv, err := s.queue.BeginWork(ctx, c.Param("id"), stylistID(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, conv)
}

func (s *Server) handleRetriage(c *gin.Context) {
	ctx, cancel := s.operation(c)
	defer cancel()
	conv, err := s.queue.Retriage(ctx, c.Param("id"), role(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, conv)
}
