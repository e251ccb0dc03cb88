package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/stylequeue/internal/draft"
	sqerr "github.com/zulandar/stylequeue/internal/errors"
	"github.com/zulandar/stylequeue/internal/models"
)

type createDraftRequest struct {
	ConversationID string `json:"conversation_id"`
}

type saveDraftRequest struct {
	SubjectLine     *string    `json:"subject_line"`
	Notes           *string    `json:"notes"`
	IsScheduled     *bool      `json:"is_scheduled"`
	ScheduledSendAt *time.Time `json:"scheduled_send_at"`
	ClearSchedule   bool       `json:"clear_schedule"`
}

type reorderRequest struct {
	ModuleIDs []string `json:"module_ids"`
}

type validateResponse struct {
	Valid      bool              `json:"valid"`
	Violations []sqerr.Violation `json:"violations"`
}

type previewResponse struct {
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html"`
}

func (s *Server) handleCreateDraft(c *gin.Context) {
	var req createDraftRequest
	if !bind(c, &req) {
		return
	}
	if req.ConversationID == "" {
		fail(c, sqerr.NewInvalidRequest("conversation_id is required"))
		return
	}
	d, err := s.drafts.Create(c.Request.Context(), req.ConversationID, stylistID(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, d)
}

func (s *Server) handleGetDraft(c *gin.Context) {
	d, err := s.drafts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, d)
}

func (s *Server) handlePreviewDraft(c *gin.Context) {
	d, err := s.drafts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	r, err := draft.Render(d)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, previewResponse{Subject: r.Subject, Text: r.Text, HTML: r.HTML})
}

func (s *Server) handleSaveDraft(c *gin.Context) {
	var req saveDraftRequest
	if !bind(c, &req) {
		return
	}
	d, err := s.drafts.Save(c.Request.Context(), c.Param("id"), stylistID(c), draft.SaveOpts{
		SubjectLine:     req.SubjectLine,
		Notes:           req.Notes,
		IsScheduled:     req.IsScheduled,
		ScheduledSendAt: req.ScheduledSendAt,
		ClearSchedule:   req.ClearSchedule,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, d)
}

func (s *Server) handleAddModule(c *gin.Context) {
	var m models.EmailModule
	if !bind(c, &m) {
		return
	}
	d, err := s.drafts.AddModule(c.Request.Context(), c.Param("id"), stylistID(c), m)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, d)
}

func (s *Server) handleRemoveModule(c *gin.Context) {
	d, err := s.drafts.RemoveModule(c.Request.Context(), c.Param("id"), stylistID(c), c.Param("module_id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, d)
}

func (s *Server) handleReorder(c *gin.Context) {
	var req reorderRequest
	if !bind(c, &req) {
		return
	}
	d, err := s.drafts.Reorder(c.Request.Context(), c.Param("id"), stylistID(c), req.ModuleIDs)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, d)
}

func (s *Server) handleValidateDraft(c *gin.Context) {
	v, err := s.drafts.Validate(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	if v == nil {
		v = []sqerr.Violation{}
	}
	ok(c, http.StatusOK, validateResponse{Valid: len(v) == 0, Violations: v})
}

func (s *Server) handleSend(c *gin.Context) {
	ctx, cancel := s.operation(c)
	defer cancel()
	res, err := s.drafts.Send(ctx, c.Param("id"), stylistID(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}
