package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	sqerr "github.com/zulandar/stylequeue/internal/errors"
)

// envelope is the shape of every JSON response.
type envelope struct {
	Success    bool              `json:"success"`
	Data       any               `json:"data,omitempty"`
	Error      string            `json:"error,omitempty"`
	Code       sqerr.ErrorCode   `json:"code,omitempty"`
	Details    map[string]any    `json:"details,omitempty"`
	Violations []sqerr.Violation `json:"violations,omitempty"`
}

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, envelope{Success: true, Data: data})
}

// fail writes err. Coded errors keep their status; anything else is INTERNAL.
func fail(c *gin.Context, err error) {
	e, isCoded := sqerr.As(err)
	switch {
	case isCoded:
	case errors.Is(err, context.DeadlineExceeded):
		e = sqerr.NewTimeout("operation", err)
	default:
		e = sqerr.NewInternal(err)
	}
	c.Error(e)
	c.JSON(e.Status, envelope{
		Success:    false,
		Error:      e.Message,
		Code:       e.Code,
		Details:    e.Details,
		Violations: e.Violations,
	})
}

// bind decodes the JSON body into v, mapping decode failures to INVALID_REQUEST.
func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		fail(c, sqerr.NewInvalidRequest("invalid request body: "+err.Error()))
		return false
	}
	return true
}

func notFoundRoute(c *gin.Context) {
	c.JSON(http.StatusNotFound, envelope{
		Success: false,
		Error:   "route not found: " + c.Request.Method + " " + c.Request.URL.Path,
		Code:    sqerr.ErrNotFound,
	})
}
