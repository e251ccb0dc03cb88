package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	sqerr "github.com/zulandar/stylequeue/internal/errors"
	"github.com/zulandar/stylequeue/internal/models"
)

// Identity headers set by the trusted front proxy.
const (
	HeaderStylistID   = "X-Stylist-ID"
	HeaderStylistRole = "X-Stylist-Role"
)

const (
	ctxStylistID = "stylist_id"
	ctxRole      = "stylist_role"
)

// requestLogger logs one line per request.
func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		evt := logger.Info()
		if last := c.Errors.Last(); last != nil {
			switch sqerr.CodeOf(last.Err) {
			case sqerr.ErrClaimConflict:
				evt = logger.Debug()
			case sqerr.ErrTransport, sqerr.ErrTimeout:
				evt = logger.Warn().Err(last.Err)
			case sqerr.ErrInternal:
				evt = logger.Error().Err(last.Err)
			}
		}
		evt.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Str("uri", c.Request.RequestURI).
			Str("remote_ip", c.ClientIP()).
			Int("status", c.Writer.Status()).
			Int64("latency_ms", time.Since(start).Milliseconds()).
			Str("stylist_id", c.GetString(ctxStylistID)).
			Msg("HTTP request")
	}
}

// identity copies the caller's identity headers into the gin context.
func identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ctxStylistID, c.GetHeader(HeaderStylistID))
		role := models.Role(c.GetHeader(HeaderStylistRole))
		if role == "" {
			role = models.RoleStylist
		}
		c.Set(ctxRole, role)
		c.Next()
	}
}

func stylistID(c *gin.Context) string {
	return c.GetString(ctxStylistID)
}

func role(c *gin.Context) models.Role {
	r, _ := c.Get(ctxRole)
	role, _ := r.(models.Role)
	return role
}

// requireStylist aborts requests without a stylist identity.
func requireStylist() gin.HandlerFunc {
	return func(c *gin.Context) {
		if stylistID(c) == "" {
			fail(c, sqerr.NewInvalidRequest(HeaderStylistID+" header is required"))
			c.Abort()
			return
		}
		c.Next()
	}
}
