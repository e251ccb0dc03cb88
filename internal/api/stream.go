package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	sqerr "github.com/zulandar/stylequeue/internal/errors"
	"github.com/zulandar/stylequeue/internal/events"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// streamFilter reads ?types= and scopes to ?stylist_id= or the caller's identity.
func streamFilter(c *gin.Context) (events.Filter, error) {
	types, err := events.ParseTypes(c.Query("types"))
	if err != nil {
		return events.Filter{}, sqerr.NewInvalidRequest(err.Error())
	}
	stylist := c.Query("stylist_id")
	if stylist == "" {
		stylist = stylistID(c)
	}
	return events.Filter{Types: types, StylistID: stylist}, nil
}

// lastEventID honours the SSE reconnect header, then the query fallback.
func lastEventID(c *gin.Context) string {
	if id := c.GetHeader("Last-Event-ID"); id != "" {
		return id
	}
	return c.Query("last_event_id")
}

// handleSSE streams bus events as server-sent events.
func (s *Server) handleSSE(c *gin.Context) {
	f, err := streamFilter(c)
	if err != nil {
		fail(c, err)
		return
	}

	ctx := c.Request.Context()
	sub := s.bus.SubscribeFrom(ctx, f, lastEventID(c))
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	writeSSE(c.Writer, "", "connected", map[string]string{"subscription_id": sub.ID})
	c.Writer.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			writeSSE(c.Writer, "", "heartbeat", map[string]string{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			c.Writer.Flush()
		case evt, open := <-sub.C:
			if !open {
				return
			}
			writeSSE(c.Writer, evt.ID, string(evt.Type), evt)
			c.Writer.Flush()
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, id, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	if id != "" {
		fmt.Fprintf(w, "id: %s\n", id)
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}

// handleWebSocket streams bus events as JSON text frames.
func (s *Server) handleWebSocket(c *gin.Context) {
	f, err := streamFilter(c)
	if err != nil {
		fail(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	sub := s.bus.SubscribeFrom(ctx, f, c.Query("last_event_id"))
	defer sub.Close()

	// The client only sends control frames; a read error means it went away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(s.heartbeat)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(wsWriteTimeout))
			return
		case <-gone:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case evt, open := <-sub.C:
			if !open {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(evt); err != nil {
				s.logger.Debug().Err(err).Str("sub_id", sub.ID).Msg("websocket write failed")
				return
			}
		}
	}
}
