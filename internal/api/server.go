// Package api exposes the queue, drafts, metrics and event streams over HTTP.
package api

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/zulandar/stylequeue/internal/conversation"
	"github.com/zulandar/stylequeue/internal/draft"
	"github.com/zulandar/stylequeue/internal/events"
	"github.com/zulandar/stylequeue/internal/health"
	"github.com/zulandar/stylequeue/internal/metrics"
	"github.com/zulandar/stylequeue/internal/queue"
)

const (
	defaultOperationTimeout = 5 * time.Second
	defaultHeartbeat        = 15 * time.Second
)

// Options holds the components the API serves.
type Options struct {
	Store   *conversation.Store
	Queue   *queue.Manager
	Drafts  *draft.Builder
	Metrics *metrics.Aggregator
	Bus     *events.Bus
	Health  *health.Checker
	Logger  zerolog.Logger
	Version string

	// OperationTimeout bounds claim, release and send.
	OperationTimeout time.Duration
	// Heartbeat is the idle keepalive interval on event streams.
	Heartbeat time.Duration
}

// Server is the HTTP API.
type Server struct {
	store   *conversation.Store
	queue   *queue.Manager
	drafts  *draft.Builder
	metrics *metrics.Aggregator
	bus     *events.Bus
	health  *health.Checker
	logger  zerolog.Logger
	version string

	opTimeout time.Duration
	heartbeat time.Duration
	router    *gin.Engine
}

// NewServer builds the router.
func NewServer(opts Options) (*Server, error) {
	if opts.Store == nil || opts.Queue == nil || opts.Drafts == nil {
		return nil, fmt.Errorf("api: store, queue and drafts are required")
	}
	if opts.Metrics == nil || opts.Bus == nil {
		return nil, fmt.Errorf("api: metrics and bus are required")
	}
	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = defaultOperationTimeout
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = defaultHeartbeat
	}
	if opts.Health == nil {
		opts.Health = health.NewChecker(nil)
	}

	s := &Server{
		store:     opts.Store,
		queue:     opts.Queue,
		drafts:    opts.Drafts,
		metrics:   opts.Metrics,
		bus:       opts.Bus,
		health:    opts.Health,
		logger:    opts.Logger.With().Str("component", "api").Logger(),
		version:   opts.Version,
		opTimeout: opts.OperationTimeout,
		heartbeat: opts.Heartbeat,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(s.logger), identity())
	registerRoutes(router, s)
	s.router = router
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on port. It blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, port int, out io.Writer) error {
	if port <= 0 {
		port = 8080
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		// Streams end with ctx instead of holding Shutdown open.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if out != nil {
		fmt.Fprintf(out, "API listening on http://localhost:%d\n", port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

// operation derives the bounded context used by claim, release and send.
func (s *Server) operation(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), s.opTimeout)
}
