package api

import (
	"github.com/gin-gonic/gin"
)

// registerRoutes sets up all API routes on the Gin router.
func registerRoutes(router *gin.Engine, s *Server) {
	router.NoRoute(notFoundRoute)
	router.GET("/healthz", s.handleHealthz)

	api := router.Group("/api")
	api.GET("/status", s.handleStatus)

	api.GET("/conversations", s.handleListConversations)
	api.POST("/conversations", s.handleCreateConversation)
	api.GET("/conversations/:id", s.handleGetConversation)
	api.POST("/conversations/:id/reply", s.handleReply)

	api.GET("/queue", s.handleQueue)
	api.GET("/queue/stats", s.handleQueueStats)
	claims := api.Group("/queue/:id", requireStylist())
	claims.POST("/claim", s.handleClaim)
	claims.POST("/release", s.handleRelease)
	claims.POST("/begin", s.handleBegin)
	api.POST("/queue/:id/retriage", s.handleRetriage)

	api.GET("/drafts/:id", s.handleGetDraft)
	api.GET("/drafts/:id/preview", s.handlePreviewDraft)
	api.POST("/drafts/:id/validate", s.handleValidateDraft)
	drafts := api.Group("/drafts", requireStylist())
	drafts.POST("", s.handleCreateDraft)
	drafts.PATCH("/:id", s.handleSaveDraft)
	drafts.POST("/:id/modules", s.handleAddModule)
	drafts.DELETE("/:id/modules/:module_id", s.handleRemoveModule)
	drafts.PUT("/:id/order", s.handleReorder)
	drafts.POST("/:id/send", s.handleSend)

	api.GET("/metrics", s.handleMetrics)
	api.GET("/metrics/stylists/:id", s.handleStylistMetrics)
	api.POST("/metrics/signals", s.handleSignal)

	api.GET("/events", s.handleSSE)
	api.GET("/ws", s.handleWebSocket)
}
