package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	sqerr "github.com/zulandar/stylequeue/internal/errors"
	"github.com/zulandar/stylequeue/internal/metrics"
)

type metricsResponse struct {
	Global   metrics.Snapshot            `json:"global"`
	Stylists map[string]metrics.Snapshot `json:"stylists"`
}

func (s *Server) handleMetrics(c *gin.Context) {
	ok(c, http.StatusOK, metricsResponse{
		Global:   s.metrics.Global(),
		Stylists: s.metrics.Stylists(),
	})
}

func (s *Server) handleStylistMetrics(c *gin.Context) {
	snap, _ := s.metrics.Stylist(c.Param("id"))
	ok(c, http.StatusOK, snap)
}

func (s *Server) handleSignal(c *gin.Context) {
	var sig metrics.Signal
	if !bind(c, &sig) {
		return
	}
	recorded, err := s.metrics.RecordSignal(sig)
	if err != nil {
		fail(c, sqerr.NewInvalidRequest(err.Error()))
		return
	}
	status := http.StatusAccepted
	if !recorded {
		status = http.StatusOK
	}
	ok(c, status, gin.H{"recorded": recorded})
}
