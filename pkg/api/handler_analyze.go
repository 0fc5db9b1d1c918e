package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/faultline-io/faultline/pkg/models"
	"github.com/faultline-io/faultline/pkg/queue"
)

// analyzeHandler handles POST /api/v1/analyze. The analysis runs to
// its verdict before the response is written; slow clients should use
// the async endpoint instead.
func (s *Server) analyzeHandler(c *gin.Context) {
	var req models.AnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	analysisID := uuid.NewString()
	resp := s.orch.Analyze(c.Request.Context(), analysisID, req)
	s.metrics.ObserveRun(resp.Status)
	c.JSON(http.StatusOK, resp)
}

// analyzeAsyncHandler handles POST /api/v1/analyze/async. The request
// is queued and picked up by the worker pool; the caller polls the
// analyses endpoint or subscribes to the run's WebSocket channel.
func (s *Server) analyzeAsyncHandler(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody("async analysis not available"))
		return
	}

	var req models.AnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	analysisID, err := s.store.Enqueue(req)
	if err != nil {
		if errors.Is(err, queue.ErrQueueFull) {
			c.JSON(http.StatusTooManyRequests, errorBody("analysis queue is full"))
			return
		}
		c.JSON(http.StatusInternalServerError, errorBody("failed to enqueue analysis"))
		return
	}

	c.JSON(http.StatusAccepted, SubmitResponse{
		AnalysisID: analysisID,
		Status:     queue.RunPending,
	})
}

// getAnalysisHandler handles GET /api/v1/analyses/:id.
func (s *Server) getAnalysisHandler(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody("async analysis not available"))
		return
	}

	run, err := s.store.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, errorBody("analysis not found"))
		return
	}
	c.JSON(http.StatusOK, run)
}

// listAnalysesHandler handles GET /api/v1/analyses.
func (s *Server) listAnalysesHandler(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody("async analysis not available"))
		return
	}
	c.JSON(http.StatusOK, s.store.List())
}

// cancelAnalysisHandler handles POST /api/v1/analyses/:id/cancel.
// Pending runs are dropped from the queue; running ones get their
// context cancelled and finish with a refusal.
func (s *Server) cancelAnalysisHandler(c *gin.Context) {
	if s.store == nil || s.pool == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody("async analysis not available"))
		return
	}

	analysisID := c.Param("id")
	if _, err := s.store.Get(analysisID); err != nil {
		c.JSON(http.StatusNotFound, errorBody("analysis not found"))
		return
	}
	if !s.pool.CancelRun(analysisID) {
		c.JSON(http.StatusConflict, errorBody("analysis is not in a cancellable state"))
		return
	}

	c.JSON(http.StatusOK, CancelResponse{
		AnalysisID: analysisID,
		Message:    "cancellation requested",
	})
}
