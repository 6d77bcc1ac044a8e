package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/trial-match-server/internal/domain"
	"github.com/trial-match-server/internal/service"
	"github.com/trial-match-server/internal/storage"
)

// MatchRequest is the POST /api/v1/match request body.
type MatchRequest struct {
	TrialFile string                  `json:"trial_file"`
	Patients  []service.PatientRecord `json:"patients" binding:"required"`
	Trials    []domain.TrialRecord    `json:"trials" binding:"required"`
	Strategy  string                  `json:"strategy"`
}

// MatchResponse is the POST /api/v1/match response body.
type MatchResponse struct {
	UploadID int64                   `json:"upload_id"`
	Strategy string                  `json:"strategy"`
	Results  []domain.PatientMatches `json:"results"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"version":   "1.0.0",
	}

	if s.health != nil {
		if err := s.health.Health(c.Request.Context()); err != nil {
			body["status"] = "degraded"
			body["database"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		body["database"] = "healthy"
	}

	c.JSON(http.StatusOK, body)
}

// handleMatch runs the matching pipeline over the posted patients and
// trials, persists the outcome, and returns the ranked results.
func (s *Server) handleMatch(c *gin.Context) {
	var req MatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, domain.NewMatchError(domain.ErrCodeInvalidInput, "invalid request body", err.Error()))
		return
	}

	strategy := domain.MatchStrategy(req.Strategy)
	if req.Strategy != "" && !strategy.IsValid() {
		s.respondError(c, domain.NewMatchError(domain.ErrCodeInvalidInput, "unknown strategy", req.Strategy))
		return
	}

	ctx := c.Request.Context()

	patientFiles := make([]string, 0, len(req.Patients))
	for _, p := range req.Patients {
		patientFiles = append(patientFiles, p.Filename)
	}
	uploadID, err := s.store.SaveUpload(ctx, req.TrialFile, patientFiles)
	if err != nil {
		s.respondError(c, err)
		return
	}

	results, err := s.matcher.MatchAll(ctx, req.Patients, req.Trials, strategy)
	if err != nil {
		if statusErr := s.store.UpdateUploadStatus(ctx, uploadID, storage.StatusFailed); statusErr != nil {
			s.logger.WithError(statusErr).Warn("Failed to mark upload as failed")
		}
		s.respondError(c, err)
		return
	}

	if err := s.store.SaveResults(ctx, uploadID, results); err != nil {
		s.respondError(c, err)
		return
	}
	if err := s.store.UpdateUploadStatus(ctx, uploadID, storage.StatusCompleted); err != nil {
		s.logger.WithError(err).Warn("Failed to mark upload as completed")
	}

	if strategy == "" || !strategy.IsValid() {
		strategy = domain.MatchStrategy(s.config.Matching.Strategy)
	}

	s.logger.WithFields(logrus.Fields{
		"upload_id": uploadID,
		"patients":  len(req.Patients),
		"trials":    len(req.Trials),
		"strategy":  strategy,
	}).Info("Match request completed")

	c.JSON(http.StatusOK, MatchResponse{
		UploadID: uploadID,
		Strategy: string(strategy),
		Results:  results,
	})
}

// handleHistory returns recent uploads, newest first.
func (s *Server) handleHistory(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.respondError(c, domain.NewMatchError(domain.ErrCodeInvalidInput, "limit must be a positive integer", raw))
			return
		}
		limit = parsed
	}

	uploads, err := s.store.GetUploadHistory(c.Request.Context(), limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"uploads": uploads})
}

// handleResults returns all stored rows for one upload.
func (s *Server) handleResults(c *gin.Context) {
	uploadID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		s.respondError(c, domain.NewMatchError(domain.ErrCodeInvalidInput, "upload id must be an integer", c.Param("id")))
		return
	}

	results, err := s.store.GetResultsByUpload(c.Request.Context(), uploadID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if len(results) == 0 {
		s.respondError(c, domain.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"upload_id": uploadID, "results": results})
}

// handleStats returns aggregate statistics across all uploads.
func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.store.GetStatistics(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// handleGetTrial fetches one trial record from the registry.
func (s *Server) handleGetTrial(c *gin.Context) {
	if s.registry == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trial registry not configured"})
		return
	}

	record, err := s.registry.GetTrial(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// handleSearchTrials searches the registry by condition keyword.
func (s *Server) handleSearchTrials(c *gin.Context) {
	if s.registry == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trial registry not configured"})
		return
	}

	condition := c.Query("condition")
	if condition == "" {
		s.respondError(c, domain.NewMatchError(domain.ErrCodeInvalidInput, "condition query parameter is required", ""))
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.respondError(c, domain.NewMatchError(domain.ErrCodeInvalidInput, "limit must be a positive integer", raw))
			return
		}
		limit = parsed
	}

	records, err := s.registry.SearchTrials(c.Request.Context(), condition, limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trials": records})
}

// respondError maps domain errors to HTTP status codes.
func (s *Server) respondError(c *gin.Context, err error) {
	var matchErr *domain.MatchError
	var emptyErr *domain.EmptyInputError
	var validationErr *domain.ValidationError
	var extractionErr *domain.ExtractionError

	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.As(err, &matchErr):
		status := http.StatusInternalServerError
		if matchErr.Code == domain.ErrCodeInvalidInput {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": matchErr.Message, "code": matchErr.Code, "details": matchErr.Details})
	case errors.As(err, &emptyErr), errors.As(err, &validationErr), errors.As(err, &extractionErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.logger.WithError(err).WithField("request_id", c.GetString("request_id")).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
