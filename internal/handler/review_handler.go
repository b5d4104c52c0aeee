package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/middleware"
	"github.com/stemsi/examguard-backend/internal/model"
	"github.com/stemsi/examguard-backend/internal/response"
	"github.com/stemsi/examguard-backend/internal/service"
	"github.com/stemsi/examguard-backend/internal/validator"
)

// ReviewHandler handles the teacher's view of sessions: results, evaluation
// and manual review of free-text answers.
type ReviewHandler struct {
	sessionService *service.SessionService
	monitorService *service.MonitorService
	log            zerolog.Logger
}

// NewReviewHandler creates a new ReviewHandler.
func NewReviewHandler(sessionService *service.SessionService, monitorService *service.MonitorService, log zerolog.Logger) *ReviewHandler {
	return &ReviewHandler{
		sessionService: sessionService,
		monitorService: monitorService,
		log:            log.With().Str("component", "review_handler").Logger(),
	}
}

// ListSessions godoc
// GET /api/v1/teacher/assessments/:id/sessions
func (h *ReviewHandler) ListSessions(c *gin.Context) {
	claims := middleware.GetClaims(c)
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	list, err := h.sessionService.ListSessions(c.Request.Context(), claims.UserID, id)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"sessions": list})
}

// GetSession godoc
// GET /api/v1/teacher/sessions/:session_id
func (h *ReviewHandler) GetSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	id, ok := parseID(c, "session_id")
	if !ok {
		return
	}

	detail, err := h.sessionService.Detail(c.Request.Context(), claims.UserID, id)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, detail)
}

// GetEvents godoc
// GET /api/v1/teacher/sessions/:session_id/events
func (h *ReviewHandler) GetEvents(c *gin.Context) {
	claims := middleware.GetClaims(c)
	id, ok := parseID(c, "session_id")
	if !ok {
		return
	}

	if _, _, err := h.sessionService.TeacherSession(c.Request.Context(), claims.UserID, id); err != nil {
		fail(c, h.log, err)
		return
	}
	events, err := h.monitorService.Events(c.Request.Context(), id)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"events": events})
}

// Evaluate godoc
// POST /api/v1/teacher/sessions/:session_id/evaluate
// Grades a submitted session now instead of waiting for the grading queue.
func (h *ReviewHandler) Evaluate(c *gin.Context) {
	claims := middleware.GetClaims(c)
	id, ok := parseID(c, "session_id")
	if !ok {
		return
	}

	res, err := h.sessionService.Evaluate(c.Request.Context(), claims.UserID, id)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"applied": res.Applied,
		"result":  service.TeacherResult(res.Session),
	})
}

// ReviewAnswer godoc
// PUT /api/v1/teacher/sessions/:session_id/answers/:question_id/review
func (h *ReviewHandler) ReviewAnswer(c *gin.Context) {
	claims := middleware.GetClaims(c)
	sessionID, ok := parseID(c, "session_id")
	if !ok {
		return
	}
	questionID, ok := parseID(c, "question_id")
	if !ok {
		return
	}

	var req model.ReviewAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.Invalid(c, fields)
		return
	}

	res, err := h.sessionService.Review(c.Request.Context(), claims.UserID, sessionID, questionID, *req.Score)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"result": service.TeacherResult(res.Session)})
}

// RefreshCache godoc
// POST /api/v1/teacher/assessments/:id/refresh-cache
func (h *ReviewHandler) RefreshCache(c *gin.Context) {
	claims := middleware.GetClaims(c)
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	if err := h.sessionService.RefreshAssessment(c.Request.Context(), claims.UserID, id); err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"refreshed": true})
}
