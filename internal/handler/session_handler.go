package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/middleware"
	"github.com/stemsi/examguard-backend/internal/model"
	"github.com/stemsi/examguard-backend/internal/response"
	"github.com/stemsi/examguard-backend/internal/service"
	"github.com/stemsi/examguard-backend/internal/validator"
)

// SessionHandler handles the student's side of an attempt.
type SessionHandler struct {
	sessionService *service.SessionService
	proctorService *service.ProctorService
	log            zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessionService *service.SessionService, proctorService *service.ProctorService, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		proctorService: proctorService,
		log:            log.With().Str("component", "session_handler").Logger(),
	}
}

type navigateRequest struct {
	Section  int `json:"section" binding:"required,gte=1"`
	Question int `json:"question" binding:"required,gte=1"`
}

// Enroll godoc
// POST /api/v1/student/assessments/:id/enroll
// Creates the student's session (idempotent).
func (h *SessionHandler) Enroll(c *gin.Context) {
	claims := middleware.GetClaims(c)
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	res, err := h.sessionService.Enroll(c.Request.Context(), id, claims.UserID)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	status := http.StatusOK
	if res.Applied {
		status = http.StatusCreated
	}
	response.Success(c, status, gin.H{"session": res.Session})
}

// Start godoc
// POST /api/v1/student/assessments/:id/start
// Starts the attempt, or resumes one already in progress.
func (h *SessionHandler) Start(c *gin.Context) {
	sess := middleware.GetSession(c)

	res, err := h.sessionService.Start(c.Request.Context(), sess.AssessmentID, sess.StudentID)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	state, err := h.sessionService.State(c.Request.Context(), res.Session.ID)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"resumed": !res.Applied, "state": state})
}

// Paper godoc
// GET /api/v1/student/assessments/:id/paper
func (h *SessionHandler) Paper(c *gin.Context) {
	paper, err := h.sessionService.Paper(c.Request.Context(), middleware.GetSession(c))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"paper": paper})
}

// State godoc
// GET /api/v1/student/assessments/:id/state
// Reload snapshot: remaining time, position, counters and saved answers.
func (h *SessionHandler) State(c *gin.Context) {
	state, err := h.sessionService.State(c.Request.Context(), middleware.GetSession(c).ID)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"state": state})
}

// SaveAnswer godoc
// PUT /api/v1/student/assessments/:id/answers/:question_id
func (h *SessionHandler) SaveAnswer(c *gin.Context) {
	questionID, ok := parseID(c, "question_id")
	if !ok {
		return
	}
	var req model.SaveAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.Invalid(c, fields)
		return
	}

	res, err := h.sessionService.SaveAnswer(c.Request.Context(), middleware.GetSession(c).ID, questionID, &req)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"applied": res.Applied})
}

// Navigate godoc
// POST /api/v1/student/assessments/:id/navigate
func (h *SessionHandler) Navigate(c *gin.Context) {
	var req navigateRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.Invalid(c, fields)
		return
	}

	res, err := h.sessionService.Navigate(c.Request.Context(), middleware.GetSession(c).ID, req.Section, req.Question)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"section":  res.Session.CurrentSection,
		"question": res.Session.CurrentQuestion,
	})
}

// ReportEvent godoc
// POST /api/v1/student/assessments/:id/events
// Feeds one proctoring signal to the session's collector.
func (h *SessionHandler) ReportEvent(c *gin.Context) {
	var req model.ReportEventRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.Invalid(c, fields)
		return
	}

	ctx := service.WithClient(c.Request.Context(), c.ClientIP(), c.Request.UserAgent())
	status, err := h.proctorService.Report(ctx, middleware.GetSession(c), &req)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, status)
}

// Submit godoc
// POST /api/v1/student/assessments/:id/submit
func (h *SessionHandler) Submit(c *gin.Context) {
	res, err := h.sessionService.Submit(c.Request.Context(), middleware.GetSession(c).ID)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"applied": res.Applied,
		"status":  res.Session.Status,
		"reason":  res.Session.SubmitReason,
	})
}

// Result godoc
// GET /api/v1/student/assessments/:id/result
func (h *SessionHandler) Result(c *gin.Context) {
	res, err := h.sessionService.Result(c.Request.Context(), middleware.GetSession(c))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"result": res})
}

// TimeSync godoc
// GET /api/v1/student/assessments/:id/time
// Lightweight clock sync served from the deadline cache.
func (h *SessionHandler) TimeSync(c *gin.Context) {
	now := time.Now()
	remaining, err := h.sessionService.Remaining(c.Request.Context(), middleware.GetSession(c).ID, now)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"server_time":       now.UTC(),
		"remaining_seconds": remaining.Seconds(),
	})
}
