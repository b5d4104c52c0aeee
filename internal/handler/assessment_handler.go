package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/middleware"
	"github.com/stemsi/examguard-backend/internal/model"
	"github.com/stemsi/examguard-backend/internal/response"
	"github.com/stemsi/examguard-backend/internal/service"
)

// AssessmentHandler handles assessment authoring endpoints.
type AssessmentHandler struct {
	assessmentService *service.AssessmentService
	log               zerolog.Logger
}

// NewAssessmentHandler creates a new AssessmentHandler.
func NewAssessmentHandler(assessmentService *service.AssessmentService, log zerolog.Logger) *AssessmentHandler {
	return &AssessmentHandler{
		assessmentService: assessmentService,
		log:               log.With().Str("component", "assessment_handler").Logger(),
	}
}

func bindInput(c *gin.Context) (*model.AssessmentInput, bool) {
	var in model.AssessmentInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		return nil, false
	}
	return &in, true
}

// ListAssessments godoc
// GET /api/v1/teacher/assessments
func (h *AssessmentHandler) ListAssessments(c *gin.Context) {
	claims := middleware.GetClaims(c)

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "10"))

	list, pagination, err := h.assessmentService.ListByTeacher(c.Request.Context(), claims.UserID, page, perPage)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.SuccessWithPagination(c, http.StatusOK, gin.H{"assessments": list}, pagination)
}

// CreateAssessment godoc
// POST /api/v1/teacher/assessments
// Stores a new draft.
func (h *AssessmentHandler) CreateAssessment(c *gin.Context) {
	claims := middleware.GetClaims(c)
	in, ok := bindInput(c)
	if !ok {
		return
	}

	a, err := h.assessmentService.Create(c.Request.Context(), claims.UserID, in)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"assessment": a})
}

// ValidateAssessment godoc
// POST /api/v1/teacher/assessments/validate?publish=true
// Dry-runs the authoring rules without storing anything.
func (h *AssessmentHandler) ValidateAssessment(c *gin.Context) {
	in, ok := bindInput(c)
	if !ok {
		return
	}
	forPublish := c.Query("publish") == "true"

	if err := h.assessmentService.Validate(in, forPublish); err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"valid": true})
}

// GetAssessment godoc
// GET /api/v1/teacher/assessments/:id
func (h *AssessmentHandler) GetAssessment(c *gin.Context) {
	claims := middleware.GetClaims(c)
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	a, err := h.assessmentService.Get(c.Request.Context(), claims.UserID, id)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"assessment": a})
}

// ReplaceAssessment godoc
// PUT /api/v1/teacher/assessments/:id
// Overwrites a draft. Published assessments are immutable.
func (h *AssessmentHandler) ReplaceAssessment(c *gin.Context) {
	claims := middleware.GetClaims(c)
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	in, ok := bindInput(c)
	if !ok {
		return
	}

	a, err := h.assessmentService.Replace(c.Request.Context(), claims.UserID, id, in)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"assessment": a})
}

// PublishAssessment godoc
// POST /api/v1/teacher/assessments/:id/publish
func (h *AssessmentHandler) PublishAssessment(c *gin.Context) {
	claims := middleware.GetClaims(c)
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	a, err := h.assessmentService.Publish(c.Request.Context(), claims.UserID, id)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"assessment": a})
}
