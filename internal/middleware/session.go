package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/examguard-backend/internal/model"
	"github.com/stemsi/examguard-backend/internal/response"
	"github.com/stemsi/examguard-backend/internal/service"
)

// ContextKeySession is the Gin context key for the caller's session.
const ContextKeySession = "session"

// LoadStudentSession resolves the student's session for the :id assessment.
func LoadStudentSession(sessionService *service.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		assessmentID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			response.AbortFail(c, http.StatusBadRequest, response.ErrInvalidID)
			return
		}

		sess, err := sessionService.Resolve(c.Request.Context(), assessmentID, claims.UserID)
		if err != nil {
			if errors.Is(err, service.ErrNoSession) {
				response.AbortFail(c, http.StatusNotFound, response.ErrNotEnrolled)
				return
			}
			response.AbortFail(c, http.StatusInternalServerError, response.ErrInternal)
			return
		}

		c.Set(ContextKeySession, sess)
		c.Next()
	}
}

// GetSession retrieves the session set by LoadStudentSession.
func GetSession(c *gin.Context) *model.Session {
	val, exists := c.Get(ContextKeySession)
	if !exists {
		return nil
	}
	sess, ok := val.(*model.Session)
	if !ok {
		return nil
	}
	return sess
}
