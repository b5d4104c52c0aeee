package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/examguard-backend/internal/response"
	"github.com/stemsi/examguard-backend/internal/service"
)

const (
	// ContextKeyClaims is the Gin context key for JWT claims.
	ContextKeyClaims = "claims"
)

var errNoToken = errors.New("authorization header or token query required")

// RequireStudent validates a student JWT.
func RequireStudent(authService *service.AuthService) gin.HandlerFunc {
	return requireRole(authService, service.RoleStudent, response.ErrStudentAccessOnly)
}

// RequireTeacher validates a teacher JWT.
func RequireTeacher(authService *service.AuthService) gin.HandlerFunc {
	return requireRole(authService, service.RoleTeacher, response.ErrTeacherAccessOnly)
}

func requireRole(authService *service.AuthService, role service.Role, denied response.ErrCode) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := extractAndValidateClaims(c, authService)
		if err != nil {
			code := response.ErrTokenInvalid
			if errors.Is(err, errNoToken) {
				code = response.ErrTokenRequired
			}
			response.AbortFail(c, http.StatusUnauthorized, code)
			return
		}

		if claims.Role != role {
			response.AbortFail(c, http.StatusForbidden, denied)
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// GetClaims retrieves the JWT claims from the Gin context.
func GetClaims(c *gin.Context) *service.Claims {
	val, exists := c.Get(ContextKeyClaims)
	if !exists {
		return nil
	}
	claims, ok := val.(*service.Claims)
	if !ok {
		return nil
	}
	return claims
}

func extractAndValidateClaims(c *gin.Context, authService *service.AuthService) (*service.Claims, error) {
	tokenStr := ""

	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			tokenStr = parts[1]
		}
	}

	// EventSource and WebSocket upgrades cannot send headers.
	if tokenStr == "" {
		tokenStr = c.Query("token")
	}

	if tokenStr == "" {
		return nil, errNoToken
	}

	return authService.ValidateToken(tokenStr)
}
