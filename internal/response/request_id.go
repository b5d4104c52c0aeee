package response

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// ContextKeyRequestID is the gin context key holding the request id.
	ContextKeyRequestID = "request_id"
	HeaderRequestID     = "X-Request-ID"

	maxRequestIDLen = 64
)

// RequestIDMiddleware tags every request with an id, reusing a well-formed
// X-Request-ID from the client or a proxy in front of us.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(HeaderRequestID)
		if !validRequestID(reqID) {
			reqID = uuid.NewString()
		}
		c.Set(ContextKeyRequestID, reqID)
		c.Header(HeaderRequestID, reqID)
		c.Next()
	}
}

// RequestID returns the id of the current request. Outside the middleware
// (the WebSocket upgrade path, tests) a fresh id is minted and remembered.
func RequestID(c *gin.Context) string {
	if id := c.GetString(ContextKeyRequestID); id != "" {
		return id
	}
	id := uuid.NewString()
	c.Set(ContextKeyRequestID, id)
	return id
}

// validRequestID accepts short printable tokens only, so a client cannot
// inject log-breaking bytes through the header.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.', r == ':':
		default:
			return false
		}
	}
	return true
}
