package middleware

import (
	"github.com/gin-gonic/gin"
)

// NoStore forbids caching of per-student session responses.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}
