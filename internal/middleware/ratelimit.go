package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/response"
)

// RateLimiter is a fixed-window limiter shared across instances through Redis.
type RateLimiter struct {
	rdb    *redis.Client
	limit  int64
	window time.Duration
	key    func(c *gin.Context) string
	log    zerolog.Logger
}

// NewRateLimiter allows limit requests per window for each key.
func NewRateLimiter(rdb *redis.Client, limit int, window time.Duration, key func(c *gin.Context) string, log zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		rdb:    rdb,
		limit:  int64(limit),
		window: window,
		key:    key,
		log:    log.With().Str("component", "rate_limiter").Logger(),
	}
}

// Allow counts one hit for key and reports whether it is within the limit.
// A Redis failure lets the request through.
func (rl *RateLimiter) Allow(c *gin.Context, key string) bool {
	ctx := c.Request.Context()

	pipe := rl.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, rl.window)
	if _, err := pipe.Exec(ctx); err != nil {
		rl.log.Warn().Err(err).Msg("Rate limiter unavailable, allowing request")
		return true
	}
	return incr.Val() <= rl.limit
}

// Middleware returns a Gin middleware that rate-limits requests by key.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := rl.key(c)
		if key == "" {
			c.Next()
			return
		}
		if !rl.Allow(c, key) {
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}
