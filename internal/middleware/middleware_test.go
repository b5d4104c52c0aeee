package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newAuthRouter(auth *service.AuthService) *gin.Engine {
	r := gin.New()
	r.GET("/student", RequireStudent(auth), func(c *gin.Context) {
		c.String(http.StatusOK, "%d", GetClaims(c).UserID)
	})
	r.GET("/teacher", RequireTeacher(auth), func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	return r
}

func TestRequireStudent(t *testing.T) {
	auth := service.NewAuthService("secret", time.Hour)
	r := newAuthRouter(auth)
	studentToken, err := auth.IssueToken(7, service.RoleStudent)
	require.NoError(t, err)
	teacherToken, err := auth.IssueToken(8, service.RoleTeacher)
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
		body   string
	}{
		{"no token", "/student", "", http.StatusUnauthorized, "TOKEN_REQUIRED"},
		{"garbage token", "/student", "Bearer nope", http.StatusUnauthorized, "TOKEN_INVALID"},
		{"teacher on student route", "/student", "Bearer " + teacherToken, http.StatusForbidden, ""},
		{"student header", "/student", "Bearer " + studentToken, http.StatusOK, "7"},
		{"student via query", "/student?token=" + studentToken, "", http.StatusOK, "7"},
		{"student on teacher route", "/teacher", "Bearer " + studentToken, http.StatusForbidden, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
			if tt.body != "" {
				assert.Contains(t, w.Body.String(), tt.body)
			}
		})
	}
}

func newBrotliRouter(size int) *gin.Engine {
	r := gin.New()
	r.GET("/paper", Brotli(brotli.DefaultCompression), func(c *gin.Context) {
		c.String(http.StatusOK, strings.Repeat("a", size))
	})
	return r
}

func TestBrotli_CompressesLargeBodies(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/paper", nil)
	req.Header.Set("Accept-Encoding", "gzip, br;q=0.9")
	w := httptest.NewRecorder()
	newBrotliRouter(4096).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "br", w.Header().Get("Content-Encoding"))

	plain, err := io.ReadAll(brotli.NewReader(bytes.NewReader(w.Body.Bytes())))
	require.NoError(t, err)
	assert.Len(t, plain, 4096)
}

func TestBrotli_SkipsSmallBodies(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/paper", nil)
	req.Header.Set("Accept-Encoding", "br")
	w := httptest.NewRecorder()
	newBrotliRouter(10).ServeHTTP(w, req)

	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Equal(t, strings.Repeat("a", 10), w.Body.String())
}

func TestBrotli_RespectsAcceptEncoding(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/paper", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	newBrotliRouter(4096).ServeHTTP(w, req)

	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Len(t, w.Body.String(), 4096)
}

func TestRateLimiter_FailsOpenWithoutRedis(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
	defer rdb.Close()

	rl := NewRateLimiter(rdb, 1, time.Minute, func(c *gin.Context) string { return "k" }, zerolog.Nop())
	r := gin.New()
	r.GET("/", rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
	}
}

func TestRateLimiter_EmptyKeySkips(t *testing.T) {
	rl := NewRateLimiter(nil, 1, time.Minute, func(c *gin.Context) string { return "" }, zerolog.Nop())
	r := gin.New()
	r.GET("/", rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}
