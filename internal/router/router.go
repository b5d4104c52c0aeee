package router

import (
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/examguard-backend/internal/config"
	"github.com/stemsi/examguard-backend/internal/handler"
	"github.com/stemsi/examguard-backend/internal/middleware"
	"github.com/stemsi/examguard-backend/internal/response"
	"github.com/stemsi/examguard-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Assessment *handler.AssessmentHandler
	Session    *handler.SessionHandler
	Review     *handler.ReviewHandler
	Monitor    *handler.MonitorHandler
	WS         *handler.WSHandler
	System     *handler.SystemHandler
}

// Deps are the services the route middlewares need.
type Deps struct {
	Auth         *service.AuthService
	Sessions     *service.SessionService
	EventLimiter *middleware.RateLimiter
}

// EventRateKey buckets event reports per authenticated student.
func EventRateKey(c *gin.Context) string {
	claims := middleware.GetClaims(c)
	if claims == nil {
		return ""
	}
	return config.CacheKey.EventRateKey(claims.UserID)
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(deps Deps, handlers *Handlers, cfg *config.Config) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// Restrict to AllowedOrigins when set; allow all otherwise.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", response.HeaderRequestID}
	corsConfig.ExposeHeaders = []string{response.HeaderRequestID}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware())

	router.GET("/health", handlers.System.Health)

	compress := middleware.Brotli(brotli.DefaultCompression)

	// ─── 1. Student Group ──────────────────────────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(middleware.RequireStudent(deps.Auth), middleware.NoStore())
	{
		studentAPI.POST("/assessments/:id/enroll", handlers.Session.Enroll)

		attempt := studentAPI.Group("/assessments/:id")
		attempt.Use(middleware.LoadStudentSession(deps.Sessions))
		{
			attempt.POST("/start", handlers.Session.Start)
			attempt.GET("/paper", compress, handlers.Session.Paper)
			attempt.GET("/state", handlers.Session.State)
			attempt.GET("/time", handlers.Session.TimeSync)
			attempt.PUT("/answers/:question_id", handlers.Session.SaveAnswer)
			attempt.POST("/navigate", handlers.Session.Navigate)
			attempt.POST("/events", deps.EventLimiter.Middleware(), handlers.Session.ReportEvent)
			attempt.POST("/submit", handlers.Session.Submit)
			attempt.GET("/result", handlers.Session.Result)
		}
	}

	// ─── 2. WebSocket Group ────────────────────────────────────────────
	// Browsers cannot set headers on upgrade; the token rides on ?token=.
	ws := router.Group("/ws/v1/student")
	ws.Use(middleware.RequireStudent(deps.Auth), middleware.LoadStudentSession(deps.Sessions))
	{
		ws.GET("/assessments/:id/stream", handlers.WS.SessionStream)
	}

	// ─── 3. Teacher Group ──────────────────────────────────────────────
	teacherAPI := router.Group("/api/v1/teacher")
	teacherAPI.Use(middleware.RequireTeacher(deps.Auth))
	{
		teacherAPI.GET("/assessments", handlers.Assessment.ListAssessments)
		teacherAPI.POST("/assessments", handlers.Assessment.CreateAssessment)
		teacherAPI.POST("/assessments/validate", handlers.Assessment.ValidateAssessment)
		teacherAPI.GET("/assessments/:id", compress, handlers.Assessment.GetAssessment)
		teacherAPI.PUT("/assessments/:id", handlers.Assessment.ReplaceAssessment)
		teacherAPI.POST("/assessments/:id/publish", handlers.Assessment.PublishAssessment)

		teacherAPI.POST("/assessments/:id/refresh-cache", handlers.Review.RefreshCache)
		teacherAPI.GET("/assessments/:id/sessions", handlers.Review.ListSessions)
		teacherAPI.GET("/assessments/:id/monitor", handlers.Monitor.MonitorSSE)
		teacherAPI.GET("/assessments/:id/monitor/snapshot", handlers.Monitor.Snapshot)

		teacherAPI.GET("/sessions/:session_id", handlers.Review.GetSession)
		teacherAPI.GET("/sessions/:session_id/events", handlers.Review.GetEvents)
		teacherAPI.POST("/sessions/:session_id/evaluate", handlers.Review.Evaluate)
		teacherAPI.PUT("/sessions/:session_id/answers/:question_id/review", handlers.Review.ReviewAnswer)

		teacherAPI.GET("/system/metrics", handlers.System.SystemMetricsSSE)
	}

	return router
}
