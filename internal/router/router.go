package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/handler"
	"github.com/stemsi/exstem-cbt/internal/middleware"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/response"
	"github.com/stemsi/exstem-cbt/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth    *handler.AuthHandler
	Student *handler.StudentHandler
	Exam    *handler.ExamHandler
	Token   *handler.TokenHandler
	Grading *handler.GradingHandler
	Monitor *handler.MonitorHandler
	WS      *handler.WSHandler
}

// Limiters holds the rate limiters applied to abuse-prone routes.
type Limiters struct {
	// Login is keyed by client IP.
	Login middleware.Limiter
	// Validate is keyed by user and shared across instances when Redis backs it.
	Validate middleware.Limiter
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	limiters Limiters,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "Content-Disposition"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	limiterLog := log.With().Str("component", "ratelimit").Logger()

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	auth := router.Group("/api/v1/auth")
	{
		auth.POST("/login", middleware.Limit(limiters.Login, limiterLog), handlers.Auth.Login)
		auth.GET("/me", middleware.RequireJWT(authService), handlers.Auth.Me)
	}

	// ─── 2. Student Group (JWT, student role) ──────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireJWT(authService),
		middleware.RequireRole(model.RoleStudent),
		middleware.NoStore(),
	)
	{
		studentAPI.POST("/tokens/validate",
			middleware.Limit(limiters.Validate, limiterLog),
			handlers.Student.ValidateToken,
		)
		studentAPI.POST("/exams/:exam_id/start", handlers.Student.StartExam)
		studentAPI.GET("/sessions", handlers.Student.ListSessions)
		studentAPI.GET("/sessions/:session_id", handlers.Student.GetSession)
		studentAPI.GET("/sessions/:session_id/questions", handlers.Student.GetQuestions)
		studentAPI.PUT("/sessions/:session_id/answers", handlers.Student.SaveAnswer)
		studentAPI.POST("/sessions/:session_id/submit", handlers.Student.SubmitExam)
		studentAPI.GET("/summary", handlers.Student.GetSummary)
	}

	// ─── 3. WebSocket Group (token via query) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(
		middleware.RequireJWT(authService),
		middleware.RequireRole(model.RoleStudent),
	)
	{
		ws.GET("/student/sessions/:session_id/stream", handlers.WS.SessionStream)
	}

	// ─── 4. Staff Group (JWT, teacher or admin) ────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(
		middleware.RequireJWT(authService),
		middleware.RequireStaff(),
		middleware.NoStore(),
	)
	{
		// Exams
		adminAPI.POST("/exams", handlers.Exam.CreateExam)
		adminAPI.GET("/exams/:id", handlers.Exam.GetExam)
		adminAPI.POST("/exams/:id/questions", handlers.Exam.AddQuestion)
		adminAPI.POST("/exams/:id/publish", handlers.Exam.PublishExam)
		adminAPI.PATCH("/exams/:id/status", handlers.Exam.UpdateStatus)
		adminAPI.POST("/exams/:id/regrade", handlers.Exam.RegradeExam)

		// Reports
		adminAPI.GET("/exams/:id/report", handlers.Exam.GetReport)
		adminAPI.GET("/exams/:id/report.xlsx", handlers.Exam.ExportReport)
		adminAPI.GET("/exams/:id/monitor", handlers.Monitor.MonitorExamSSE)
		adminAPI.GET("/users/:user_id/summary", handlers.Exam.GetStudentSummary)
		adminAPI.GET("/stats",
			middleware.RequireRole(model.RoleAdmin, model.RoleSuperAdmin),
			handlers.Exam.GetSystemStats,
		)

		// Tokens
		adminAPI.POST("/tokens", handlers.Token.CreateToken)
		adminAPI.GET("/exams/:id/tokens", handlers.Token.ListTokens)
		adminAPI.POST("/tokens/:token/revoke", handlers.Token.RevokeToken)
		adminAPI.POST("/tokens/:token/renew", handlers.Token.RenewToken)
		adminAPI.POST("/tokens/:token/refresh", handlers.Token.RefreshToken)

		// Grading
		adminAPI.PUT("/answers/:id/grade", handlers.Grading.GradeAnswer)
		adminAPI.POST("/sessions/:id/recalculate", handlers.Grading.Recalculate)
		adminAPI.POST("/sessions/:id/terminate",
			middleware.RequireRole(model.RoleAdmin, model.RoleSuperAdmin),
			handlers.Grading.Terminate,
		)
	}

	return router
}
