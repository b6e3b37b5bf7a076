package main

import (
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/olympiad-codes-api/api/swagger"
	"github.com/noah-isme/olympiad-codes-api/internal/handler"
	"github.com/noah-isme/olympiad-codes-api/internal/middleware"
	"github.com/noah-isme/olympiad-codes-api/internal/models"
	"github.com/noah-isme/olympiad-codes-api/internal/service"
	"github.com/noah-isme/olympiad-codes-api/pkg/config"
	"github.com/noah-isme/olympiad-codes-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/olympiad-codes-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/olympiad-codes-api/pkg/middleware/requestid"
	"github.com/noah-isme/olympiad-codes-api/pkg/storage"
)

type routeDeps struct {
	sessions     *service.SessionService
	pool         *service.CodePoolService
	reservations *service.ReservationService
	scheduler    *service.ReservationScheduler
	allocation   *service.AllocationService
	cascade      *service.CascadeService
	availability *service.AvailabilityService
	requests     *service.RequestService
	students     *service.StudentService
	tokens       *service.TokenService
	metrics      *service.MetricsService
	screenshots  *storage.LocalStorage
	db           *sqlx.DB
}

func newRouter(cfg *config.Config, logr *zap.Logger, deps routeDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.metrics))

	metricsHandler := handler.NewMetricsHandler(deps.metrics, deps.db)
	sessionHandler := handler.NewSessionHandler(deps.sessions, deps.pool, deps.reservations, deps.scheduler, deps.allocation, deps.availability, deps.requests)
	codeHandler := handler.NewCodeHandler(deps.allocation)
	requestHandler := handler.NewRequestHandler(deps.requests, deps.cascade, deps.screenshots)
	studentHandler := handler.NewStudentHandler(deps.students, deps.tokens)

	r.GET("/health", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/students/register", studentHandler.Register)

	secured := api.Group("")
	secured.Use(middleware.JWT(deps.tokens))

	admin := middleware.RequireRoles(models.RoleAdmin)
	adminOrSelf := middleware.RBAC(string(models.RoleAdmin), "SELF")
	anyRole := middleware.RequireRoles(models.RoleAdmin, models.RoleStudent)

	secured.GET("/metrics/summary", admin, metricsHandler.Summary)

	sessions := secured.Group("/sessions")
	sessions.POST("/ingest", admin, sessionHandler.Ingest)
	sessions.GET("", admin, sessionHandler.List)
	sessions.GET("/active", anyRole, sessionHandler.Active)
	sessions.GET("/:id", admin, sessionHandler.Get)
	sessions.DELETE("/:id", admin, sessionHandler.Delete)
	sessions.POST("/:id/activate", admin, sessionHandler.Activate)
	sessions.POST("/:id/deactivate", admin, sessionHandler.Deactivate)
	sessions.GET("/:id/stats", admin, sessionHandler.Stats)
	sessions.POST("/:id/reservations", admin, sessionHandler.Reserve)
	sessions.POST("/:id/preassign", admin, sessionHandler.Preassign)
	sessions.GET("/:id/availability", anyRole, sessionHandler.Availability)
	sessions.GET("/:id/screenshots/pending", admin, sessionHandler.PendingScreenshots)
	sessions.POST("/:id/students/:studentId/assign", admin, codeHandler.ClaimOnDemand)
	sessions.POST("/:id/requests", admin, requestHandler.GetOrCreate)
	sessions.GET("/:id/requests/:studentId", adminOrSelf, requestHandler.Get)
	sessions.GET("/:id/options/:studentId", adminOrSelf, requestHandler.Options)

	secured.PUT("/codes/:codeId/assignee", admin, codeHandler.Reassign)

	requests := secured.Group("/requests")
	requests.POST("/:requestId/screenshot", anyRole, requestHandler.Screenshot)
	requests.POST("/:requestId/screenshot/upload", anyRole, requestHandler.UploadScreenshot)

	students := secured.Group("/students")
	students.GET("", admin, studentHandler.List)
	students.POST("/bulk", admin, studentHandler.BulkCreate)
	students.DELETE("/classes/:class", admin, studentHandler.DeleteByClass)
	students.GET("/telegram/:telegramId", admin, studentHandler.GetByTelegram)
	students.GET("/:studentId", adminOrSelf, studentHandler.Get)
	students.POST("/:studentId/claim", adminOrSelf, requestHandler.Claim)

	return r
}
