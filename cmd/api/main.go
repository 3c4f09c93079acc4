package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/LilT0ny/BlindCheckSystem/api/swagger"
	"github.com/LilT0ny/BlindCheckSystem/internal/handler"
	"github.com/LilT0ny/BlindCheckSystem/internal/middleware"
	"github.com/LilT0ny/BlindCheckSystem/internal/models"
	"github.com/LilT0ny/BlindCheckSystem/internal/repository"
	"github.com/LilT0ny/BlindCheckSystem/internal/service"
	"github.com/LilT0ny/BlindCheckSystem/internal/vault"
	"github.com/LilT0ny/BlindCheckSystem/pkg/cache"
	"github.com/LilT0ny/BlindCheckSystem/pkg/config"
	"github.com/LilT0ny/BlindCheckSystem/pkg/database"
	"github.com/LilT0ny/BlindCheckSystem/pkg/export"
	"github.com/LilT0ny/BlindCheckSystem/pkg/logger"
	corsmiddleware "github.com/LilT0ny/BlindCheckSystem/pkg/middleware/cors"
	reqidmiddleware "github.com/LilT0ny/BlindCheckSystem/pkg/middleware/requestid"
)

// @title BlindCheck API
// @version 0.1.0
// @description Anonymized grade-appeal workflow service
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	var cacheRepo *repository.CacheRepository
	if cfg.Cache.Enabled {
		redisClient, redisErr := cache.NewRedis(cfg.Redis)
		if redisErr != nil {
			logr.Sugar().Warnw("redis unavailable, caching disabled", "error", redisErr)
			cfg.Cache.Enabled = false
		} else {
			cacheRepo = repository.NewCacheRepository(redisClient, logr)
			defer cacheRepo.Close() //nolint:errcheck
		}
	}

	piiVault, err := vault.New(cfg.Vault.EncryptionSecret)
	if err != nil {
		logr.Sugar().Fatalw("failed to init identity vault", "error", err)
	}

	accountRepo := repository.NewAccountRepository(db)
	subjectRepo := repository.NewSubjectRepository(db)
	requestRepo := repository.NewRequestRepository(db)
	resetRepo := repository.NewResetRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	validate := validator.New()
	metricsSvc := service.NewMetricsService()
	auditTrail := service.NewAuditTrail(auditRepo, logr)
	notifier := service.NewQueuedNotifier(notificationRepo, logr)
	notifier.Start(context.Background())
	defer notifier.Stop()
	selector := service.NewAssignmentSelector(
		rand.New(rand.NewSource(time.Now().UnixNano())),
		cfg.Workflow.RosterConstraint,
	)

	authSvc := service.NewAuthService(accountRepo, validate, logr, cfg.JWT)
	accountSvc := service.NewAccountService(accountRepo, piiVault, auditTrail, validate, logr)
	subjectSvc := service.NewSubjectService(subjectRepo, requestRepo, accountRepo, cacheRepo, cfg.Cache, auditTrail, metricsSvc, validate, logr)
	workflowSvc := service.NewWorkflowService(requestRepo, accountRepo, subjectRepo, selector, piiVault, notifier, auditTrail, metricsSvc, cfg.Workflow, validate, logr)
	resetSvc := service.NewResetService(resetRepo, accountRepo, piiVault, auditTrail, validate, logr)
	notificationSvc := service.NewNotificationService(notificationRepo, logr)
	exportSvc := service.NewExportService(requestRepo, export.NewCSVExporter(), export.NewPDFExporter(), cfg.Exports.Enabled, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	accountHandler := handler.NewAccountHandler(accountSvc)
	subjectHandler := handler.NewSubjectHandler(subjectSvc)
	requestHandler := handler.NewRequestHandler(workflowSvc)
	resetHandler := handler.NewResetHandler(resetSvc)
	notificationHandler := handler.NewNotificationHandler(notificationSvc)
	exportHandler := handler.NewExportHandler(exportSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	api.POST("/auth/login", authHandler.Login)
	api.POST("/password-resets", resetHandler.Request)

	authed := api.Group("")
	authed.Use(middleware.JWT(authSvc))
	{
		authed.GET("/auth/me", authHandler.Me)
		authed.PUT("/auth/password", authHandler.ChangePassword)

		authed.GET("/requests", requestHandler.List)
		authed.GET("/requests/:id", requestHandler.Get)
		authed.POST("/requests", middleware.RequireRoles(models.RoleStudent), requestHandler.Submit)
		authed.POST("/requests/:id/decision", middleware.RequireRoles(models.RoleDean), requestHandler.Decide)
		authed.POST("/requests/:id/assignment", middleware.RequireRoles(models.RoleDean), requestHandler.Assign)
		authed.POST("/requests/:id/grade", middleware.RequireRoles(models.RoleInstructor), requestHandler.Grade)

		authed.GET("/accounts", middleware.RequireRoles(models.RoleDean), accountHandler.List)
		authed.POST("/accounts", middleware.RequireRoles(models.RoleDean), accountHandler.Create)
		authed.GET("/accounts/:id", accountHandler.Get)
		authed.PATCH("/accounts/:id", middleware.RequireRoles(models.RoleDean), accountHandler.Update)
		authed.DELETE("/accounts/:id", middleware.RequireRoles(models.RoleDean), accountHandler.Delete)

		authed.GET("/subjects", subjectHandler.List)
		authed.GET("/subjects/:code", subjectHandler.Get)
		authed.POST("/subjects", middleware.RequireRoles(models.RoleDean), subjectHandler.Create)
		authed.PUT("/subjects/:code", middleware.RequireRoles(models.RoleDean), subjectHandler.Update)
		authed.DELETE("/subjects/:code", middleware.RequireRoles(models.RoleDean), subjectHandler.Delete)

		authed.GET("/password-resets", middleware.RequireRoles(models.RoleDean), resetHandler.List)
		authed.POST("/password-resets/:id/complete", middleware.RequireRoles(models.RoleDean), resetHandler.Complete)

		authed.GET("/notifications", notificationHandler.List)
		authed.POST("/notifications/:id/read", notificationHandler.MarkRead)

		authed.GET("/exports/requests", middleware.RequireRoles(models.RoleDean), exportHandler.Requests)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
