package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/referral-portal-api/api/swagger"
	"github.com/noah-isme/referral-portal-api/internal/handler"
	"github.com/noah-isme/referral-portal-api/internal/middleware"
	"github.com/noah-isme/referral-portal-api/internal/repository"
	"github.com/noah-isme/referral-portal-api/internal/service"
	"github.com/noah-isme/referral-portal-api/internal/workflow"
	"github.com/noah-isme/referral-portal-api/pkg/cache"
	"github.com/noah-isme/referral-portal-api/pkg/config"
	"github.com/noah-isme/referral-portal-api/pkg/database"
	"github.com/noah-isme/referral-portal-api/pkg/export"
	"github.com/noah-isme/referral-portal-api/pkg/jobs"
	"github.com/noah-isme/referral-portal-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/referral-portal-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/referral-portal-api/pkg/middleware/requestid"
	"github.com/noah-isme/referral-portal-api/pkg/storage"
)

// @title Referral Portal API
// @version 1.0.0
// @description Document review and validation workflow for referral case files.
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	metricsService := service.NewMetricsService()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
	}
	var cacheService *service.CacheService
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck
		cacheRepo := repository.NewCacheRepository(redisClient, logr)
		cacheService = service.NewCacheService(cacheRepo, metricsService, 10*time.Minute, logr, true)
	}

	uploadsStorage, err := storage.NewLocalStorage(cfg.Uploads.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init uploads storage", "error", err)
	}
	exportsStorage, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init exports storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)

	userRepo := repository.NewUserRepository(db)
	referralRepo := repository.NewReferralRepository(db)
	unitRepo := repository.NewUnitRepository(db)
	reportRepo := repository.NewReportRepository(db)
	documentRepo := repository.NewDocumentRepository(db)
	eventRepo := repository.NewEventRepository(db)
	exportJobRepo := repository.NewExportJobRepository(db)

	engine := workflow.NewEngine(workflow.ParsePolicy(cfg.Workflow.ValidationPolicy))

	authService := service.NewAuthService(userRepo, validator.New(), logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "referral-portal-api",
	})
	userService := service.NewUserService(userRepo, validator.New(), logr)
	referralService := service.NewReferralService(referralRepo, unitRepo, logr)
	reportService := service.NewReportService(reportRepo, documentRepo, eventRepo, referralRepo, unitRepo, engine, cacheService, cfg.Reports.CacheTTL, logr)
	documentService := service.NewDocumentService(documentRepo, eventRepo, referralRepo, unitRepo, uploadsStorage, signer, reportService, engine, userRepo, metricsService, logr, service.DocumentServiceConfig{
		MaxFileSize:  cfg.Uploads.MaxFileSizeBytes,
		AllowedMIMEs: cfg.Uploads.AllowedMIMEs,
		APIPrefix:    cfg.APIPrefix,
	})
	validationService := service.NewValidationService(documentRepo, eventRepo, referralRepo, unitRepo, reportService, engine, cacheService, metricsService, userRepo, logr, cfg.Workflow.ValidatorsTTL)
	exportService := service.NewExportService(exportJobRepo, documentRepo, eventRepo, exportsStorage, signer, export.NewCSVExporter(), export.NewPDFExporter(), userRepo, metricsService, logr, cfg.APIPrefix)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.Exports.Enabled {
		queue := jobs.NewQueue("exports", exportService.Process, jobs.QueueConfig{
			Workers:    cfg.Exports.WorkerConcurrency,
			MaxRetries: cfg.Exports.WorkerRetries,
			Logger:     logr,
		})
		queue.Start(ctx)
		defer queue.Stop()
		exportService.SetQueue(queue)

		go func() {
			ticker := time.NewTicker(time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					deleted, err := exportsStorage.CleanupOlderThan(cfg.Exports.RetentionTTL)
					if err != nil {
						logr.Sugar().Warnw("export retention sweep failed", "error", err)
					} else if len(deleted) > 0 {
						logr.Sugar().Infow("export retention sweep removed files", "count", len(deleted))
					}
				}
			}
		}()
	}

	authHandler := handler.NewAuthHandler(authService)
	userHandler := handler.NewUserHandler(userService)
	referralHandler := handler.NewReferralHandler(referralService)
	reportHandler := handler.NewReportHandler(reportService)
	documentHandler := handler.NewDocumentHandler(documentService)
	validationHandler := handler.NewValidationHandler(validationService)
	exportHandler := handler.NewExportHandler(exportService)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.WithResponseMeta())
	r.Use(middleware.Metrics(metricsService))

	metricsHandler := handler.NewMetricsHandler(metricsService)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "database unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/forgot-password", authHandler.ForgotPassword)
		auth.POST("/reset-password", authHandler.ResetPassword)

		authed := auth.Group("", middleware.JWT(authService))
		authed.POST("/logout", authHandler.Logout)
		authed.POST("/change-password", authHandler.ChangePassword)
		authed.GET("/me", authHandler.Me)
	}

	// Signed-token downloads authenticate via the token itself.
	api.GET("/documents/:id/download", documentHandler.Download)
	api.GET("/exports/:id/download", exportHandler.Download)

	protected := api.Group("", middleware.JWT(authService))
	{
		users := protected.Group("/users", middleware.RBAC("ADMIN", "SUPERADMIN"))
		users.GET("", userHandler.List)
		users.POST("", middleware.Audit(userRepo, "user.create", "user"), userHandler.Create)
		users.GET("/:id", userHandler.Get)
		users.PUT("/:id", middleware.Audit(userRepo, "user.update", "user"), userHandler.Update)
		users.DELETE("/:id", middleware.Audit(userRepo, "user.delete", "user"), userHandler.Delete)

		protected.GET("/referrals/:id", referralHandler.Get)
		protected.GET("/reports/:id", reportHandler.Get)
		protected.POST("/reports/:id/documents", documentHandler.Upload)

		protected.GET("/documents/:id", documentHandler.Get)
		protected.PUT("/documents/:id/file", documentHandler.Replace)
		protected.GET("/documents/:id/events", documentHandler.Events)
		protected.GET("/documents/:id/validators", validationHandler.Validators)
		protected.POST("/documents/:id/validation-requests", validationHandler.SubmitRequest)
		protected.POST("/documents/:id/validation-responses", validationHandler.SubmitResponse)
		protected.POST("/documents/:id/exports", exportHandler.Create)
		protected.GET("/exports/:id", exportHandler.Status)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env, "validation_policy", engine.Policy())
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
