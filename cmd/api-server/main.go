package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/prodforms/formcap-api/api/swagger"
	"github.com/prodforms/formcap-api/internal/handler"
	"github.com/prodforms/formcap-api/internal/middleware"
	"github.com/prodforms/formcap-api/internal/models"
	"github.com/prodforms/formcap-api/internal/repository"
	"github.com/prodforms/formcap-api/internal/service"
	"github.com/prodforms/formcap-api/pkg/cache"
	"github.com/prodforms/formcap-api/pkg/config"
	"github.com/prodforms/formcap-api/pkg/database"
	"github.com/prodforms/formcap-api/pkg/jobs"
	"github.com/prodforms/formcap-api/pkg/logger"
	corsmiddleware "github.com/prodforms/formcap-api/pkg/middleware/cors"
	reqidmiddleware "github.com/prodforms/formcap-api/pkg/middleware/requestid"
	"github.com/prodforms/formcap-api/pkg/storage"
)

// @title FormCap API
// @version 1.0.0
// @description Form capture and workflow service for production and quality records
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
		logr.Sugar().Fatalw("failed to connect to database", "error", err)
	}
	defer db.Close() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	userRepo := repository.NewUserRepository(db)
	templateRepo := repository.NewTemplateRepository(db)
	entryRepo := repository.NewEntryRepository(db)
	exportRepo := repository.NewExportJobRepository(db)

	var metricsSvc *service.MetricsService
	if cfg.Metrics.Enabled {
		metricsSvc = service.NewMetricsService()
	}

	cacheSvc := buildCacheService(cfg, metricsSvc, logr)
	validate := validator.New()

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "formcap-api",
		SingleSession:      false,
	})
	userSvc := service.NewUserService(userRepo, validate, logr)
	templateSvc := service.NewTemplateService(templateRepo, cacheSvc, validate, logr, cfg.Cache.TemplateTTL)
	entrySvc := service.NewEntryService(entryRepo, templateSvc, validate, logr)

	exportSvc, exportQueue, err := buildExports(ctx, cfg, exportRepo, entryRepo, templateSvc, metricsSvc, validate, logr)
	if err != nil {
		logr.Sugar().Fatalw("failed to initialize exports", "error", err)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(reqidmiddleware.Middleware())
	router.Use(logger.GinMiddleware(logr))
	router.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	router.Use(middleware.Metrics(metricsSvc))

	registerRoutes(router, cfg, userRepo, authSvc, userSvc, templateSvc, entrySvc, exportSvc, metricsSvc)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("server shutdown failed", "error", err)
	}
	if exportQueue != nil {
		exportQueue.Stop()
	}
}

func buildCacheService(cfg *config.Config, metrics *service.MetricsService, logr *zap.Logger) *service.CacheService {
	if !cfg.Cache.Enabled {
		return service.NewCacheService(nil, metrics, cfg.Cache.TemplateTTL, logr, false)
	}
	client, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		return service.NewCacheService(nil, metrics, cfg.Cache.TemplateTTL, logr, false)
	}
	repo := repository.NewCacheRepository(client, logr)
	return service.NewCacheService(repo, metrics, cfg.Cache.TemplateTTL, logr, true)
}

func buildExports(
	ctx context.Context,
	cfg *config.Config,
	exportRepo *repository.ExportJobRepository,
	entryRepo *repository.EntryRepository,
	templateSvc *service.TemplateService,
	metrics *service.MetricsService,
	validate *validator.Validate,
	logr *zap.Logger,
) (*service.ExportService, *jobs.Queue, error) {
	if !cfg.Exports.Enabled {
		return nil, nil, nil
	}

	fileStore, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		return nil, nil, err
	}
	signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)

	exportSvc := service.NewExportService(exportRepo, entryRepo, templateSvc, fileStore, signer, nil, metrics, validate, logr, service.ExportConfig{
		APIPrefix:       cfg.APIPrefix,
		ResultTTL:       cfg.Exports.SignedURLTTL,
		CleanupInterval: cfg.Exports.CleanupInterval,
		MaxRetries:      cfg.Exports.WorkerRetries,
	})
	worker := service.NewExportWorker(exportRepo, exportSvc, metrics, cfg.Exports.WorkerRetries, logr)
	queue := jobs.NewQueue("exports", worker.Handle, jobs.QueueConfig{
		Workers:    cfg.Exports.WorkerConcurrency,
		MaxRetries: cfg.Exports.WorkerRetries,
		Logger:     logr,
	})
	exportSvc.SetQueue(queue)

	queue.Start(ctx)
	exportSvc.RecoverPendingJobs(ctx)
	exportSvc.StartCleanup(ctx)

	return exportSvc, queue, nil
}

func registerRoutes(
	router *gin.Engine,
	cfg *config.Config,
	userRepo *repository.UserRepository,
	authSvc *service.AuthService,
	userSvc *service.UserService,
	templateSvc *service.TemplateService,
	entrySvc *service.EntryService,
	exportSvc *service.ExportService,
	metricsSvc *service.MetricsService,
) {
	authHandler := handler.NewAuthHandler(authSvc)
	userHandler := handler.NewUserHandler(userSvc)
	templateHandler := handler.NewTemplateHandler(templateSvc)
	entryHandler := handler.NewEntryHandler(entrySvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	router.GET("/health", metricsHandler.Health)
	router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	if metricsSvc != nil {
		router.GET("/metrics", metricsHandler.Prometheus)
	}
	if cfg.Env != config.EnvProduction {
		router.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := router.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
	auth.POST("/change-password", middleware.JWT(authSvc), authHandler.ChangePassword)
	auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)

	admins := middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin)

	users := api.Group("/users", middleware.JWT(authSvc))
	users.GET("", admins, userHandler.List)
	users.POST("", admins, userHandler.Create)
	users.GET("/:id", middleware.RBAC("ADMIN", "SUPERADMIN", "SELF"), userHandler.Get)
	users.PUT("/:id", admins, userHandler.Update)
	users.DELETE("/:id", middleware.RBAC("SUPERADMIN"), userHandler.Delete)

	templates := api.Group("/templates", middleware.JWT(authSvc))
	templates.GET("", templateHandler.List)
	templates.GET("/:id", templateHandler.Get)
	templates.POST("", admins, templateHandler.Create)
	templates.PUT("/:id", admins, templateHandler.Update)
	templates.DELETE("/:id", admins, templateHandler.Delete)

	entries := api.Group("/entries", middleware.JWT(authSvc))
	entries.GET("", entryHandler.List)
	entries.POST("", entryHandler.Create)
	entries.GET("/:id", entryHandler.Get)
	entries.PUT("/:id/data", entryHandler.SaveData)
	entries.GET("/:id/transitions", entryHandler.Transitions)
	entries.POST("/:id/status", entryHandler.Transition)
	entries.POST("/:id/sign", entryHandler.Sign)

	if exportSvc != nil {
		exportHandler := handler.NewExportHandler(exportSvc)
		exports := api.Group("/exports")
		exports.GET("/:id/download", middleware.Audit(userRepo, models.AuditActionExportDownload, "exports"), exportHandler.Download)
		exports.POST("", middleware.JWT(authSvc), exportHandler.Create)
		exports.GET("", middleware.JWT(authSvc), exportHandler.List)
		exports.GET("/:id", middleware.JWT(authSvc), exportHandler.Get)
	}

	if metricsSvc != nil {
		api.GET("/metrics/summary", middleware.JWT(authSvc), admins, metricsHandler.Snapshot)
	}
}
