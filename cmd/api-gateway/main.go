package main

import (
	"context"
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

	_ "github.com/noah-isme/course-programme-api/api/swagger"
	"github.com/noah-isme/course-programme-api/internal/handler"
	"github.com/noah-isme/course-programme-api/internal/middleware"
	"github.com/noah-isme/course-programme-api/internal/models"
	"github.com/noah-isme/course-programme-api/internal/repository"
	"github.com/noah-isme/course-programme-api/internal/service"
	"github.com/noah-isme/course-programme-api/pkg/cache"
	"github.com/noah-isme/course-programme-api/pkg/config"
	"github.com/noah-isme/course-programme-api/pkg/database"
	"github.com/noah-isme/course-programme-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/course-programme-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/course-programme-api/pkg/middleware/requestid"
)

// @title Course Programme API
// @version 1.0.0
// @description Course programme editing with change-request approval workflow
// @BasePath /
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
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, programme cache disabled", "error", err)
		redisClient = nil
	}

	userRepo := repository.NewUserRepository(db)
	programmeRepo := repository.NewProgrammeRepository(db)
	rfcRepo := repository.NewRfcRepository(db)
	catalogRepo := repository.NewCatalogRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	authService := service.NewAuthService(userRepo, validator.New(), logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "course-programme-api",
	})
	metricsService := service.NewMetricsService()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rfcOpts := []service.RfcServiceOption{}
	if cfg.Notifications.Enabled {
		notifier, queue := service.NewNotificationService(userRepo, nil, cfg.Notifications, logr)
		queue.Start(ctx)
		defer queue.Stop()
		rfcOpts = append(rfcOpts, service.WithRfcNotifier(notifier))
	}

	programmeService := service.NewProgrammeService(programmeRepo, rfcRepo, cacheRepo, userRepo, logr, cfg.Programme.CacheTTL)
	rfcService := service.NewRfcService(rfcRepo, programmeService, userRepo, logr, rfcOpts...)
	programmeService.BindRequestGate(rfcService)

	authHandler := handler.NewAuthHandler(authService)
	programmeHandler := handler.NewProgrammeHandler(programmeService, catalogRepo, cfg.Exports.Enabled)
	rfcHandler := handler.NewRfcHandler(rfcService, programmeService)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsService))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsService.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	auth.POST("/logout", middleware.JWT(authService), authHandler.Logout)
	auth.GET("/me", middleware.JWT(authService), authHandler.Me)

	programmes := api.Group("/programmes", middleware.JWT(authService))
	programmes.GET("/:fieldid", middleware.RequireCapability(models.CapabilityView), programmeHandler.Get)
	programmes.PUT("/:fieldid",
		middleware.RequireCapability(models.CapabilityEdit, models.CapabilityEditAll),
		middleware.Audit(userRepo, models.AuditActionProgrammeWrite, "programme"),
		programmeHandler.Save)
	programmes.POST("/sortorder",
		middleware.RequireCapability(models.CapabilityEdit, models.CapabilityEditAll),
		programmeHandler.SortOrder)
	programmes.GET("/:fieldid/export/csv", middleware.RequireCapability(models.CapabilityView), programmeHandler.ExportCSV)
	programmes.GET("/:fieldid/export/pdf", middleware.RequireCapability(models.CapabilityView), programmeHandler.ExportPDF)

	programmes.GET("/:fieldid/rfc", rfcHandler.Current)
	programmes.GET("/:fieldid/rfc/permissions", rfcHandler.Permissions)
	programmes.POST("/:fieldid/rfc/submit", middleware.RequireCapability(models.CapabilityEdit, models.CapabilityEditAll), rfcHandler.Submit)
	programmes.POST("/:fieldid/rfc/accept", middleware.RequireCapability(models.CapabilityEditAll), rfcHandler.Accept)
	programmes.POST("/:fieldid/rfc/reject", middleware.RequireCapability(models.CapabilityEditAll), rfcHandler.Reject)
	programmes.POST("/:fieldid/rfc/cancel", middleware.RequireCapability(models.CapabilityEdit, models.CapabilityEditAll), rfcHandler.Cancel)

	rfcs := api.Group("/rfcs", middleware.JWT(authService))
	rfcs.GET("", rfcHandler.List)
	rfcs.GET("/:id/history", rfcHandler.History)
	rfcs.DELETE("/:id", middleware.RequireCapability(models.CapabilityEditAll), rfcHandler.Remove)
	rfcs.POST("/:id/reapply", middleware.RequireCapability(models.CapabilityEditAll), rfcHandler.Reapply)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("forced shutdown", zap.Error(err))
	}
}
