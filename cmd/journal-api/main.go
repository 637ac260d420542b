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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/openscholar/journal-api/api/swagger"
	"github.com/openscholar/journal-api/internal/handler"
	"github.com/openscholar/journal-api/internal/middleware"
	"github.com/openscholar/journal-api/internal/models"
	"github.com/openscholar/journal-api/internal/repository"
	"github.com/openscholar/journal-api/internal/service"
	"github.com/openscholar/journal-api/pkg/cache"
	"github.com/openscholar/journal-api/pkg/config"
	"github.com/openscholar/journal-api/pkg/database"
	"github.com/openscholar/journal-api/pkg/logger"
	"github.com/openscholar/journal-api/pkg/mailer"
	corsmiddleware "github.com/openscholar/journal-api/pkg/middleware/cors"
	reqidmiddleware "github.com/openscholar/journal-api/pkg/middleware/requestid"
	"github.com/openscholar/journal-api/pkg/security"
	"github.com/openscholar/journal-api/pkg/storage"
)

// @title OpenScholar Journal API
// @version 1.0.0
// @description Journal submission backend: session lifecycle, accounts and audit trail
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

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	userRepo := repository.NewUserRepository(db)
	tokenRepo := repository.NewRefreshTokenRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	blacklistRepo := repository.NewBlacklistRepository(redisClient)

	metricsSvc := service.NewMetricsService()

	emailSvc := service.NewEmailService(
		mailer.NewResendClient(cfg.Mail.APIBaseURL, cfg.Mail.APIKey, cfg.Mail.From),
		service.EmailConfig{
			PublicBaseURL: cfg.Mail.PublicBaseURL,
			Workers:       cfg.Mail.Workers,
			MaxRetries:    cfg.Mail.MaxRetries,
		},
		logr,
	)
	emailSvc.Start(ctx)
	defer emailSvc.Stop()

	authSvc := service.NewAuthService(service.AuthDeps{
		Users:     userRepo,
		Tokens:    tokenRepo,
		Blacklist: blacklistRepo,
		Audit:     auditRepo,
		Notifier:  emailSvc,
		Hasher:    security.NewHasher(cfg.Security.BcryptCost),
		Logger:    logr,
		Metrics:   metricsSvc,
	}, service.AuthConfig{
		AccessSecret:  cfg.JWT.AccessSecret,
		AccessExpiry:  cfg.JWT.AccessExpiry,
		RefreshSecret: cfg.JWT.RefreshSecret,
		RefreshExpiry: cfg.JWT.RefreshExpiry,
		Issuer:        cfg.JWT.Issuer,
	})

	userSvc := service.NewUserService(userRepo, auditRepo, logr)

	var exportSvc *service.AuditExportService
	if cfg.Audit.ExportEnabled {
		store, err := storage.NewLocalStorage(cfg.Audit.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to init export storage", "error", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Audit.SignedURLSecret, cfg.Audit.SignedURLTTL)
		exportSvc = service.NewAuditExportService(auditRepo, store, signer, service.AuditExportConfig{
			Workers:      cfg.Audit.Workers,
			DownloadPath: cfg.APIPrefix + "/admin/audit/exports/download",
		}, logr)
		exportSvc.Start(ctx)
		defer exportSvc.Stop()
	}

	go reapExpiredTokens(ctx, tokenRepo, cfg.Sessions.ReaperInterval, logr)

	authHandler := handler.NewAuthHandler(authSvc, userSvc)
	userHandler := handler.NewUserHandler(userSvc)
	auditHandler := handler.NewAuditHandler(auditRepo, exportSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "database unreachable"})
			return
		}
		if err := redisClient.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "redis unreachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.GET("/verify-email", authHandler.VerifyEmail)
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", authHandler.Logout)
		auth.POST("/forgot-password", authHandler.ForgotPassword)
		auth.POST("/reset-password", authHandler.ResetPassword)

		auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)
		auth.POST("/change-password", middleware.JWT(authSvc), authHandler.ChangePassword)
	}

	users := api.Group("/users", middleware.JWT(authSvc))
	{
		users.GET("", middleware.RequireRoles(models.RoleAdmin), userHandler.List)
		users.GET("/:id", middleware.RBAC(string(models.RoleAdmin), "SELF"), userHandler.Get)
		users.PUT("/:id/role",
			middleware.RequireRoles(models.RoleAdmin),
			middleware.Audit(auditRepo, models.AuditActionUserUpdate, "user"),
			userHandler.UpdateRole)
	}

	admin := api.Group("/admin")
	{
		// Downloads authenticate through the signed token alone so links
		// can be opened outside an API session.
		admin.GET("/audit/exports/download", auditHandler.DownloadExport)

		guarded := admin.Group("", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin))
		guarded.GET("/audit", auditHandler.List)
		guarded.POST("/audit/exports", auditHandler.RequestExport)
		guarded.GET("/audit/exports/:id", auditHandler.GetExport)
		guarded.GET("/stats", metricsHandler.Stats)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("shutdown incomplete", "error", err)
	}
}

// reapExpiredTokens periodically deletes refresh token rows past their
// expiry. Expired tokens are already unusable; this only keeps the table
// from growing without bound.
func reapExpiredTokens(ctx context.Context, repo *repository.RefreshTokenRepository, interval time.Duration, logr *zap.Logger) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.DeleteExpired(ctx, time.Now().UTC())
			if err != nil {
				logr.Sugar().Warnw("token reaper failed", "error", err)
				continue
			}
			if n > 0 {
				logr.Sugar().Infow("expired refresh tokens removed", "count", n)
			}
		}
	}
}
