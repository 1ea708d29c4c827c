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

	_ "github.com/noah-isme/culturearts-api/api/swagger"
	"github.com/noah-isme/culturearts-api/internal/handler"
	"github.com/noah-isme/culturearts-api/internal/middleware"
	"github.com/noah-isme/culturearts-api/internal/models"
	"github.com/noah-isme/culturearts-api/internal/repository"
	"github.com/noah-isme/culturearts-api/internal/service"
	"github.com/noah-isme/culturearts-api/pkg/cache"
	"github.com/noah-isme/culturearts-api/pkg/config"
	"github.com/noah-isme/culturearts-api/pkg/database"
	"github.com/noah-isme/culturearts-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/culturearts-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/culturearts-api/pkg/middleware/requestid"
)

// @title Culture & Arts Inventory API
// @version 1.0.0
// @description Borrowing lifecycle for costumes and performance equipment.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, continuing without cache", zap.Error(err))
		redisClient = nil
	}

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	txManager := repository.NewTxManager(db, cfg.Inventory.TxTimeout)
	itemRepo := repository.NewItemRepository(db)
	bindingRepo := repository.NewBindingRepository(db)
	borrowRepo := repository.NewBorrowRequestRepository(db)
	returnRepo := repository.NewReturnRequestRepository(db)
	userRepo := repository.NewUserRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Inventory.CacheTTL, logr, cfg.Inventory.CacheEnabled && cacheRepo.Enabled())

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	catalogSvc := service.NewCatalogService(itemRepo, bindingRepo, txManager, validate, logr,
		service.WithCatalogCache(cacheSvc, cfg.Inventory.CacheTTL),
		service.WithCatalogAudit(userRepo),
		service.WithCatalogPageSize(cfg.Inventory.PageSize),
	)
	ledgerSvc := service.NewLedgerService(borrowRepo, returnRepo, bindingRepo, txManager, validate, logr, cfg.Inventory.PageSize)
	approvalSvc := service.NewApprovalService(txManager, ledgerSvc, catalogSvc, userRepo, metricsSvc, validate, logr)
	returnSvc := service.NewReturnService(txManager, ledgerSvc, catalogSvc, service.ConditionPolicyFromConfig(cfg.Inventory.ConditionPolicy), userRepo, metricsSvc, logr)
	exportSvc := service.NewExportService(bindingRepo, logr, nil, nil)

	authHandler := handler.NewAuthHandler(authSvc)
	inventoryHandler := handler.NewInventoryHandler(catalogSvc, exportSvc)
	borrowHandler := handler.NewBorrowHandler(ledgerSvc, approvalSvc)
	returnHandler := handler.NewReturnHandler(ledgerSvc, returnSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, map[string]handler.ReadinessCheck{
		"database": db.PingContext,
		"cache":    cacheRepo.Ping,
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)

	secured := api.Group("/", middleware.JWT(authSvc))
	secured.GET("/auth/me", authHandler.Me)

	secured.GET("/inventory/items/available", inventoryHandler.ListAvailable)
	secured.GET("/inventory/items/:id", inventoryHandler.Get)
	secured.POST("/borrow-requests", borrowHandler.Submit)
	secured.GET("/borrow-requests", borrowHandler.List)
	secured.GET("/borrow-requests/:id", borrowHandler.Get)
	secured.GET("/bindings", borrowHandler.ListBindings)
	secured.POST("/return-requests", returnHandler.Submit)
	secured.GET("/return-requests", returnHandler.List)
	secured.GET("/return-requests/:id", returnHandler.Get)

	staff := secured.Group("/", middleware.RequireRoles(models.StaffRoles...))
	staff.GET("/inventory/items", inventoryHandler.List)
	staff.POST("/inventory/items", inventoryHandler.Create)
	staff.PATCH("/inventory/items/:id/condition", inventoryHandler.UpdateCondition)
	staff.PATCH("/inventory/items/:id/status", inventoryHandler.SetStatus)
	staff.GET("/inventory/reports/borrowed", middleware.Audit(userRepo, logr, models.AuditActionReportExport, "borrow_bindings"), inventoryHandler.BorrowedReport)
	staff.POST("/borrow-requests/:id/approve", borrowHandler.Approve)
	staff.POST("/borrow-requests/:id/reject", borrowHandler.Reject)
	staff.POST("/return-requests/:id/confirm", returnHandler.Confirm)
	staff.GET("/metrics/summary", metricsHandler.Snapshot)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "condition_policy", cfg.Inventory.ConditionPolicy)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
