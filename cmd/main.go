package main

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/VictorHugoLeme/multitenancy/internal/handler"
	mid "github.com/VictorHugoLeme/multitenancy/internal/middleware"
	"github.com/VictorHugoLeme/multitenancy/internal/service"
	"github.com/VictorHugoLeme/multitenancy/pkg/config"
	"github.com/VictorHugoLeme/multitenancy/pkg/logger"
	"github.com/VictorHugoLeme/multitenancy/pkg/multitenancy"
	"github.com/VictorHugoLeme/multitenancy/prometheus"
)

func main() {
	// Load configuration
	appConfig, err := config.Load()
	if err != nil {
		// Can't use structured logger yet since it's not initialized
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	if err := logger.Init(appConfig); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	log := logger.GetLogger()
	defer log.Sync()

	log.Info("Starting multitenancy service",
		zap.String("environment", appConfig.Server.Env),
		zap.String("port", appConfig.Server.Port))

	// Initialize Prometheus metrics
	prometheus.InitMetrics(appConfig)
	log.Info("Prometheus metrics initialized",
		zap.String("metrics_prefix", appConfig.Metrics.Prefix))

	// Connect to the management database
	manager, err := multitenancy.NewManager(appConfig, log)
	if err != nil {
		log.Fatal("Failed to open management database", zap.Error(err))
	}
	defer manager.Close()

	ctx := context.Background()
	if err := manager.MigrateManagement(ctx); err != nil {
		log.Fatal("Failed to migrate management database", zap.Error(err))
	}
	log.Info("Management database ready",
		zap.String("database", appConfig.Multitenancy.ManagementDBName))

	prometheus.RegisterTenantPoolsGauge(func() float64 {
		return float64(manager.PoolCount())
	})

	// Wire services
	tenantService := service.NewTenantService(manager, log)
	productService := service.NewProductService(manager, tenantService, log)

	// Provision pools for every active tenant
	if err := tenantService.LoadTenants(ctx); err != nil {
		log.Fatal("Failed to load tenants", zap.Error(err))
	}

	// Periodic registry revalidation
	go tenantService.StartRevalidation(ctx, appConfig.Multitenancy.RevalidateInterval)
	log.Info("Scheduled tenant revalidation",
		zap.Duration("interval", appConfig.Multitenancy.RevalidateInterval))

	// Initialize Echo instance
	e := echo.New()

	// Middleware
	e.Use(middleware.Recover())
	e.Use(mid.RequestIDMiddleware)
	e.Use(mid.MetricsMiddleware)

	// Handlers
	tenantHandler := handler.NewTenantHandler(tenantService)
	productHandler := handler.NewProductHandler(productService)
	generalHandler := handler.NewGeneralHandler(productService)
	healthHandler := handler.NewHealthHandler(manager)

	// Routes
	// Metrics endpoint
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Health check endpoint
	e.GET("/health", healthHandler.HealthCheck)

	// Tenant administration routes
	tenantAPI := e.Group("/v1/tenants")
	tenantAPI.POST("", tenantHandler.Create)
	tenantAPI.GET("", tenantHandler.List)
	tenantAPI.PATCH("/enable/:code", tenantHandler.Enable)
	tenantAPI.PATCH("/disable/:code", tenantHandler.Disable)
	tenantAPI.POST("/revalidate", tenantHandler.Revalidate)

	// Product routes - tenant scoped via the X-Tenant-Code header
	productAPI := e.Group("/v1/products", mid.TenantContext(tenantService))
	productAPI.POST("", productHandler.Create)
	productAPI.GET("", productHandler.List)

	// Cross-tenant aggregate routes
	generalAPI := e.Group("/v1/general")
	generalAPI.GET("/products/count", generalHandler.CountProducts)

	// Start server
	port := appConfig.Server.Port
	log.Info("Starting server", zap.String("port", port))
	if err := e.Start(":" + port); err != nil {
		log.Fatal("Server error", zap.Error(err))
	}
}
