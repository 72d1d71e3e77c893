package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ridehail/internal/config"
	"ridehail/internal/handlers"
	"ridehail/internal/middleware"
	"ridehail/internal/repositories/mongodb"
	"ridehail/internal/services"
	"ridehail/pkg/cache"
	"ridehail/pkg/database"
	"ridehail/pkg/logger"
	"ridehail/pkg/maps"
	"ridehail/pkg/push"
	"ridehail/pkg/websocket"
	"ridehail/routes"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger, err := logger.NewLogger(&logger.Config{
		Level:      logger.LogLevel(cfg.App.LogLevel),
		Format:     cfg.App.LogFormat,
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	// Mongo is the source of truth for rides, drivers and zones.
	db, err := database.NewMongoDB(&database.DatabaseConfig{
		URI:            cfg.Database.URI,
		Database:       cfg.Database.Database,
		MaxPoolSize:    cfg.Database.MaxPoolSize,
		MinPoolSize:    cfg.Database.MinPoolSize,
		ConnectTimeout: cfg.Database.ConnectTimeout,
		SocketTimeout:  cfg.Database.SocketTimeout,
	})
	if err != nil {
		appLogger.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer db.Close()

	if err := database.NewMigrator(db.Database).Up(); err != nil {
		appLogger.Fatalf("Failed to run migrations: %v", err)
	}

	// Redis carries the hot path: ride cache, driver geo index, device tokens.
	redisCache, err := cache.NewRedisCache(&cache.RedisConfig{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err != nil {
		appLogger.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisCache.Close()

	cacheService := services.NewCacheService(redisCache, appLogger)

	// Repositories
	rideRepo := mongodb.NewRideRepository(db.Database, cacheService)
	driverRepo := mongodb.NewDriverRepository(db.Database)
	zoneRepo := mongodb.NewZoneRepository(db.Database)

	// Real-time + push transports
	wsHandler := websocket.NewHandler()

	var fcmProvider, apnsProvider push.PushProvider
	if cfg.Push.FCM.Credentials != "" {
		fcmProvider, err = push.NewFCMProvider(cfg.Push.FCM.Credentials)
		if err != nil {
			appLogger.WithError(err).Warn("FCM unavailable, android push disabled")
			fcmProvider = nil
		}
	}
	if cfg.Push.APNS.KeyFile != "" {
		apnsProvider, err = push.NewAPNSProvider(
			cfg.Push.APNS.KeyFile, cfg.Push.APNS.KeyID, cfg.Push.APNS.TeamID,
			cfg.Push.APNS.BundleID, cfg.Push.APNS.Production,
		)
		if err != nil {
			appLogger.WithError(err).Warn("APNs unavailable, ios push disabled")
			apnsProvider = nil
		}
	}

	var mapsProvider maps.MapsProvider
	if cfg.Maps.GoogleMaps.APIKey != "" {
		mapsProvider, err = maps.NewGoogleMapsProvider(cfg.Maps.GoogleMaps.APIKey)
		if err != nil {
			appLogger.WithError(err).Warn("Maps provider unavailable, route estimates disabled")
			mapsProvider = nil
		}
	}

	// Services
	notifier := services.NewNotificationService(wsHandler.GetHub(), fcmProvider, apnsProvider, cacheService, appLogger)
	capacity := services.NewCapacityService(driverRepo, int64(cfg.Dispatch.MaxConcurrentRides), appLogger)
	dispatcher := services.NewDispatchService(rideRepo, driverRepo, capacity, notifier, services.NewScheduler(), services.DispatchOptions{
		OfferWindow:        cfg.Dispatch.OfferWindow,
		GlobalTimeout:      cfg.Dispatch.GlobalTimeout,
		SearchRadiusMeters: cfg.Dispatch.SearchRadiusMeters,
	}, appLogger)
	rideService := services.NewRideService(rideRepo, driverRepo, zoneRepo, capacity, notifier, dispatcher, mapsProvider, appLogger)
	driverService := services.NewDriverService(driverRepo, cacheService, notifier, appLogger)

	// Handlers
	rideHandler := handlers.NewRideHandler(rideService)
	driverHandler := handlers.NewDriverHandler(driverService)
	notificationHandler := handlers.NewNotificationHandler(cacheService)

	if config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggingMiddleware(appLogger))

	v1 := router.Group("/api/v1")
	{
		routes.SetupRideRoutes(v1, rideHandler, cfg.Security.JWTSecret)
		routes.SetupDriverRoutes(v1, driverHandler, cfg.Security.JWTSecret)
		routes.SetupNotificationRoutes(v1, notificationHandler, cfg.Security.JWTSecret)
	}

	router.GET("/ws", middleware.AuthRequired(cfg.Security.JWTSecret), wsHandler.HandleWebSocket)

	router.GET("/health", func(c *gin.Context) {
		status := http.StatusOK
		redisErr := cacheService.Ping(c.Request.Context())
		if redisErr != nil {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"status":  "healthy",
			"version": cfg.App.Version,
			"redis":   redisErr == nil,
		})
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.App.Port),
		Handler: router,
	}

	go func() {
		appLogger.Infof("Starting server on port %d", cfg.App.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		appLogger.Errorf("Forced shutdown: %v", err)
	}
}
