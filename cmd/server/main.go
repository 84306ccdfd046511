package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/crashdock/crashdock/internal/auth"
	"github.com/crashdock/crashdock/internal/common"
	"github.com/crashdock/crashdock/internal/crashes"
	"github.com/crashdock/crashdock/internal/files"
	"github.com/crashdock/crashdock/internal/logs"
	"github.com/crashdock/crashdock/internal/notify"
	"github.com/crashdock/crashdock/internal/storage"
	"github.com/crashdock/crashdock/internal/upload"
	"github.com/crashdock/crashdock/pkg/config"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg := config.LoadFromEnv()
	cfg.Logging.SetupLogging()

	log.Info().Msg("Starting crashdock server")

	db, err := common.NewDatabase(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	cache, err := common.NewCache(&cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer cache.Close()

	blobStorage, err := storage.NewFromConfig(&cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize storage")
	}

	notifier := notify.FromConfig(&cfg.Notify)

	authService := auth.NewService(db, cache, &cfg.Auth)
	uploadService := upload.NewService(db, blobStorage, notifier, &cfg.Upload)
	fileService := files.NewService(db, blobStorage)
	crashService := crashes.NewService(db)
	logService := logs.NewService(db)

	// Reaper lives for the lifetime of the server
	reaperCtx, stopReaper := context.WithCancel(context.Background())
	defer stopReaper()
	reaper := upload.NewReaper(uploadService.Registry(), cfg.Upload.SessionTTL, cfg.Upload.ReapInterval)
	go reaper.Run(reaperCtx)

	router := setupRouter(authService, uploadService, fileService, crashService, logService)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	stopReaper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	} else {
		log.Info().Msg("Server shutdown complete")
	}
}

func setupRouter(authService *auth.Service, uploadService *upload.Service, fileService *files.Service, crashService *crashes.Service, logService *logs.Service) *gin.Engine {
	if zerolog.GlobalLevel() == zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "crashdock",
			"time":    time.Now().UTC(),
		})
	})

	api := router.Group("/api/v1")
	{
		authRoutes := api.Group("/auth")
		{
			authRoutes.POST("/register", handleRegister(authService))
			authRoutes.POST("/login", handleLogin(authService))
		}

		uploadRoutes := api.Group("/upload")
		uploadRoutes.Use(authMiddleware(authService))
		{
			uploadRoutes.POST("/start", handleStartUpload(uploadService))
			uploadRoutes.POST("/chunk/:sessionId", handleUploadChunk(uploadService))
			uploadRoutes.GET("/progress/:sessionId", handleUploadProgress(uploadService))
			uploadRoutes.DELETE("/:sessionId", handleCancelUpload(uploadService))
		}

		fileRoutes := api.Group("/files")
		fileRoutes.Use(authMiddleware(authService))
		{
			fileRoutes.GET("", handleListFiles(fileService))
			fileRoutes.GET("/stats", handleFileStats(fileService))
			fileRoutes.GET("/:id/download", handleDownloadFile(fileService))
			fileRoutes.DELETE("/:id", handleDeleteFile(fileService))
		}

		logRoutes := api.Group("/logs")
		logRoutes.Use(authMiddleware(authService), adminMiddleware())
		{
			logRoutes.POST("", handleSubmitLog(logService))
			logRoutes.GET("", handleListLogs(logService))
			logRoutes.GET("/stats", handleLogStats(logService))
			logRoutes.GET("/types", handleLogTypes(logService))
			logRoutes.GET("/players", handleLogPlayers(logService))
			logRoutes.GET("/:id", handleGetLog(logService))
			logRoutes.DELETE("/batch", handleDeleteLogBatch(logService))
			logRoutes.DELETE("/:id", handleDeleteLog(logService))
		}

		userRoutes := api.Group("/users")
		userRoutes.Use(authMiddleware(authService), adminMiddleware())
		{
			userRoutes.GET("", handleListUsers(authService))
			userRoutes.POST("", handleCreateUser(authService))
			userRoutes.PUT("/:id", handleUpdateUser(authService))
			userRoutes.DELETE("/:id", handleDeleteUser(authService))
		}

		crashRoutes := api.Group("/crashes")
		{
			// Submission comes from game clients without dashboard accounts
			crashRoutes.POST("", handleSubmitCrash(crashService))

			authed := crashRoutes.Group("")
			authed.Use(authMiddleware(authService))
			{
				authed.GET("", handleListCrashes(crashService))
				authed.GET("/stats", handleCrashStats(crashService))
				authed.GET("/:id", handleGetCrash(crashService))
				authed.PATCH("/:id/fix", handleSetCrashFixed(crashService))
				authed.DELETE("/:id", handleDeleteCrash(crashService))
			}
		}
	}

	return router
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, PATCH, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
