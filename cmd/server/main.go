package main

import (
	"collaborative-office-suite/internal/config"
	"collaborative-office-suite/internal/db"
	"collaborative-office-suite/internal/document"
	"collaborative-office-suite/internal/export"
	"collaborative-office-suite/internal/logger"
	"collaborative-office-suite/internal/middleware"
	"collaborative-office-suite/internal/realtime"
	"collaborative-office-suite/internal/render"
	"collaborative-office-suite/internal/session"
	"collaborative-office-suite/internal/store"
	"collaborative-office-suite/internal/store/pgstore"
	"collaborative-office-suite/internal/user"
	"collaborative-office-suite/internal/worker"
	"collaborative-office-suite/redis"
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	redisLib "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	// Load configuration
	config.LoadConfig()
	cfg := config.AppConfig

	if err := logger.Init(cfg.Environment, cfg.LogLevel); err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to database
	database, err := db.Connect(cfg, logger.Named("db"))
	if err != nil {
		logger.Log.Fatal("database unavailable", zap.Error(err))
	}
	defer db.Close(database, logger.Log)

	// Migrate database schema
	if err := db.Migrate(database, logger.Log); err != nil {
		logger.Log.Fatal("migration failed", zap.Error(err))
	}

	// Initialize Redis, optional
	redisClient := redis.NewClient(ctx, cfg.RedisAddress, logger.Named("redis"))
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Document store and its change feed
	docStore := pgstore.New(database, newBroker(cfg, database, redisClient), logger.Named("store"))
	go func() {
		if err := docStore.Hub().Run(ctx); err != nil {
			logger.Log.Error("change feed stopped", zap.Error(err))
		}
	}()

	// Initialize services
	userService := user.NewService(user.NewRepository(database), cfg.RecentAuthWindow, logger.Named("user"))
	if cfg.Environment == "development" {
		// Seed database with initial data
		db.SeedData(ctx, userService, logger.Log)
	}

	pool := worker.NewWorkerPool(cfg.WorkerPoolSize, logger.Named("worker"))
	docService := document.NewService(
		docStore,
		redis.NewCache(redisClient, logger.Named("cache")),
		pool,
		export.NewExporter(newRenderer(ctx, cfg)),
		cfg.TrashRetention,
		logger.Named("document"),
	)
	// session autosaves bypass the service, so the dashboard cache listens to the store
	docStore.Hub().Tap(docService.HandleChange)

	// Initialize handlers
	userHandler := user.NewHandler(userService)
	docHandler := document.NewHandler(docService)
	sessionHandler := realtime.NewHandler(
		docStore,
		session.Config{AutosaveDelay: cfg.AutosaveDelay, MaxWriteAttempts: cfg.MaxWriteAttempts},
		userService,
		allowedOrigins(cfg),
		logger.Log,
	)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RequestLogger(logger.Named("http")), gin.Recovery())

	// cors setting
	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: false,
	}
	if origins := allowedOrigins(cfg); origins == nil {
		// Allow all origins in development
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
	}
	router.Use(cors.New(corsConfig))
	router.Use(middleware.ErrorHandler(logger.Named("http")))

	authMiddleware := (&middleware.Auth{Provider: userService}).AuthMiddleWare()

	// User routes
	router.POST("/register", userHandler.Register)
	router.POST("/login", userHandler.Login)
	router.POST("/reauthenticate", authMiddleware, userHandler.Reauthenticate)
	router.DELETE("/logout", authMiddleware, userHandler.Logout)
	router.GET("/profile", authMiddleware, userHandler.GetProfile)
	router.PUT("/profile", authMiddleware, userHandler.UpdateProfile)

	// Document routes
	router.GET("/documents", authMiddleware, docHandler.ShowUserDocuments)
	router.POST("/documents", authMiddleware, docHandler.Create)
	router.POST("/documents/templates/:name", authMiddleware, docHandler.CreateFromTemplate)
	router.POST("/documents/import", authMiddleware, docHandler.Import)
	router.GET("/documents/:id", authMiddleware, docHandler.ShowDocument)
	router.PUT("/documents/:id/title", authMiddleware, docHandler.Rename)
	router.POST("/documents/:id/duplicate", authMiddleware, docHandler.Duplicate)
	router.DELETE("/documents/:id", authMiddleware, docHandler.DeleteDocument)
	router.GET("/documents/:id/export", authMiddleware, docHandler.Export)
	router.GET("/documents/:id/session", authMiddleware, sessionHandler.Serve)

	// Trash routes
	router.GET("/trash", authMiddleware, docHandler.ShowTrash)
	router.POST("/trash/:id/restore", authMiddleware, docHandler.Restore)
	router.DELETE("/trash/:id", authMiddleware, docHandler.DeletePermanently)
	router.DELETE("/trash", authMiddleware, docHandler.EmptyTrash)

	// Server configuration
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router.Handler(),
	}

	// Start server
	go func() {
		logger.Log.Info("Server listening", zap.String("port", cfg.ServerPort))
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	logger.Log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Server shutdown error", zap.Error(err))
	}
	pool.Shutdown()

	logger.Log.Info("Server shutdown complete")
}

// newBroker picks how changes reach the other server instances.
func newBroker(cfg config.Config, database *gorm.DB, client *redisLib.Client) store.Broker {
	log := logger.Named("broker")

	switch cfg.RealtimeBroker {
	case "redis":
		if client != nil {
			return redis.NewBroker(client, log)
		}
		log.Warn("redis broker requested but redis is unavailable, using in-process delivery")
	case "postgres":
		return pgstore.NewNotifier(database, db.DSN(cfg), log)
	case "memory", "":
	default:
		log.Warn("unknown realtime broker, using in-process delivery", zap.String("broker", cfg.RealtimeBroker))
	}
	return nil
}

// newRenderer returns nil, which disables pdf export, when no renderer is configured.
func newRenderer(ctx context.Context, cfg config.Config) export.PDFRenderer {
	if cfg.RendererAddress == "" {
		return nil
	}
	client := render.NewClient(cfg.RendererAddress)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		logger.Log.Warn("pdf renderer not reachable yet", zap.String("address", cfg.RendererAddress), zap.Error(err))
	}
	return client
}

// allowedOrigins is nil in development, which allows every origin.
func allowedOrigins(cfg config.Config) []string {
	if cfg.Environment == "development" {
		return nil
	}
	return []string{cfg.FrontendAddress}
}
