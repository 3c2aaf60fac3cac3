package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-co-op/gocron"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"document-qa-platform/internal/ai"
	"document-qa-platform/internal/config"
	"document-qa-platform/internal/logger"
	"document-qa-platform/internal/queue"
	"document-qa-platform/internal/vectorstore"
	"document-qa-platform/middleware"
	"document-qa-platform/routes"
	"document-qa-platform/services"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	ctx := context.Background()

	// Gemini provides both embeddings and answer generation
	geminiClient, err := ai.NewGeminiClient(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to initialize Gemini client:", err)
	}
	defer geminiClient.Close()

	// Open the persistent vector store
	store, err := vectorstore.Open(vectorstore.Options{
		CollectionName: cfg.CollectionName,
		PersistPath:    cfg.PersistPath,
		Similarity:     cfg.Similarity,
		Embedder:       geminiClient,
	})
	if err != nil {
		log.Fatal("Failed to open vector store:", err)
	}
	defer store.Close()

	// Redis backs rate limiting, the answer cache, and the alert queue. All
	// three are optional; the pipeline works without Redis.
	var (
		rdb      *redis.Client
		notifier services.ContactNotifier
		cache    services.AnswerCache
	)
	if cfg.RedisURL != "" {
		rdb, err = config.NewRedisClient(cfg)
		if err != nil {
			logger.Warn("Redis unavailable, continuing without it", "error", err)
			rdb = nil
		}
	}
	if rdb != nil {
		defer rdb.Close()

		if cfg.AnswerCacheTTL > 0 {
			cache = services.NewRedisAnswerCache(rdb, cfg.AnswerCacheTTL)
		}

		if cfg.EmailAlerts {
			asynqClient := asynq.NewClient(asynq.RedisClientOpt{
				Addr:     cfg.RedisURL,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			})
			defer asynqClient.Close()
			notifier = queue.NewNotifier(asynqClient)
		}
	}

	pipeline := services.NewPipeline(cfg, store, geminiClient, notifier, cache)

	// Initialize Gin router
	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	if rdb != nil {
		router.Use(middleware.RateLimitMiddleware(rdb, cfg))
	}
	router.MaxMultipartMemory = cfg.MaxFileSize

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "X-Requested-With"}
	router.Use(cors.New(corsConfig))

	// Setup routes
	routes.SetupAPIRoutes(router, pipeline, cfg)

	// Periodic collection stats logging
	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.Every(cfg.StatsLogMinutes).Minutes().Do(func() {
		stats := store.Stats()
		logger.Info("Collection stats",
			"collection", stats.CollectionName,
			"records", stats.RecordCount,
			"files", stats.DistinctFiles)
	})
	scheduler.StartAsync()
	defer scheduler.Stop()

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Server starting", "port", cfg.Port, "collection", cfg.CollectionName)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	logger.Info("Server exited")
}
