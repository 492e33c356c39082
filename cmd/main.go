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

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/ragforge/auth"
	"github.com/ragforge/config"
	"github.com/ragforge/handlers"
	"github.com/ragforge/metrics"
	"github.com/ragforge/models"
	"github.com/ragforge/services"
	"github.com/ragforge/services/impl"
	"github.com/ragforge/services/processor"
	"github.com/ragforge/services/providers"
	"github.com/ragforge/services/vectorstore"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	// Initialize database connection
	db, err := initDB(cfg.GetDatabaseDSN())
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Auto-migrate database schema
	if err := db.AutoMigrate(
		&models.User{},
		&models.UserAPIKey{},
		&models.Bot{},
		&models.Document{},
		&models.DocumentChunk{},
		&models.CollectionMetadata{},
		&models.ThresholdPerformanceLog{},
	); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	store := impl.NewDataStore(db)

	// Initialize Redis client (optional; the engine degrades gracefully)
	var redisClient *redis.Client
	if cfg.Redis.Enabled && cfg.Redis.Host != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.GetRedisAddress(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
			log.Printf("Warning: Redis connection failed, conversation memory disabled: %v", err)
			redisClient = nil
		} else {
			log.Println("Redis connection established")
		}
	}

	// Initialize vector store
	var vectors services.VectorStore
	if cfg.Qdrant.Disabled {
		vectors = vectorstore.NewMemoryStore()
		log.Println("Qdrant disabled, using in-memory vector store")
	} else {
		qdrant, err := vectorstore.NewQdrantStore(context.Background(), vectorstore.QdrantConfig{
			Host:   cfg.Qdrant.Host,
			Port:   cfg.Qdrant.Port,
			APIKey: cfg.Qdrant.APIKey,
			UseTLS: cfg.Qdrant.UseTLS,
		})
		if err != nil {
			log.Fatal("Failed to connect to Qdrant:", err)
		}
		defer qdrant.Close()
		vectors = qdrant
	}

	// Initialize providers and core services
	m := metrics.New()
	registry, err := providers.DefaultRegistry(0)
	if err != nil {
		log.Fatal("Failed to build provider registry:", err)
	}

	thresholds := impl.NewThresholdService(store)
	retrieval := impl.NewRetrievalService(store, store, store, store, thresholds, vectors)
	credentials := impl.NewCredentialService(store, store, registry,
		time.Duration(cfg.Engine.ValidationCacheTTL)*time.Second)
	analyzer := impl.NewQueryAnalyzer()
	modeRouter := impl.NewModeRouter()
	blender := impl.NewResponseBlender()

	cache, err := impl.NewContextCache(&cfg.Engine, redisClient)
	if err != nil {
		log.Fatal("Failed to initialize context cache:", err)
	}
	defer cache.Close()

	conversations := impl.NewConversationStore(redisClient)
	hybrid := impl.NewHybridService(store, store, credentials, analyzer, modeRouter,
		retrieval, blender, cache, conversations, registry, m,
		time.Duration(cfg.Engine.QueryTimeout)*time.Second)

	snapshots := impl.NewSnapshotService(store, store, store, store, vectors,
		cfg.Engine.DataDir, cfg.Engine.SnapshotRetentionDays)
	reprocess := impl.NewReprocessService(store, store, store, store, vectors,
		processor.NewTextProcessor(0, 0), credentials, registry, snapshots,
		impl.NewLocalFileSource(cfg.Engine.DataDir), m, impl.ReprocessConfig{
			DataDir:            cfg.Engine.DataDir,
			CheckpointInterval: cfg.Engine.CheckpointInterval,
			MaxConcurrentDocs:  cfg.Engine.MaxConcurrentDocuments,
			MaxAttempts:        cfg.Engine.MaxRetriesPerDocument,
		})
	queue := impl.NewQueueService(reprocess, store, m, impl.QueueConfig{
		MaxConcurrent:    cfg.Engine.MaxConcurrentOperations,
		MaxQueueSize:     cfg.Engine.MaxQueueSize,
		OperationTimeout: time.Duration(cfg.Engine.OperationTimeout) * time.Second,
	})

	// Initialize handlers
	hybridHandlers := handlers.NewHybridHandlers(hybrid, thresholds, store)
	operationsHandlers := handlers.NewOperationsHandlers(queue, store)
	snapshotHandlers := handlers.NewSnapshotHandlers(snapshots, store)

	// Setup router
	router := setupRouter(hybridHandlers, operationsHandlers, snapshotHandlers, m, cfg)

	// Start server
	srv := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		log.Printf("RAG engine server starting on %s", cfg.GetServerAddress())

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server:", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	if err := queue.Shutdown(ctx); err != nil {
		log.Printf("Queue shutdown incomplete: %v", err)
	}

	log.Println("Server exited")
}

func initDB(databaseURL string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

func setupRouter(
	hybridHandlers *handlers.HybridHandlers,
	operationsHandlers *handlers.OperationsHandlers,
	snapshotHandlers *handlers.SnapshotHandlers,
	m *metrics.Metrics,
	cfg *config.Config,
) *gin.Engine {
	// Set gin mode based on environment
	if os.Getenv("ENVIRONMENT") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// CORS middleware
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.Auth.AllowedOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"service":   "ragforge",
		})
	})

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(m.Handler()))

	// API v1 routes
	v1 := router.Group("/api/v1")
	jwtValidator := auth.NewJWTValidator(cfg.Auth.JWTSecret, nil)
	v1.Use(authMiddleware(jwtValidator))

	bots := v1.Group("/bots")
	{
		bots.POST("/:bot_id/query", hybridHandlers.AnswerQuery)
		bots.GET("/:bot_id/threshold-recommendations", hybridHandlers.GetThresholdRecommendations)
		bots.POST("/:bot_id/reprocess", operationsHandlers.Reprocess)
		bots.POST("/:bot_id/snapshots", snapshotHandlers.CreateSnapshot)
		bots.GET("/:bot_id/snapshots", snapshotHandlers.ListSnapshots)
		bots.POST("/:bot_id/integrity/verify", snapshotHandlers.VerifyIntegrity)
		bots.POST("/:bot_id/rollback", snapshotHandlers.Rollback)
	}

	operations := v1.Group("/operations")
	{
		operations.GET("", operationsHandlers.QueueStatus)
		operations.POST("/pause", operationsHandlers.PauseQueue)
		operations.POST("/resume", operationsHandlers.ResumeQueue)
		operations.GET("/:operation_id", operationsHandlers.GetOperation)
		operations.DELETE("/:operation_id", operationsHandlers.CancelOperation)
	}

	return router
}

// authMiddleware validates bearer tokens and stores the caller identity on
// the request context for downstream handlers.
func authMiddleware(validator *auth.JWTValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header required",
			})
			c.Abort()
			return
		}

		claims, err := validator.ValidateToken(authHeader)
		if err != nil {
			log.Printf("Token validation failed: %v", err)
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired token",
			})
			c.Abort()
			return
		}

		userID, role := validator.ExtractUserContext(claims)
		c.Set("user_id", userID)
		c.Set("role", role)

		c.Next()
	}
}
