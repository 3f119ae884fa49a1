package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eventops/knowledge-service/internal/config"
	kafkadb "github.com/eventops/knowledge-service/internal/database/kafka"
	"github.com/eventops/knowledge-service/internal/database/milvus"
	minioDB "github.com/eventops/knowledge-service/internal/database/minio"
	"github.com/eventops/knowledge-service/internal/database/mysql"
	redisdb "github.com/eventops/knowledge-service/internal/database/redis"
	"github.com/eventops/knowledge-service/internal/knowledge/api"
	"github.com/eventops/knowledge-service/internal/knowledge/chunker"
	"github.com/eventops/knowledge-service/internal/knowledge/embedding"
	"github.com/eventops/knowledge-service/internal/knowledge/events"
	"github.com/eventops/knowledge-service/internal/knowledge/extract"
	"github.com/eventops/knowledge-service/internal/knowledge/interfaces"
	"github.com/eventops/knowledge-service/internal/knowledge/pipeline"
	"github.com/eventops/knowledge-service/internal/knowledge/search"
	"github.com/eventops/knowledge-service/internal/knowledge/service"
	"github.com/eventops/knowledge-service/internal/knowledge/store"
	"github.com/eventops/knowledge-service/internal/models"
	"github.com/eventops/knowledge-service/pkg/logger"
	"github.com/eventops/knowledge-service/pkg/ratelimiter"
	"github.com/gin-gonic/gin"
	goredis "github.com/go-redis/redis/v8"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger.Init(logger.ParseLevel(cfg.Logger.Level))
	serviceLogger := logger.New("KnowledgeService", "", "")

	ctx := context.Background()

	// Connect to MySQL and migrate the document table.
	db, err := mysql.GetDB(&cfg.Databases.MySQL)
	if err != nil {
		serviceLogger.Fatal("Failed to connect to MySQL: " + err.Error())
	}
	if err := db.AutoMigrate(&models.KnowledgeDocument{}); err != nil {
		serviceLogger.Fatal("Failed to migrate document table: " + err.Error())
	}
	serviceLogger.Info("Successfully connected to MySQL")

	// Connect to Milvus and ensure the chunk collection exists.
	milvusClient, err := milvus.GetClient(ctx, &cfg.Databases.Milvus)
	if err != nil {
		serviceLogger.Fatal("Failed to connect to Milvus: " + err.Error())
	}
	collectionSchema := store.CollectionSchema(cfg.Databases.Milvus.Collection, cfg.Databases.Milvus.Dim)
	if err := milvusClient.EnsureCollection(ctx, collectionSchema, store.FieldEmbedding); err != nil {
		serviceLogger.Fatal("Failed to prepare chunk collection: " + err.Error())
	}
	serviceLogger.Info("Successfully connected to Milvus")

	// Optional query-embedding cache.
	var redisClient *goredis.Client
	if cfg.Databases.Redis.Address != "" {
		redisClient, err = redisdb.GetClient(&cfg.Databases.Redis)
		if err != nil {
			serviceLogger.Fatal("Failed to connect to Redis: " + err.Error())
		}
		serviceLogger.Info("Query-embedding cache enabled")
	}

	// Optional document lifecycle event publishing.
	var publisher interfaces.EventPublisher = events.NopPublisher{}
	var kafkaClient *kafkadb.KafkaClient
	if len(cfg.Databases.Kafka.Brokers) > 0 {
		kafkaClient, err = kafkadb.GetClient(&cfg.Databases.Kafka)
		if err != nil {
			serviceLogger.Fatal("Failed to connect to Kafka: " + err.Error())
		}
		publisher = events.NewKafkaPublisher(kafkaClient, serviceLogger)
		serviceLogger.Info("Lifecycle event publishing enabled on topic " + cfg.Databases.Kafka.Topic)
	}

	// Optional upload archiving.
	var objectStore interfaces.ObjectStore
	if cfg.Databases.MinIO.Endpoint != "" {
		minioClient, err := minioDB.GetClient(&cfg.Databases.MinIO)
		if err != nil {
			serviceLogger.Fatal("Failed to connect to MinIO: " + err.Error())
		}
		objectStore = store.NewMinioObjectStore(minioClient, cfg.Databases.MinIO.Bucket)
		serviceLogger.Info("Upload archiving enabled in bucket " + cfg.Databases.MinIO.Bucket)
	}

	// Embedding provider behind the batching, rate-limited client.
	model, err := embedding.NewModel(&cfg.Embedding)
	if err != nil {
		serviceLogger.Fatal("Failed to create embedding model: " + err.Error())
	}
	limiter := ratelimiter.NewTokenBucket(cfg.Embedding.RateLimit.Rate, cfg.Embedding.RateLimit.Burst)
	batchClient := embedding.NewBatchClient(model, &cfg.Embedding, limiter, serviceLogger)

	documentStore := store.NewDocumentDAL(db)
	chunkStore, err := store.NewMilvusChunkStore(milvusClient, cfg.Databases.Milvus.Collection, serviceLogger)
	if err != nil {
		serviceLogger.Fatal("Failed to create chunk store: " + err.Error())
	}

	splitter, err := chunker.New(cfg.Knowledge.MaxChunkSize, cfg.Knowledge.ChunkOverlap)
	if err != nil {
		serviceLogger.Fatal("Invalid chunking configuration: " + err.Error())
	}

	ingestPipeline := pipeline.NewIngestionPipeline(
		extract.New(), splitter, batchClient,
		documentStore, chunkStore, objectStore, publisher,
		cfg.Knowledge.MaxIngestTextLength, serviceLogger,
	)
	engine := search.NewEngine(batchClient, chunkStore, documentStore,
		redisClient, cfg.Embedding.Model, cfg.Knowledge, serviceLogger)
	knowledgeService := service.NewKnowledgeService(
		ingestPipeline, engine, documentStore, chunkStore, objectStore, publisher,
		cfg.Knowledge, serviceLogger,
	)

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := api.NewHandler(knowledgeService, serviceLogger)
	router := api.SetupRouter(handler, cfg.Auth.JwtSecret)

	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: router,
	}

	go func() {
		serviceLogger.Info("Starting HTTP server on " + srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serviceLogger.Fatal("HTTP server failed to start: " + err.Error())
		}
	}()

	// Wait for an interrupt and drain in-flight requests before closing the
	// backing connections.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	serviceLogger.Info("Shutting down knowledge service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		serviceLogger.Error("Forced shutdown: " + err.Error())
	}

	if kafkaClient != nil {
		if err := kafkaClient.Close(); err != nil {
			serviceLogger.Error("Failed to close Kafka client: " + err.Error())
		}
	}
	if redisClient != nil {
		if err := redisdb.Close(); err != nil {
			serviceLogger.Error("Failed to close Redis client: " + err.Error())
		}
	}
	milvusClient.Close()
	if err := mysql.Close(); err != nil {
		serviceLogger.Error("Failed to close MySQL connection: " + err.Error())
	}

	serviceLogger.Info("Knowledge service stopped")
}
