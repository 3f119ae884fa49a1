package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AppInfo contains basic information about the application.
type AppInfo struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"` // "development" or "production"
}

// LoggerConfig defines the logger settings.
type LoggerConfig struct {
	Level string `yaml:"level"` // "debug", "info", "warn", "error"
}

// ServerConfig defines the HTTP server settings.
type ServerConfig struct {
	Address string `yaml:"address"` // listen address, e.g. ":8080"
}

// AuthConfig defines the settings used to validate caller tokens.
type AuthConfig struct {
	JwtSecret string `yaml:"jwtSecret"`
}

// MySQLConfig defines the MySQL connection settings.
type MySQLConfig struct {
	Address         string `yaml:"address"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	Database        string `yaml:"database"`
	MaxOpenConns    int    `yaml:"maxOpenConns"`
	MaxIdleConns    int    `yaml:"maxIdleConns"`
	ConnMaxLifetime int    `yaml:"connMaxLifetime"` // seconds
}

// MilvusConfig defines the Milvus connection and chunk collection settings.
type MilvusConfig struct {
	Address    string `yaml:"address"`
	Collection string `yaml:"collection"` // chunk collection name
	Dim        int    `yaml:"dim"`        // embedding dimension
}

// RedisConfig defines the Redis connection settings.
type RedisConfig struct {
	Address  string `yaml:"address"` // empty disables the query-embedding cache
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// KafkaConfig defines the Kafka settings for document lifecycle events.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"` // empty disables event publishing
	Topic   string   `yaml:"topic"`
}

// MinIOConfig defines the object storage settings for original uploads.
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"` // empty disables upload archiving
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	Secure    bool   `yaml:"secure"`
}

// RateLimitConfig bounds the embedding provider request rate.
type RateLimitConfig struct {
	Rate  float64 `yaml:"rate"`  // requests per second
	Burst int     `yaml:"burst"` // bucket capacity
}

// EmbeddingConfig defines the embedding provider and client behaviour.
type EmbeddingConfig struct {
	Provider    string          `yaml:"provider"` // "openai" or "ollama"
	Model       string          `yaml:"model"`
	APIKey      string          `yaml:"apiKey"`
	BaseURL     string          `yaml:"baseURL"`
	BatchSize   int             `yaml:"batchSize"`   // texts per provider request
	MaxRetries  int             `yaml:"maxRetries"`  // retries per batch on transient errors
	Concurrency int             `yaml:"concurrency"` // batches in flight per ingestion
	RateLimit   RateLimitConfig `yaml:"rateLimit"`
}

// KnowledgeConfig defines the tunable knobs of the ingestion and search
// pipeline. Every field has a documented default applied by ApplyDefaults.
type KnowledgeConfig struct {
	MaxChunkSize         int     `yaml:"maxChunkSize"`         // characters per chunk, default 600
	ChunkOverlap         int     `yaml:"chunkOverlap"`         // shared characters between neighbours, default 110
	MaxIngestTextLength  int     `yaml:"maxIngestTextLength"`  // default 200000
	HybridWeight         float64 `yaml:"hybridWeight"`         // vector share of the blended score, default 0.7
	MaxChunksPerDocument int     `yaml:"maxChunksPerDocument"` // result chunks per document, default 2
	DefaultTopK          int     `yaml:"defaultTopK"`          // default 10
	MaxTopK              int     `yaml:"maxTopK"`              // default 20
	KeywordFallback      bool    `yaml:"keywordFallback"`      // keyword-only search when the provider is down
	IngestTimeoutSec     int     `yaml:"ingestTimeoutSec"`     // default 600
	SearchTimeoutSec     int     `yaml:"searchTimeoutSec"`     // default 15
	QueryCacheTTLSec     int     `yaml:"queryCacheTTLSec"`     // default 300
}

// DatabaseConfigs groups all backing store settings.
type DatabaseConfigs struct {
	MySQL  MySQLConfig  `yaml:"mysql"`
	Milvus MilvusConfig `yaml:"milvus"`
	Redis  RedisConfig  `yaml:"redis"`
	Kafka  KafkaConfig  `yaml:"kafka"`
	MinIO  MinIOConfig  `yaml:"minio"`
}

// AppConfig is the root structure of the YAML configuration file.
type AppConfig struct {
	App       AppInfo         `yaml:"app"`
	Logger    LoggerConfig    `yaml:"logger"`
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Databases DatabaseConfigs `yaml:"databases"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
}

// LoadConfig reads and parses the YAML configuration file at the given path
// and fills in defaults for every knob left unset.
func LoadConfig(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills zero-valued knobs with their documented defaults.
func (c *AppConfig) ApplyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Databases.Milvus.Collection == "" {
		c.Databases.Milvus.Collection = "knowledge_chunks"
	}
	if c.Databases.Milvus.Dim == 0 {
		c.Databases.Milvus.Dim = 1536
	}
	if c.Embedding.BatchSize == 0 {
		c.Embedding.BatchSize = 64
	}
	if c.Embedding.MaxRetries == 0 {
		c.Embedding.MaxRetries = 3
	}
	if c.Embedding.Concurrency == 0 {
		c.Embedding.Concurrency = 3
	}
	if c.Embedding.RateLimit.Rate == 0 {
		c.Embedding.RateLimit.Rate = 5
	}
	if c.Embedding.RateLimit.Burst == 0 {
		c.Embedding.RateLimit.Burst = 10
	}

	k := &c.Knowledge
	if k.MaxChunkSize == 0 {
		k.MaxChunkSize = 600
	}
	if k.ChunkOverlap == 0 {
		k.ChunkOverlap = 110
	}
	if k.MaxIngestTextLength == 0 {
		k.MaxIngestTextLength = 200000
	}
	if k.HybridWeight == 0 {
		k.HybridWeight = 0.7
	}
	if k.MaxChunksPerDocument == 0 {
		k.MaxChunksPerDocument = 2
	}
	if k.DefaultTopK == 0 {
		k.DefaultTopK = 10
	}
	if k.MaxTopK == 0 {
		k.MaxTopK = 20
	}
	if k.IngestTimeoutSec == 0 {
		k.IngestTimeoutSec = 600
	}
	if k.SearchTimeoutSec == 0 {
		k.SearchTimeoutSec = 15
	}
	if k.QueryCacheTTLSec == 0 {
		k.QueryCacheTTLSec = 300
	}
}
