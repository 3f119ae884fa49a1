package milvus

import (
	"context"
	"fmt"
	"sync"

	"github.com/eventops/knowledge-service/internal/config"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

var (
	instance *MilvusClient
	once     sync.Once
	initErr  error
)

// MilvusClient wraps the Milvus SDK client together with its configuration.
type MilvusClient struct {
	Client client.Client
	Config *config.MilvusConfig
}

// GetClient initializes and returns a singleton Milvus client.
func GetClient(ctx context.Context, cfg *config.MilvusConfig) (*MilvusClient, error) {
	once.Do(func() {
		c, err := client.NewClient(ctx, client.Config{Address: cfg.Address})
		if err != nil {
			initErr = fmt.Errorf("failed to connect to Milvus: %w", err)
			return
		}
		instance = &MilvusClient{Client: c, Config: cfg}
	})
	return instance, initErr
}

// EnsureCollection creates the chunk collection with its index if it does not
// exist yet, and loads it for querying.
func (c *MilvusClient) EnsureCollection(ctx context.Context, sch *entity.Schema, vectorField string) error {
	has, err := c.Client.HasCollection(ctx, sch.CollectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection %s: %w", sch.CollectionName, err)
	}

	if !has {
		if err := c.Client.CreateCollection(ctx, sch, 1); err != nil {
			return fmt.Errorf("failed to create collection %s: %w", sch.CollectionName, err)
		}
		idx, err := entity.NewIndexIvfFlat(entity.COSINE, 128)
		if err != nil {
			return fmt.Errorf("failed to build index definition: %w", err)
		}
		if err := c.Client.CreateIndex(ctx, sch.CollectionName, vectorField, idx, false); err != nil {
			return fmt.Errorf("failed to create index on %s: %w", vectorField, err)
		}
	}

	if err := c.Client.LoadCollection(ctx, sch.CollectionName, false); err != nil {
		return fmt.Errorf("failed to load collection %s: %w", sch.CollectionName, err)
	}
	return nil
}

// HealthCheck verifies connectivity by listing collections.
func (c *MilvusClient) HealthCheck(ctx context.Context) error {
	if c.Client == nil {
		return fmt.Errorf("milvus client is nil")
	}
	if _, err := c.Client.ListCollections(ctx); err != nil {
		return fmt.Errorf("milvus health check failed: %w", err)
	}
	return nil
}

// Close safely shuts down the Milvus connection.
func (c *MilvusClient) Close() {
	if c.Client != nil {
		c.Client.Close()
	}
}
