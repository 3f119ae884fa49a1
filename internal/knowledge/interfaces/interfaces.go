package interfaces

import (
	"context"
	"time"

	"github.com/eventops/knowledge-service/internal/knowledge/schema"
	"github.com/eventops/knowledge-service/internal/models"
)

// DocumentStore persists knowledge document rows and enforces the status
// state machine at the storage boundary.
type DocumentStore interface {
	Create(ctx context.Context, doc *models.KnowledgeDocument) error
	GetByID(ctx context.Context, id string) (*models.KnowledgeDocument, error)
	GetByIDs(ctx context.Context, ids []string) (map[string]*models.KnowledgeDocument, error)
	List(ctx context.Context, filter schema.ScopeFilter) ([]*models.KnowledgeDocument, error)

	// MarkReady transitions ingesting -> ready and records the chunk count.
	MarkReady(ctx context.Context, id string, chunkCount int) error
	// MarkFailed transitions ingesting -> failed and records the reason.
	// It returns kberr.ErrNotIngesting if the document already left ingesting.
	MarkFailed(ctx context.Context, id string, reason string) error

	// FindIngesting looks up an in-flight ingestion of the same upload, used
	// as an advisory lock against concurrent duplicate ingestion.
	FindIngesting(ctx context.Context, title string, orgID *string, byteSize int64) (*models.KnowledgeDocument, error)

	// UpdateMetadata changes title and tags only; chunk content and embeddings
	// are immutable once a document is ready.
	UpdateMetadata(ctx context.Context, id string, title *string, tags []string) error
	Delete(ctx context.Context, id string) error
}

// ChunkStore persists chunk vectors and answers scope-filtered similarity
// queries. Deleting a document's chunks is a single bulk operation so cleanup
// after a failed ingestion is atomic from the caller's view.
type ChunkStore interface {
	Insert(ctx context.Context, chunks []*schema.Chunk) error
	Search(ctx context.Context, embedding []float32, topK int, filter schema.ScopeFilter) ([]*schema.ScoredChunk, error)
	// ListByScope returns chunks matching the filter without a vector query.
	// Used by the keyword-only degraded search mode.
	ListByScope(ctx context.Context, filter schema.ScopeFilter, limit int) ([]*schema.Chunk, error)
	DeleteByDocument(ctx context.Context, documentID string) error
}

// EmbeddingModel converts texts into fixed-dimension vectors. The output
// count and order must exactly match the input.
type EmbeddingModel interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// DocumentEvent describes a lifecycle transition published to the event bus.
type DocumentEvent struct {
	Type           string    `json:"type"` // created, ready, failed, cancelled, deleted
	KnowledgeID    string    `json:"knowledgeId"`
	OrganizationID *string   `json:"organizationId"`
	Status         string    `json:"status"`
	Reason         string    `json:"reason,omitempty"`
	ChunkCount     int       `json:"chunkCount,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// EventPublisher emits document lifecycle events. Implementations must not
// fail the enclosing operation on publish errors.
type EventPublisher interface {
	Publish(ctx context.Context, event DocumentEvent) error
}

// ObjectStore archives the original uploaded bytes so a document can be
// re-ingested from its source of truth.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Remove(ctx context.Context, key string) error
}
