package schema

import "github.com/eventops/knowledge-service/internal/models"

// Chunk is the unit of retrieval: one bounded-length, overlapping segment of a
// source document's text, denormalized with the owning document's scope so
// search can filter without a join.
//
// Scope fields use the empty string to encode "visible to all tenants"; the
// vector store cannot index NULLs.
type Chunk struct {
	ID             string
	DocumentID     string
	ChunkIndex     int
	Content        string
	Embedding      []float32
	OrganizationID string
	EventID        string
}

// ScoredChunk is a chunk returned by a similarity query together with its
// vector similarity score in [0,1].
type ScoredChunk struct {
	Chunk
	Score float32
}

// ScopeFilter restricts a chunk query. A nil OrganizationID means unscoped
// (super-tenant); a non-nil one matches that organization plus globally
// visible chunks. EventID, when set, narrows further.
type ScopeFilter struct {
	OrganizationID *string
	EventID        *string
}

// ResultSource indicates which ranking produced a search result.
type ResultSource string

const (
	SourceVector  ResultSource = "vector"
	SourceKeyword ResultSource = "keyword"
	SourceHybrid  ResultSource = "hybrid"
)

// SearchResult is one ranked, snippeted search hit. It is ephemeral and never
// persisted.
type SearchResult struct {
	KnowledgeID    string                `json:"knowledgeId"`
	Title          string                `json:"title"`
	Snippet        string                `json:"snippet"`
	Content        string                `json:"content,omitempty"`
	Score          float64               `json:"score"`
	Source         ResultSource          `json:"source"`
	ChunkIndex     int                   `json:"chunkIndex"`
	DocumentStatus models.DocumentStatus `json:"documentStatus"`
}
