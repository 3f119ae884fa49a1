package store

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/eventops/knowledge-service/internal/knowledge/interfaces"
	"github.com/eventops/knowledge-service/internal/knowledge/schema"
)

// InMemoryChunkStore is a thread-safe, brute-force implementation of the
// ChunkStore interface. It serves local development and tests, where running
// a Milvus instance is not worth the setup cost.
type InMemoryChunkStore struct {
	mu     sync.RWMutex
	chunks []*schema.Chunk
}

// NewInMemoryChunkStore creates an empty in-memory chunk store.
func NewInMemoryChunkStore() *InMemoryChunkStore {
	return &InMemoryChunkStore{}
}

// Insert appends chunks to the store.
func (s *InMemoryChunkStore) Insert(ctx context.Context, chunks []*schema.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, chunks...)
	return nil
}

// Search scores every stored chunk by cosine similarity against the query
// embedding and returns the topK matches within the scope filter.
func (s *InMemoryChunkStore) Search(ctx context.Context, embedding []float32, topK int, filter schema.ScopeFilter) ([]*schema.ScoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*schema.ScoredChunk
	for _, chunk := range s.chunks {
		if !matchesScope(chunk, filter) {
			continue
		}
		score := cosineSimilarity(embedding, chunk.Embedding)
		if score < 0 {
			score = 0
		}
		results = append(results, &schema.ScoredChunk{Chunk: *chunk, Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

// ListByScope returns up to limit chunks matching the filter.
func (s *InMemoryChunkStore) ListByScope(ctx context.Context, filter schema.ScopeFilter, limit int) ([]*schema.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*schema.Chunk
	for _, chunk := range s.chunks {
		if !matchesScope(chunk, filter) {
			continue
		}
		c := *chunk
		results = append(results, &c)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

// DeleteByDocument removes every chunk of the given document.
func (s *InMemoryChunkStore) DeleteByDocument(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.chunks[:0]
	for _, chunk := range s.chunks {
		if chunk.DocumentID != documentID {
			kept = append(kept, chunk)
		}
	}
	s.chunks = kept
	return nil
}

func matchesScope(chunk *schema.Chunk, filter schema.ScopeFilter) bool {
	if filter.OrganizationID != nil &&
		chunk.OrganizationID != "" && chunk.OrganizationID != *filter.OrganizationID {
		return false
	}
	if filter.EventID != nil &&
		chunk.EventID != "" && chunk.EventID != *filter.EventID {
		return false
	}
	return true
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float32
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}

// compile-time check to ensure InMemoryChunkStore implements the ChunkStore interface
var _ interfaces.ChunkStore = (*InMemoryChunkStore)(nil)
