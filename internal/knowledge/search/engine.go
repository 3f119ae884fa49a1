package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/eventops/knowledge-service/internal/config"
	"github.com/eventops/knowledge-service/internal/knowledge/interfaces"
	"github.com/eventops/knowledge-service/internal/knowledge/kberr"
	"github.com/eventops/knowledge-service/internal/knowledge/keyword"
	"github.com/eventops/knowledge-service/internal/knowledge/schema"
	"github.com/eventops/knowledge-service/internal/models"
	"github.com/eventops/knowledge-service/pkg/logger"
	"github.com/go-redis/redis/v8"
)

const (
	// fetchMultiplier over-fetches vector candidates so per-document capping
	// and re-ranking still leave enough hits to fill topK.
	fetchMultiplier = 3

	// fallbackScanLimit bounds how many chunks the degraded keyword-only mode
	// pulls from the store for lexical scoring.
	fallbackScanLimit = 2000

	snippetSentences = 3
)

// Request is one search invocation within an already-resolved caller scope.
// Hybrid enables keyword blending on top of vector similarity; with it off,
// results rank by vector score alone.
type Request struct {
	Query          string
	Scope          models.Scope
	TopK           int
	Hybrid         bool
	IncludeContent bool
}

// Response carries the ranked results. Degraded is set when the engine fell
// back to keyword-only ranking because the embedding provider was unavailable.
type Response struct {
	Results  []schema.SearchResult `json:"results"`
	Count    int                   `json:"count"`
	Degraded bool                  `json:"degraded,omitempty"`
}

// Engine answers hybrid search queries: a scope-filtered vector similarity
// query blended with lexical keyword scoring, deduplicated per document and
// snippeted for display.
type Engine struct {
	embedder  interfaces.EmbeddingModel
	chunks    interfaces.ChunkStore
	documents interfaces.DocumentStore
	scorer    *keyword.Scorer
	cache     *redis.Client // optional query-embedding cache
	cacheTTL  time.Duration
	modelName string
	cfg       config.KnowledgeConfig
	log       *logger.Logger
}

// NewEngine creates a search engine. cache may be nil, which disables the
// query-embedding cache. modelName namespaces cache keys so a model switch
// never serves stale vectors.
func NewEngine(
	embedder interfaces.EmbeddingModel,
	chunks interfaces.ChunkStore,
	documents interfaces.DocumentStore,
	cache *redis.Client,
	modelName string,
	cfg config.KnowledgeConfig,
	log *logger.Logger,
) *Engine {
	return &Engine{
		embedder:  embedder,
		chunks:    chunks,
		documents: documents,
		scorer:    keyword.NewScorer(),
		cache:     cache,
		cacheTTL:  time.Duration(cfg.QueryCacheTTLSec) * time.Second,
		modelName: modelName,
		cfg:       cfg,
		log:       log,
	}
}

// Search runs one hybrid query and returns at most TopK results.
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is empty", kberr.ErrInvalidQuery)
	}

	topK := req.TopK
	if topK <= 0 {
		topK = e.cfg.DefaultTopK
	}
	if topK > e.cfg.MaxTopK {
		topK = e.cfg.MaxTopK
	}

	filter := schema.ScopeFilter{
		OrganizationID: req.Scope.OrganizationID,
		EventID:        req.Scope.EventID,
	}
	terms := e.scorer.ExtractKeyTerms(query)

	embedding, err := e.queryEmbedding(ctx, query)
	if err != nil {
		if e.cfg.KeywordFallback && isProviderError(err) {
			e.log.Warn(fmt.Sprintf("Embedding provider unavailable, serving keyword-only results: %v", err))
			return e.keywordOnly(ctx, terms, filter, topK, req.IncludeContent)
		}
		return nil, err
	}

	scored, err := e.chunks.Search(ctx, embedding, topK*fetchMultiplier, filter)
	if err != nil {
		return nil, err
	}

	if !req.Hybrid {
		terms = nil
	}
	ranked := e.blend(scored, terms)
	ranked = e.capPerDocument(ranked, topK)

	results, err := e.materialize(ctx, ranked, terms, req.IncludeContent)
	if err != nil {
		return nil, err
	}
	return &Response{Results: results, Count: len(results)}, nil
}

// rankedChunk pairs a chunk with its blended score during ranking.
type rankedChunk struct {
	chunk       schema.Chunk
	score       float64
	vectorScore float64
	source      schema.ResultSource
}

// blend combines vector similarity with lexical keyword scoring. The vector
// score keeps the configured weight; ties on the blended score break on the
// raw vector score so semantically closer chunks win.
func (e *Engine) blend(scored []*schema.ScoredChunk, terms []string) []rankedChunk {
	w := e.cfg.HybridWeight

	ranked := make([]rankedChunk, 0, len(scored))
	for _, sc := range scored {
		vec := float64(sc.Score)
		entry := rankedChunk{chunk: sc.Chunk, vectorScore: vec}
		if len(terms) == 0 {
			entry.score = vec
			entry.source = schema.SourceVector
		} else {
			kw := e.scorer.Score(sc.Content, terms)
			entry.score = w*vec + (1-w)*kw
			entry.source = schema.SourceHybrid
		}
		ranked = append(ranked, entry)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].vectorScore > ranked[j].vectorScore
	})
	return ranked
}

// capPerDocument keeps at most MaxChunksPerDocument chunks per source
// document so one long document cannot monopolize the result list, then
// truncates to topK.
func (e *Engine) capPerDocument(ranked []rankedChunk, topK int) []rankedChunk {
	perDoc := make(map[string]int)
	kept := make([]rankedChunk, 0, topK)
	for _, r := range ranked {
		if perDoc[r.chunk.DocumentID] >= e.cfg.MaxChunksPerDocument {
			continue
		}
		perDoc[r.chunk.DocumentID]++
		kept = append(kept, r)
		if len(kept) == topK {
			break
		}
	}
	return kept
}

// materialize resolves document metadata and snippets for the ranked chunks.
// Chunks whose document is missing or no longer ready are dropped; they are
// leftovers of an in-flight deletion or failure cleanup.
func (e *Engine) materialize(ctx context.Context, ranked []rankedChunk, terms []string, includeContent bool) ([]schema.SearchResult, error) {
	if len(ranked) == 0 {
		return []schema.SearchResult{}, nil
	}

	docIDs := make([]string, 0, len(ranked))
	seen := make(map[string]struct{})
	for _, r := range ranked {
		if _, ok := seen[r.chunk.DocumentID]; ok {
			continue
		}
		seen[r.chunk.DocumentID] = struct{}{}
		docIDs = append(docIDs, r.chunk.DocumentID)
	}

	docs, err := e.documents.GetByIDs(ctx, docIDs)
	if err != nil {
		return nil, err
	}

	results := make([]schema.SearchResult, 0, len(ranked))
	for _, r := range ranked {
		doc, ok := docs[r.chunk.DocumentID]
		if !ok || doc.Status != models.StatusReady {
			continue
		}
		result := schema.SearchResult{
			KnowledgeID:    r.chunk.DocumentID,
			Title:          doc.Title,
			Snippet:        e.scorer.Snippet(r.chunk.Content, terms, snippetSentences),
			Score:          r.score,
			Source:         r.source,
			ChunkIndex:     r.chunk.ChunkIndex,
			DocumentStatus: doc.Status,
		}
		if includeContent {
			result.Content = r.chunk.Content
		}
		results = append(results, result)
	}
	return results, nil
}

// keywordOnly serves the degraded search mode: lexical scoring over a bounded
// scan of in-scope chunks, no vector ranking. Only reachable when the
// operator opted in and the embedding provider is down.
func (e *Engine) keywordOnly(ctx context.Context, terms []string, filter schema.ScopeFilter, topK int, includeContent bool) (*Response, error) {
	if len(terms) == 0 {
		return &Response{Results: []schema.SearchResult{}, Degraded: true}, nil
	}

	chunks, err := e.chunks.ListByScope(ctx, filter, fallbackScanLimit)
	if err != nil {
		return nil, err
	}

	ranked := make([]rankedChunk, 0, len(chunks))
	for _, chunk := range chunks {
		score := e.scorer.Score(chunk.Content, terms)
		if score == 0 {
			continue
		}
		ranked = append(ranked, rankedChunk{chunk: *chunk, score: score, source: schema.SourceKeyword})
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	ranked = e.capPerDocument(ranked, topK)

	results, err := e.materialize(ctx, ranked, terms, includeContent)
	if err != nil {
		return nil, err
	}
	return &Response{Results: results, Count: len(results), Degraded: true}, nil
}

// queryEmbedding returns the embedding for a query, consulting the Redis
// cache first. Cache failures are logged and treated as misses.
func (e *Engine) queryEmbedding(ctx context.Context, query string) ([]float32, error) {
	key := e.cacheKey(query)

	if e.cache != nil {
		cached, err := e.cache.Get(ctx, key).Result()
		if err == nil {
			var embedding []float32
			if jsonErr := json.Unmarshal([]byte(cached), &embedding); jsonErr == nil && len(embedding) > 0 {
				return embedding, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			e.log.Warn(fmt.Sprintf("Query embedding cache read failed: %v", err))
		}
	}

	embedding, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		if payload, jsonErr := json.Marshal(embedding); jsonErr == nil {
			if err := e.cache.Set(ctx, key, payload, e.cacheTTL).Err(); err != nil {
				e.log.Warn(fmt.Sprintf("Query embedding cache write failed: %v", err))
			}
		}
	}
	return embedding, nil
}

func (e *Engine) cacheKey(query string) string {
	sum := sha256.Sum256([]byte(e.modelName + "\x00" + query))
	return "knowledge:query-embedding:" + hex.EncodeToString(sum[:])
}

func isProviderError(err error) bool {
	return errors.Is(err, kberr.ErrProviderUnavailable) || errors.Is(err, kberr.ErrRateLimited)
}
