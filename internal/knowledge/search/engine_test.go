package search

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/eventops/knowledge-service/internal/config"
	"github.com/eventops/knowledge-service/internal/knowledge/interfaces"
	"github.com/eventops/knowledge-service/internal/knowledge/kberr"
	"github.com/eventops/knowledge-service/internal/knowledge/schema"
	"github.com/eventops/knowledge-service/internal/knowledge/store"
	"github.com/eventops/knowledge-service/internal/models"
	"github.com/eventops/knowledge-service/pkg/logger"
)

// stubEmbedder returns a fixed query vector or a configured error.
type stubEmbedder struct {
	vector []float32
	err    error
}

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.vector, nil
}

func (e *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		v, err := e.Embed(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		vectors[i] = v
	}
	return vectors, nil
}

// stubDocumentStore serves document metadata lookups for result assembly.
type stubDocumentStore struct {
	docs map[string]*models.KnowledgeDocument
}

func (s *stubDocumentStore) Create(ctx context.Context, doc *models.KnowledgeDocument) error {
	s.docs[doc.ID] = doc
	return nil
}

func (s *stubDocumentStore) GetByID(ctx context.Context, id string) (*models.KnowledgeDocument, error) {
	doc, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", kberr.ErrNotFound, id)
	}
	return doc, nil
}

func (s *stubDocumentStore) GetByIDs(ctx context.Context, ids []string) (map[string]*models.KnowledgeDocument, error) {
	result := make(map[string]*models.KnowledgeDocument)
	for _, id := range ids {
		if doc, ok := s.docs[id]; ok {
			result[id] = doc
		}
	}
	return result, nil
}

func (s *stubDocumentStore) List(ctx context.Context, filter schema.ScopeFilter) ([]*models.KnowledgeDocument, error) {
	return nil, nil
}

func (s *stubDocumentStore) MarkReady(ctx context.Context, id string, chunkCount int) error {
	return nil
}

func (s *stubDocumentStore) MarkFailed(ctx context.Context, id string, reason string) error {
	return nil
}

func (s *stubDocumentStore) FindIngesting(ctx context.Context, title string, orgID *string, byteSize int64) (*models.KnowledgeDocument, error) {
	return nil, nil
}

func (s *stubDocumentStore) UpdateMetadata(ctx context.Context, id string, title *string, tags []string) error {
	return nil
}

func (s *stubDocumentStore) Delete(ctx context.Context, id string) error { return nil }

var _ interfaces.DocumentStore = (*stubDocumentStore)(nil)

func testConfig(fallback bool) config.KnowledgeConfig {
	return config.KnowledgeConfig{
		MaxChunkSize:         600,
		ChunkOverlap:         110,
		HybridWeight:         0.7,
		MaxChunksPerDocument: 2,
		DefaultTopK:          10,
		MaxTopK:              20,
		KeywordFallback:      fallback,
		QueryCacheTTLSec:     300,
	}
}

func readyDoc(id, title string, org *string) *models.KnowledgeDocument {
	return &models.KnowledgeDocument{
		ID: id, Title: title, SourceType: models.SourceText,
		OrganizationID: org, Status: models.StatusReady, UploaderID: "u",
	}
}

func newTestEngine(embedder interfaces.EmbeddingModel, chunks interfaces.ChunkStore, docs interfaces.DocumentStore, fallback bool) *Engine {
	return NewEngine(embedder, chunks, docs, nil, "test-model", testConfig(fallback), logger.New("test", "", ""))
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	engine := newTestEngine(&stubEmbedder{vector: []float32{1, 0}}, store.NewInMemoryChunkStore(),
		&stubDocumentStore{docs: map[string]*models.KnowledgeDocument{}}, false)

	for _, query := range []string{"", "   ", "\t\n"} {
		if _, err := engine.Search(context.Background(), Request{Query: query}); !errors.Is(err, kberr.ErrInvalidQuery) {
			t.Errorf("Search(%q) error = %v, want ErrInvalidQuery", query, err)
		}
	}
}

func TestSearchHybridRanking(t *testing.T) {
	chunks := store.NewInMemoryChunkStore()
	docs := &stubDocumentStore{docs: map[string]*models.KnowledgeDocument{
		"doc-capacity": readyDoc("doc-capacity", "Venue guide", nil),
		"doc-parking":  readyDoc("doc-parking", "Parking guide", nil),
	}}
	err := chunks.Insert(context.Background(), []*schema.Chunk{
		{ID: "c1", DocumentID: "doc-capacity", ChunkIndex: 0,
			Content:   "The venue capacity is two thousand people.",
			Embedding: []float32{1, 0, 0}},
		{ID: "c2", DocumentID: "doc-parking", ChunkIndex: 0,
			Content:   "Parking is behind the hall.",
			Embedding: []float32{0, 1, 0}},
	})
	if err != nil {
		t.Fatal(err)
	}

	engine := newTestEngine(&stubEmbedder{vector: []float32{1, 0, 0}}, chunks, docs, false)
	resp, err := engine.Search(context.Background(), Request{Query: "venue capacity", Hybrid: true})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Degraded {
		t.Error("healthy search must not be degraded")
	}
	if len(resp.Results) == 0 {
		t.Fatal("expected results")
	}
	if resp.Count != len(resp.Results) {
		t.Errorf("count = %d, want %d", resp.Count, len(resp.Results))
	}

	top := resp.Results[0]
	if top.KnowledgeID != "doc-capacity" {
		t.Errorf("top result = %s, want doc-capacity", top.KnowledgeID)
	}
	if top.Source != schema.SourceHybrid {
		t.Errorf("source = %s, want hybrid", top.Source)
	}
	if top.Score <= 0 || top.Score > 1 {
		t.Errorf("score = %f, want in (0, 1]", top.Score)
	}
	if top.Title != "Venue guide" {
		t.Errorf("title = %q, want %q", top.Title, "Venue guide")
	}
	if top.Snippet == "" {
		t.Error("snippet must not be empty")
	}
}

func TestSearchHybridRankingInLargerCorpus(t *testing.T) {
	topics := []string{
		"Catering arrives at noon with staff meals.",
		"Parking passes are distributed at the gate.",
		"The AV crew tests microphones on Friday.",
		"Security badges are issued at the north desk.",
		"Guest wifi credentials rotate every morning.",
		"The stage build starts two days ahead.",
		"Cleanup crews work until midnight.",
		"Shuttle buses loop every twenty minutes.",
		"The weather contingency moves talks indoors.",
		"Sponsors set up booths in the east wing.",
	}

	chunks := store.NewInMemoryChunkStore()
	docs := &stubDocumentStore{docs: map[string]*models.KnowledgeDocument{
		"doc-capacity": readyDoc("doc-capacity", "Venue guide", nil),
	}}
	inserts := []*schema.Chunk{
		{ID: "hit", DocumentID: "doc-capacity", ChunkIndex: 0,
			Content:   "The venue capacity is two thousand people.",
			Embedding: []float32{0.9, 0.3, 0.1}},
	}
	for i, content := range topics {
		id := fmt.Sprintf("doc-%d", i)
		docs.docs[id] = readyDoc(id, fmt.Sprintf("Topic %d", i), nil)
		inserts = append(inserts, &schema.Chunk{
			ID: fmt.Sprintf("c-%d", i), DocumentID: id, ChunkIndex: 0,
			Content:   content,
			Embedding: []float32{0.1 * float32(i%3), 0.8, 0.2},
		})
	}
	if err := chunks.Insert(context.Background(), inserts); err != nil {
		t.Fatal(err)
	}

	engine := newTestEngine(&stubEmbedder{vector: []float32{1, 0, 0}}, chunks, docs, false)
	resp, err := engine.Search(context.Background(), Request{Query: "What is the venue capacity?", Hybrid: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) < 2 {
		t.Fatalf("got %d results, want the hit plus near neighbors", len(resp.Results))
	}
	if resp.Results[0].KnowledgeID != "doc-capacity" {
		t.Errorf("top result = %s, want doc-capacity", resp.Results[0].KnowledgeID)
	}
	for i := 1; i < len(resp.Results); i++ {
		if resp.Results[i].Score > resp.Results[i-1].Score {
			t.Errorf("results not sorted by score at position %d", i)
		}
	}
}

func TestSearchVectorOnlyRanking(t *testing.T) {
	chunks := store.NewInMemoryChunkStore()
	docs := &stubDocumentStore{docs: map[string]*models.KnowledgeDocument{
		"doc-1": readyDoc("doc-1", "Guide", nil),
	}}
	err := chunks.Insert(context.Background(), []*schema.Chunk{
		{ID: "c1", DocumentID: "doc-1", Content: "The venue capacity is two thousand.", Embedding: []float32{1, 0}},
	})
	if err != nil {
		t.Fatal(err)
	}

	engine := newTestEngine(&stubEmbedder{vector: []float32{1, 0}}, chunks, docs, false)
	resp, err := engine.Search(context.Background(), Request{Query: "venue capacity", Hybrid: false})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("got %d results, want 1", len(resp.Results))
	}
	if resp.Results[0].Source != schema.SourceVector {
		t.Errorf("source = %s, want vector when hybrid is off", resp.Results[0].Source)
	}
}

func TestSearchScopeIsolation(t *testing.T) {
	orgA, orgB := "org-a", "org-b"
	chunks := store.NewInMemoryChunkStore()
	docs := &stubDocumentStore{docs: map[string]*models.KnowledgeDocument{
		"doc-a":      readyDoc("doc-a", "Org A playbook", &orgA),
		"doc-b":      readyDoc("doc-b", "Org B playbook", &orgB),
		"doc-global": readyDoc("doc-global", "Shared playbook", nil),
	}}
	err := chunks.Insert(context.Background(), []*schema.Chunk{
		{ID: "c1", DocumentID: "doc-a", Content: "event checklist for org a", Embedding: []float32{1, 0}, OrganizationID: orgA},
		{ID: "c2", DocumentID: "doc-b", Content: "event checklist for org b", Embedding: []float32{1, 0}, OrganizationID: orgB},
		{ID: "c3", DocumentID: "doc-global", Content: "shared event checklist", Embedding: []float32{1, 0}},
	})
	if err != nil {
		t.Fatal(err)
	}

	engine := newTestEngine(&stubEmbedder{vector: []float32{1, 0}}, chunks, docs, false)
	resp, err := engine.Search(context.Background(), Request{
		Query:  "event checklist",
		Scope:  models.Scope{OrganizationID: &orgA},
		Hybrid: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	seen := make(map[string]bool)
	for _, r := range resp.Results {
		seen[r.KnowledgeID] = true
	}
	if seen["doc-b"] {
		t.Error("result leaked across organizations")
	}
	if !seen["doc-a"] || !seen["doc-global"] {
		t.Errorf("expected own and global documents, got %v", seen)
	}

	// An unscoped caller sees everything.
	resp, err = engine.Search(context.Background(), Request{Query: "event checklist", Hybrid: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 3 {
		t.Errorf("unscoped search returned %d results, want 3", len(resp.Results))
	}
}

func TestSearchCapsChunksPerDocument(t *testing.T) {
	chunks := store.NewInMemoryChunkStore()
	docs := &stubDocumentStore{docs: map[string]*models.KnowledgeDocument{
		"doc-big":   readyDoc("doc-big", "Big doc", nil),
		"doc-small": readyDoc("doc-small", "Small doc", nil),
	}}

	var inserts []*schema.Chunk
	for i := 0; i < 5; i++ {
		inserts = append(inserts, &schema.Chunk{
			ID: fmt.Sprintf("big-%d", i), DocumentID: "doc-big", ChunkIndex: i,
			Content: "venue schedule details", Embedding: []float32{1, 0},
		})
	}
	inserts = append(inserts, &schema.Chunk{
		ID: "small-0", DocumentID: "doc-small", ChunkIndex: 0,
		Content: "venue schedule overview", Embedding: []float32{0.9, 0.1},
	})
	if err := chunks.Insert(context.Background(), inserts); err != nil {
		t.Fatal(err)
	}

	engine := newTestEngine(&stubEmbedder{vector: []float32{1, 0}}, chunks, docs, false)
	resp, err := engine.Search(context.Background(), Request{Query: "venue schedule", Hybrid: true})
	if err != nil {
		t.Fatal(err)
	}

	perDoc := make(map[string]int)
	for _, r := range resp.Results {
		perDoc[r.KnowledgeID]++
	}
	if perDoc["doc-big"] > 2 {
		t.Errorf("doc-big contributed %d chunks, cap is 2", perDoc["doc-big"])
	}
	if perDoc["doc-small"] == 0 {
		t.Error("capping starved the smaller document out of the results")
	}
}

func TestSearchDropsNonReadyDocuments(t *testing.T) {
	failedDoc := readyDoc("doc-failed", "Broken", nil)
	failedDoc.Status = models.StatusFailed

	chunks := store.NewInMemoryChunkStore()
	docs := &stubDocumentStore{docs: map[string]*models.KnowledgeDocument{
		"doc-ok":     readyDoc("doc-ok", "Fine", nil),
		"doc-failed": failedDoc,
	}}
	err := chunks.Insert(context.Background(), []*schema.Chunk{
		{ID: "c1", DocumentID: "doc-ok", Content: "catering plan", Embedding: []float32{1, 0}},
		{ID: "c2", DocumentID: "doc-failed", Content: "catering plan", Embedding: []float32{1, 0}},
		{ID: "c3", DocumentID: "doc-gone", Content: "catering plan", Embedding: []float32{1, 0}},
	})
	if err != nil {
		t.Fatal(err)
	}

	engine := newTestEngine(&stubEmbedder{vector: []float32{1, 0}}, chunks, docs, false)
	resp, err := engine.Search(context.Background(), Request{Query: "catering plan", Hybrid: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 || resp.Results[0].KnowledgeID != "doc-ok" {
		t.Errorf("results = %+v, want only doc-ok", resp.Results)
	}
}

func TestSearchKeywordFallback(t *testing.T) {
	chunks := store.NewInMemoryChunkStore()
	docs := &stubDocumentStore{docs: map[string]*models.KnowledgeDocument{
		"doc-1": readyDoc("doc-1", "Venue guide", nil),
		"doc-2": readyDoc("doc-2", "Other", nil),
	}}
	err := chunks.Insert(context.Background(), []*schema.Chunk{
		{ID: "c1", DocumentID: "doc-1", Content: "The venue capacity is two thousand.", Embedding: []float32{1, 0}},
		{ID: "c2", DocumentID: "doc-2", Content: "Unrelated parking information.", Embedding: []float32{0, 1}},
	})
	if err != nil {
		t.Fatal(err)
	}
	embedder := &stubEmbedder{err: kberr.ErrProviderUnavailable}

	// Fallback disabled: the failure propagates.
	engine := newTestEngine(embedder, chunks, docs, false)
	if _, err := engine.Search(context.Background(), Request{Query: "venue capacity", Hybrid: true}); !errors.Is(err, kberr.ErrProviderUnavailable) {
		t.Fatalf("error = %v, want ErrProviderUnavailable", err)
	}

	// Fallback enabled: keyword-only results, marked degraded.
	engine = newTestEngine(embedder, chunks, docs, true)
	resp, err := engine.Search(context.Background(), Request{Query: "venue capacity", Hybrid: true})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Degraded {
		t.Error("fallback response must be marked degraded")
	}
	if len(resp.Results) != 1 {
		t.Fatalf("got %d results, want 1", len(resp.Results))
	}
	r := resp.Results[0]
	if r.KnowledgeID != "doc-1" || r.Source != schema.SourceKeyword {
		t.Errorf("result = %+v, want doc-1 from keyword ranking", r)
	}
	if r.Score <= 0 || r.Score > 1 {
		t.Errorf("score = %f, want in (0, 1]", r.Score)
	}
}

func TestSearchStoreFailureFailsClosed(t *testing.T) {
	// Even with the keyword fallback enabled, a store error must propagate;
	// only provider failures degrade.
	docs := &stubDocumentStore{docs: map[string]*models.KnowledgeDocument{}}
	engine := newTestEngine(&stubEmbedder{vector: []float32{1, 0}}, failingChunkStore{}, docs, true)

	if _, err := engine.Search(context.Background(), Request{Query: "anything"}); !errors.Is(err, kberr.ErrStoreUnavailable) {
		t.Fatalf("error = %v, want ErrStoreUnavailable", err)
	}
}

type failingChunkStore struct{}

func (failingChunkStore) Insert(ctx context.Context, chunks []*schema.Chunk) error {
	return kberr.ErrStoreUnavailable
}

func (failingChunkStore) Search(ctx context.Context, embedding []float32, topK int, filter schema.ScopeFilter) ([]*schema.ScoredChunk, error) {
	return nil, kberr.ErrStoreUnavailable
}

func (failingChunkStore) ListByScope(ctx context.Context, filter schema.ScopeFilter, limit int) ([]*schema.Chunk, error) {
	return nil, kberr.ErrStoreUnavailable
}

func (failingChunkStore) DeleteByDocument(ctx context.Context, documentID string) error {
	return kberr.ErrStoreUnavailable
}
