package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/eventops/knowledge-service/internal/database/milvus"
	"github.com/eventops/knowledge-service/internal/knowledge/interfaces"
	"github.com/eventops/knowledge-service/internal/knowledge/kberr"
	"github.com/eventops/knowledge-service/internal/knowledge/schema"
	"github.com/eventops/knowledge-service/pkg/logger"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

const (
	// Schema fields of the Milvus chunk collection.
	FieldID             = "id"
	FieldDocumentID     = "document_id"
	FieldChunkIndex     = "chunk_index"
	FieldContent        = "content"
	FieldOrganizationID = "organization_id"
	FieldEventID        = "event_id"
	FieldEmbedding      = "embedding"

	// maxContentLength bounds the varchar column; chunk contents are already
	// bounded well below this by the chunker.
	maxContentLength = 4096
)

// CollectionSchema builds the Milvus schema for the chunk collection.
func CollectionSchema(name string, dim int) *entity.Schema {
	return entity.NewSchema().
		WithName(name).
		WithDescription("knowledge base chunks with denormalized tenant scope").
		WithField(entity.NewField().WithName(FieldID).WithDataType(entity.FieldTypeVarChar).WithMaxLength(64).WithIsPrimaryKey(true)).
		WithField(entity.NewField().WithName(FieldDocumentID).WithDataType(entity.FieldTypeVarChar).WithMaxLength(64)).
		WithField(entity.NewField().WithName(FieldChunkIndex).WithDataType(entity.FieldTypeInt64)).
		WithField(entity.NewField().WithName(FieldContent).WithDataType(entity.FieldTypeVarChar).WithMaxLength(maxContentLength)).
		WithField(entity.NewField().WithName(FieldOrganizationID).WithDataType(entity.FieldTypeVarChar).WithMaxLength(64)).
		WithField(entity.NewField().WithName(FieldEventID).WithDataType(entity.FieldTypeVarChar).WithMaxLength(64)).
		WithField(entity.NewField().WithName(FieldEmbedding).WithDataType(entity.FieldTypeFloatVector).WithDim(int64(dim)))
}

// MilvusChunkStore implements the ChunkStore interface on top of the Milvus
// chunk collection. Similarity uses the cosine metric; scores are clamped to
// [0,1] before they leave the store.
type MilvusChunkStore struct {
	log        *logger.Logger
	client     client.Client
	collection string
}

// NewMilvusChunkStore creates a chunk store over an initialized Milvus client.
func NewMilvusChunkStore(milvusClient *milvus.MilvusClient, collectionName string, log *logger.Logger) (*MilvusChunkStore, error) {
	if milvusClient == nil || milvusClient.Client == nil {
		return nil, fmt.Errorf("milvus client is not initialized")
	}
	return &MilvusChunkStore{
		log:        log,
		client:     milvusClient.Client,
		collection: collectionName,
	}, nil
}

// Insert persists chunks in one bulk write.
func (s *MilvusChunkStore) Insert(ctx context.Context, chunks []*schema.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	ids := make([]string, len(chunks))
	docIDs := make([]string, len(chunks))
	indexes := make([]int64, len(chunks))
	contents := make([]string, len(chunks))
	orgIDs := make([]string, len(chunks))
	eventIDs := make([]string, len(chunks))
	embeddings := make([][]float32, len(chunks))

	dim := 0
	for i, chunk := range chunks {
		ids[i] = chunk.ID
		docIDs[i] = chunk.DocumentID
		indexes[i] = int64(chunk.ChunkIndex)
		contents[i] = chunk.Content
		orgIDs[i] = chunk.OrganizationID
		eventIDs[i] = chunk.EventID
		embeddings[i] = chunk.Embedding
		if len(chunk.Embedding) > dim {
			dim = len(chunk.Embedding)
		}
	}

	s.log.Info(fmt.Sprintf("Inserting %d chunks into Milvus collection %s", len(chunks), s.collection))
	_, err := s.client.Insert(ctx, s.collection, "", /* default partition */
		entity.NewColumnVarChar(FieldID, ids),
		entity.NewColumnVarChar(FieldDocumentID, docIDs),
		entity.NewColumnInt64(FieldChunkIndex, indexes),
		entity.NewColumnVarChar(FieldContent, contents),
		entity.NewColumnVarChar(FieldOrganizationID, orgIDs),
		entity.NewColumnVarChar(FieldEventID, eventIDs),
		entity.NewColumnFloatVector(FieldEmbedding, dim, embeddings),
	)
	if err != nil {
		return fmt.Errorf("%w: milvus insert: %v", kberr.ErrStoreUnavailable, err)
	}
	return nil
}

// Search performs a scope-filtered vector similarity query.
func (s *MilvusChunkStore) Search(ctx context.Context, embedding []float32, topK int, filter schema.ScopeFilter) ([]*schema.ScoredChunk, error) {
	expr := buildScopeExpr(filter)
	outputFields := []string{FieldID, FieldDocumentID, FieldChunkIndex, FieldContent, FieldOrganizationID, FieldEventID}

	sp, err := entity.NewIndexIvfFlatSearchParam(10)
	if err != nil {
		return nil, fmt.Errorf("%w: milvus search params: %v", kberr.ErrStoreUnavailable, err)
	}
	searchResults, err := s.client.Search(
		ctx, s.collection, []string{}, expr, outputFields,
		[]entity.Vector{entity.FloatVector(embedding)},
		FieldEmbedding, entity.COSINE, topK, sp,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: milvus search: %v", kberr.ErrStoreUnavailable, err)
	}

	var results []*schema.ScoredChunk
	for _, res := range searchResults {
		chunks, err := chunksFromColumns(res.Fields, res.ResultCount)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", kberr.ErrStoreUnavailable, err)
		}
		for i, chunk := range chunks {
			results = append(results, &schema.ScoredChunk{
				Chunk: *chunk,
				Score: clampScore(res.Scores[i]),
			})
		}
	}
	return results, nil
}

// ListByScope fetches chunks matching the filter without a vector query, for
// the keyword-only degraded search mode.
func (s *MilvusChunkStore) ListByScope(ctx context.Context, filter schema.ScopeFilter, limit int) ([]*schema.Chunk, error) {
	expr := buildScopeExpr(filter)
	if expr == "" {
		expr = fmt.Sprintf(`%s != ""`, FieldID)
	}
	outputFields := []string{FieldID, FieldDocumentID, FieldChunkIndex, FieldContent, FieldOrganizationID, FieldEventID}

	resultSet, err := s.client.Query(ctx, s.collection, []string{}, expr, outputFields, client.WithLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("%w: milvus query: %v", kberr.ErrStoreUnavailable, err)
	}

	count := 0
	for _, col := range resultSet {
		if col.Name() == FieldID {
			count = col.Len()
		}
	}
	chunks, err := chunksFromColumns(resultSet, count)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kberr.ErrStoreUnavailable, err)
	}
	return chunks, nil
}

// DeleteByDocument removes every chunk of the given document in one call, so
// cleanup after a failed ingestion is atomic from the caller's view.
func (s *MilvusChunkStore) DeleteByDocument(ctx context.Context, documentID string) error {
	expr := fmt.Sprintf(`%s == "%s"`, FieldDocumentID, escapeValue(documentID))
	if err := s.client.Delete(ctx, s.collection, "", expr); err != nil {
		return fmt.Errorf("%w: milvus delete: %v", kberr.ErrStoreUnavailable, err)
	}
	return nil
}

// buildScopeExpr translates a scope filter into a Milvus boolean expression.
// The empty organization value marks globally visible chunks, so a scoped
// filter always admits it alongside the caller's own organization.
func buildScopeExpr(filter schema.ScopeFilter) string {
	var conditions []string
	if filter.OrganizationID != nil {
		conditions = append(conditions, fmt.Sprintf(`(%s == "" or %s == "%s")`,
			FieldOrganizationID, FieldOrganizationID, escapeValue(*filter.OrganizationID)))
	}
	if filter.EventID != nil {
		conditions = append(conditions, fmt.Sprintf(`(%s == "" or %s == "%s")`,
			FieldEventID, FieldEventID, escapeValue(*filter.EventID)))
	}
	return strings.Join(conditions, " and ")
}

// escapeValue guards the filter expression against quote injection; scope
// identifiers are UUIDs in practice but the store does not rely on that.
func escapeValue(v string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v)
}

// chunksFromColumns rebuilds chunk records from Milvus output columns.
func chunksFromColumns(columns []entity.Column, count int) ([]*schema.Chunk, error) {
	byName := make(map[string]entity.Column, len(columns))
	for _, col := range columns {
		byName[col.Name()] = col
	}

	varcharData := func(name string) ([]string, error) {
		col, ok := byName[name].(*entity.ColumnVarChar)
		if !ok {
			return nil, fmt.Errorf("missing or mistyped column %s", name)
		}
		return col.Data(), nil
	}

	ids, err := varcharData(FieldID)
	if err != nil {
		return nil, err
	}
	docIDs, err := varcharData(FieldDocumentID)
	if err != nil {
		return nil, err
	}
	contents, err := varcharData(FieldContent)
	if err != nil {
		return nil, err
	}
	orgIDs, err := varcharData(FieldOrganizationID)
	if err != nil {
		return nil, err
	}
	eventIDs, err := varcharData(FieldEventID)
	if err != nil {
		return nil, err
	}
	idxCol, ok := byName[FieldChunkIndex].(*entity.ColumnInt64)
	if !ok {
		return nil, fmt.Errorf("missing or mistyped column %s", FieldChunkIndex)
	}
	indexes := idxCol.Data()

	chunks := make([]*schema.Chunk, 0, count)
	for i := 0; i < count; i++ {
		chunks = append(chunks, &schema.Chunk{
			ID:             ids[i],
			DocumentID:     docIDs[i],
			ChunkIndex:     int(indexes[i]),
			Content:        contents[i],
			OrganizationID: orgIDs[i],
			EventID:        eventIDs[i],
		})
	}
	return chunks, nil
}

// clampScore bounds a cosine similarity to [0,1]. Negative similarity means
// "no meaningful match" for ranking purposes.
func clampScore(score float32) float32 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// compile-time check to ensure MilvusChunkStore implements the ChunkStore interface
var _ interfaces.ChunkStore = (*MilvusChunkStore)(nil)
