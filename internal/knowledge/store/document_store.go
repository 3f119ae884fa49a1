package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/eventops/knowledge-service/internal/knowledge/interfaces"
	"github.com/eventops/knowledge-service/internal/knowledge/kberr"
	"github.com/eventops/knowledge-service/internal/knowledge/schema"
	"github.com/eventops/knowledge-service/internal/models"
	"gorm.io/gorm"
)

// DocumentDAL provides data access for knowledge document rows. It enforces
// the status state machine with guarded updates: transitions out of
// ingesting only succeed while the row is still ingesting, which makes the
// status usable as an advisory lock.
type DocumentDAL struct {
	db *gorm.DB
}

// NewDocumentDAL creates a new DocumentDAL.
func NewDocumentDAL(db *gorm.DB) *DocumentDAL {
	return &DocumentDAL{db: db}
}

// Create inserts a new document row, normally in ingesting state.
func (dal *DocumentDAL) Create(ctx context.Context, doc *models.KnowledgeDocument) error {
	if result := dal.db.WithContext(ctx).Create(doc); result.Error != nil {
		return fmt.Errorf("%w: %v", kberr.ErrStoreUnavailable, result.Error)
	}
	return nil
}

// GetByID fetches one document row.
func (dal *DocumentDAL) GetByID(ctx context.Context, id string) (*models.KnowledgeDocument, error) {
	var doc models.KnowledgeDocument
	result := dal.db.WithContext(ctx).First(&doc, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", kberr.ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: %v", kberr.ErrStoreUnavailable, result.Error)
	}
	return &doc, nil
}

// GetByIDs fetches multiple document rows keyed by ID. Missing IDs are simply
// absent from the map.
func (dal *DocumentDAL) GetByIDs(ctx context.Context, ids []string) (map[string]*models.KnowledgeDocument, error) {
	if len(ids) == 0 {
		return map[string]*models.KnowledgeDocument{}, nil
	}
	var docs []*models.KnowledgeDocument
	result := dal.db.WithContext(ctx).Where("id IN ?", ids).Find(&docs)
	if result.Error != nil {
		return nil, fmt.Errorf("%w: %v", kberr.ErrStoreUnavailable, result.Error)
	}
	byID := make(map[string]*models.KnowledgeDocument, len(docs))
	for _, doc := range docs {
		byID[doc.ID] = doc
	}
	return byID, nil
}

// List returns documents visible in the given scope, newest first. A nil
// organization filter (super-tenant) returns everything.
func (dal *DocumentDAL) List(ctx context.Context, filter schema.ScopeFilter) ([]*models.KnowledgeDocument, error) {
	query := dal.db.WithContext(ctx).Model(&models.KnowledgeDocument{})
	if filter.OrganizationID != nil {
		query = query.Where("organization_id IS NULL OR organization_id = ?", *filter.OrganizationID)
	}
	if filter.EventID != nil {
		query = query.Where("event_id IS NULL OR event_id = ?", *filter.EventID)
	}

	var docs []*models.KnowledgeDocument
	result := query.Order("created_at DESC").Find(&docs)
	if result.Error != nil {
		return nil, fmt.Errorf("%w: %v", kberr.ErrStoreUnavailable, result.Error)
	}
	return docs, nil
}

// MarkReady transitions ingesting -> ready and records the chunk count.
func (dal *DocumentDAL) MarkReady(ctx context.Context, id string, chunkCount int) error {
	return dal.transition(ctx, id, map[string]interface{}{
		"status":      models.StatusReady,
		"chunk_count": chunkCount,
		"last_error":  nil,
	})
}

// MarkFailed transitions ingesting -> failed and records the failure reason.
func (dal *DocumentDAL) MarkFailed(ctx context.Context, id string, reason string) error {
	return dal.transition(ctx, id, map[string]interface{}{
		"status":      models.StatusFailed,
		"chunk_count": 0,
		"last_error":  reason,
	})
}

// transition applies a guarded status update: the row must still be in
// ingesting state. Zero rows affected means either the document is gone or
// it already left ingesting.
func (dal *DocumentDAL) transition(ctx context.Context, id string, updates map[string]interface{}) error {
	result := dal.db.WithContext(ctx).
		Model(&models.KnowledgeDocument{}).
		Where("id = ? AND status = ?", id, models.StatusIngesting).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("%w: %v", kberr.ErrStoreUnavailable, result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := dal.GetByID(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", kberr.ErrNotIngesting, id)
	}
	return nil
}

// FindIngesting looks up an in-flight ingestion of the same upload (same
// title, organization and byte size). Returns nil when there is none.
func (dal *DocumentDAL) FindIngesting(ctx context.Context, title string, orgID *string, byteSize int64) (*models.KnowledgeDocument, error) {
	query := dal.db.WithContext(ctx).
		Where("title = ? AND byte_size = ? AND status = ?", title, byteSize, models.StatusIngesting)
	if orgID == nil {
		query = query.Where("organization_id IS NULL")
	} else {
		query = query.Where("organization_id = ?", *orgID)
	}

	var doc models.KnowledgeDocument
	result := query.First(&doc)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", kberr.ErrStoreUnavailable, result.Error)
	}
	return &doc, nil
}

// UpdateMetadata changes the title and tags of a document. Chunk content and
// embeddings are immutable after ingestion, so nothing else is writable.
func (dal *DocumentDAL) UpdateMetadata(ctx context.Context, id string, title *string, tags []string) error {
	doc, err := dal.GetByID(ctx, id)
	if err != nil {
		return err
	}

	updates := map[string]interface{}{}
	if title != nil {
		updates["title"] = *title
	}
	if tags != nil {
		doc.SetTagList(tags)
		updates["tags"] = doc.Tags
	}
	if len(updates) == 0 {
		return nil
	}

	result := dal.db.WithContext(ctx).
		Model(&models.KnowledgeDocument{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("%w: %v", kberr.ErrStoreUnavailable, result.Error)
	}
	return nil
}

// Delete removes a document row. Chunk cleanup is the caller's concern so it
// can be sequenced with the vector store delete.
func (dal *DocumentDAL) Delete(ctx context.Context, id string) error {
	result := dal.db.WithContext(ctx).Delete(&models.KnowledgeDocument{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("%w: %v", kberr.ErrStoreUnavailable, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", kberr.ErrNotFound, id)
	}
	return nil
}

// compile-time check to ensure DocumentDAL implements the DocumentStore interface
var _ interfaces.DocumentStore = (*DocumentDAL)(nil)
