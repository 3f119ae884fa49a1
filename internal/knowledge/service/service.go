package service

import (
	"context"
	"fmt"
	"time"

	"github.com/eventops/knowledge-service/internal/config"
	"github.com/eventops/knowledge-service/internal/knowledge/events"
	"github.com/eventops/knowledge-service/internal/knowledge/interfaces"
	"github.com/eventops/knowledge-service/internal/knowledge/kberr"
	"github.com/eventops/knowledge-service/internal/knowledge/pipeline"
	"github.com/eventops/knowledge-service/internal/knowledge/schema"
	"github.com/eventops/knowledge-service/internal/knowledge/search"
	"github.com/eventops/knowledge-service/internal/models"
	"github.com/eventops/knowledge-service/pkg/logger"
)

// Caller identifies the authenticated principal and its tenancy. A nil
// OrganizationID marks a super-tenant operator who may address any scope.
type Caller struct {
	UserID         string
	OrganizationID *string
	Role           string
}

// Unscoped reports whether the caller may address arbitrary organizations.
func (c Caller) Unscoped() bool {
	return c.OrganizationID == nil
}

// KnowledgeService is the application boundary of the knowledge subsystem. It
// enforces scope authorization and per-operation timeouts, then delegates to
// the ingestion pipeline, the search engine and the stores.
type KnowledgeService struct {
	pipeline      *pipeline.IngestionPipeline
	engine        *search.Engine
	documents     interfaces.DocumentStore
	chunks        interfaces.ChunkStore
	objects       interfaces.ObjectStore // optional
	publisher     interfaces.EventPublisher
	ingestTimeout time.Duration
	searchTimeout time.Duration
	log           *logger.Logger
}

// NewKnowledgeService creates the service. objects may be nil when upload
// archiving is not configured.
func NewKnowledgeService(
	ingestPipeline *pipeline.IngestionPipeline,
	engine *search.Engine,
	documents interfaces.DocumentStore,
	chunks interfaces.ChunkStore,
	objects interfaces.ObjectStore,
	publisher interfaces.EventPublisher,
	cfg config.KnowledgeConfig,
	log *logger.Logger,
) *KnowledgeService {
	return &KnowledgeService{
		pipeline:      ingestPipeline,
		engine:        engine,
		documents:     documents,
		chunks:        chunks,
		objects:       objects,
		publisher:     publisher,
		ingestTimeout: time.Duration(cfg.IngestTimeoutSec) * time.Second,
		searchTimeout: time.Duration(cfg.SearchTimeoutSec) * time.Second,
		log:           log,
	}
}

// IngestInput is the service-level ingestion request before scope resolution.
type IngestInput struct {
	Title          string
	Tags           []string
	SourceType     models.SourceType
	Filename       string
	Data           []byte
	Text           string
	OrganizationID *string
	EventID        *string
}

// IngestDocument resolves the effective scope for the caller and runs the
// ingestion pipeline under the ingest timeout.
func (s *KnowledgeService) IngestDocument(ctx context.Context, caller Caller, input IngestInput) (*pipeline.IngestResult, error) {
	scope, err := s.resolveScope(caller, input.OrganizationID, input.EventID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.ingestTimeout)
	defer cancel()

	return s.pipeline.Ingest(ctx, pipeline.IngestRequest{
		Title:      input.Title,
		UploaderID: caller.UserID,
		Scope:      scope,
		Tags:       input.Tags,
		SourceType: input.SourceType,
		Filename:   input.Filename,
		Data:       input.Data,
		Text:       input.Text,
	})
}

// CancelIngestion aborts an in-flight ingestion owned by the caller's scope.
func (s *KnowledgeService) CancelIngestion(ctx context.Context, caller Caller, knowledgeID string) error {
	if _, err := s.authorizeDocument(ctx, caller, knowledgeID, true); err != nil {
		return err
	}
	return s.pipeline.Cancel(ctx, knowledgeID)
}

// SearchInput is the service-level search request before scope resolution.
type SearchInput struct {
	Query          string
	TopK           int
	UseHybrid      bool
	IncludeContent bool
	OrganizationID *string
	EventID        *string
}

// SearchKnowledge resolves the caller's effective scope and runs one hybrid
// search under the search timeout.
func (s *KnowledgeService) SearchKnowledge(ctx context.Context, caller Caller, input SearchInput) (*search.Response, error) {
	scope, err := s.resolveScope(caller, input.OrganizationID, input.EventID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.searchTimeout)
	defer cancel()

	return s.engine.Search(ctx, search.Request{
		Query:          input.Query,
		Scope:          scope,
		TopK:           input.TopK,
		Hybrid:         input.UseHybrid,
		IncludeContent: input.IncludeContent,
	})
}

// GetDocument returns one document visible to the caller.
func (s *KnowledgeService) GetDocument(ctx context.Context, caller Caller, knowledgeID string) (*models.KnowledgeDocument, error) {
	return s.authorizeDocument(ctx, caller, knowledgeID, false)
}

// ListDocuments returns the documents visible in the caller's scope, newest
// first as ordered by the store.
func (s *KnowledgeService) ListDocuments(ctx context.Context, caller Caller, organizationID, eventID *string) ([]*models.KnowledgeDocument, error) {
	scope, err := s.resolveScope(caller, organizationID, eventID)
	if err != nil {
		return nil, err
	}
	return s.documents.List(ctx, schema.ScopeFilter{
		OrganizationID: scope.OrganizationID,
		EventID:        scope.EventID,
	})
}

// DeleteDocument removes a document, its chunks and its archived upload. The
// chunks go first so search never returns hits for a document row that is
// already gone.
func (s *KnowledgeService) DeleteDocument(ctx context.Context, caller Caller, knowledgeID string) error {
	doc, err := s.authorizeDocument(ctx, caller, knowledgeID, true)
	if err != nil {
		return err
	}
	if doc.Status == models.StatusIngesting {
		return fmt.Errorf("%w: cancel the ingestion before deleting", kberr.ErrNotIngesting)
	}

	if err := s.chunks.DeleteByDocument(ctx, knowledgeID); err != nil {
		return err
	}
	if err := s.documents.Delete(ctx, knowledgeID); err != nil {
		return err
	}
	if s.objects != nil {
		if err := s.objects.Remove(ctx, knowledgeID); err != nil {
			s.log.Warn(fmt.Sprintf("Failed to remove archived upload for %s: %v", knowledgeID, err))
		}
	}

	s.log.Info(fmt.Sprintf("Deleted knowledge document %s", knowledgeID))
	_ = s.publisher.Publish(ctx, interfaces.DocumentEvent{
		Type:           events.EventDeleted,
		KnowledgeID:    knowledgeID,
		OrganizationID: doc.OrganizationID,
		Status:         string(doc.Status),
		Timestamp:      time.Now().UTC(),
	})
	return nil
}

// UpdateDocumentMetadata changes a document's title and tags. Content and
// embeddings are immutable; a content change is a delete plus re-ingest.
func (s *KnowledgeService) UpdateDocumentMetadata(ctx context.Context, caller Caller, knowledgeID string, title *string, tags []string) (*models.KnowledgeDocument, error) {
	if _, err := s.authorizeDocument(ctx, caller, knowledgeID, true); err != nil {
		return nil, err
	}
	if err := s.documents.UpdateMetadata(ctx, knowledgeID, title, tags); err != nil {
		return nil, err
	}
	return s.documents.GetByID(ctx, knowledgeID)
}

// resolveScope maps a requested scope onto the caller's permissions. Scoped
// callers are pinned to their own organization; an explicit mismatching
// organization is denied rather than silently narrowed.
func (s *KnowledgeService) resolveScope(caller Caller, organizationID, eventID *string) (models.Scope, error) {
	if caller.Unscoped() {
		return models.Scope{OrganizationID: organizationID, EventID: eventID}, nil
	}

	if organizationID != nil && *organizationID != *caller.OrganizationID {
		return models.Scope{}, fmt.Errorf("%w: organization %s is outside the caller's scope", kberr.ErrAccessDenied, *organizationID)
	}
	return models.Scope{OrganizationID: caller.OrganizationID, EventID: eventID}, nil
}

// authorizeDocument loads a document and checks the caller may see it; with
// mutate set it additionally requires ownership, so globally visible documents
// can only be changed by unscoped operators.
func (s *KnowledgeService) authorizeDocument(ctx context.Context, caller Caller, knowledgeID string, mutate bool) (*models.KnowledgeDocument, error) {
	doc, err := s.documents.GetByID(ctx, knowledgeID)
	if err != nil {
		return nil, err
	}
	if caller.Unscoped() {
		return doc, nil
	}

	if doc.OrganizationID == nil {
		if mutate {
			return nil, fmt.Errorf("%w: global documents are read-only for organization members", kberr.ErrAccessDenied)
		}
		return doc, nil
	}
	if *doc.OrganizationID != *caller.OrganizationID {
		// Do not leak existence across tenants.
		return nil, fmt.Errorf("%w: document %s", kberr.ErrNotFound, knowledgeID)
	}
	return doc, nil
}
