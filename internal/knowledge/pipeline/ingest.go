package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eventops/knowledge-service/internal/knowledge/chunker"
	"github.com/eventops/knowledge-service/internal/knowledge/events"
	"github.com/eventops/knowledge-service/internal/knowledge/extract"
	"github.com/eventops/knowledge-service/internal/knowledge/interfaces"
	"github.com/eventops/knowledge-service/internal/knowledge/kberr"
	"github.com/eventops/knowledge-service/internal/knowledge/schema"
	"github.com/eventops/knowledge-service/internal/models"
	"github.com/eventops/knowledge-service/pkg/logger"
	"github.com/google/uuid"
)

// IngestRequest carries one upload or pasted text into the pipeline.
type IngestRequest struct {
	Title      string
	UploaderID string
	Scope      models.Scope
	Tags       []string
	SourceType models.SourceType
	Filename   string
	Data       []byte // uploaded file bytes
	Text       string // raw pasted text, used when SourceType is text-upload
}

// IngestResult reports a successful ingestion back to the route layer.
type IngestResult struct {
	KnowledgeID   string            `json:"knowledgeId"`
	ChunksCreated int               `json:"chunksCreated"`
	Bytes         int64             `json:"bytes"`
	SourceType    models.SourceType `json:"type"`
}

// IngestionPipeline orchestrates extraction, chunking, embedding and
// persistence for one document. The document row is created in ingesting
// state up front so cancellation and duplicate detection have a target; on
// any stage failure the row moves to failed with a reason and no chunks
// remain persisted.
type IngestionPipeline struct {
	extractor     *extract.Extractor
	chunker       *chunker.Chunker
	embedder      interfaces.EmbeddingModel
	documents     interfaces.DocumentStore
	chunks        interfaces.ChunkStore
	objects       interfaces.ObjectStore // optional upload archive
	publisher     interfaces.EventPublisher
	maxTextLength int
	log           *logger.Logger
}

// NewIngestionPipeline creates an IngestionPipeline. objects may be nil when
// upload archiving is not configured.
func NewIngestionPipeline(
	extractor *extract.Extractor,
	chunkSplitter *chunker.Chunker,
	embedder interfaces.EmbeddingModel,
	documents interfaces.DocumentStore,
	chunks interfaces.ChunkStore,
	objects interfaces.ObjectStore,
	publisher interfaces.EventPublisher,
	maxTextLength int,
	log *logger.Logger,
) *IngestionPipeline {
	return &IngestionPipeline{
		extractor:     extractor,
		chunker:       chunkSplitter,
		embedder:      embedder,
		documents:     documents,
		chunks:        chunks,
		objects:       objects,
		publisher:     publisher,
		maxTextLength: maxTextLength,
		log:           log,
	}
}

// Ingest runs the full pipeline for one request.
func (p *IngestionPipeline) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	data, sourceType, err := p.validate(req)
	if err != nil {
		return nil, err
	}

	// The ingesting status acts as an advisory lock: reject a second request
	// for the same upload while the first is still running.
	existing, err := p.documents.FindIngesting(ctx, req.Title, req.Scope.OrganizationID, int64(len(data)))
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: document %s", kberr.ErrAlreadyIngesting, existing.ID)
	}

	doc := &models.KnowledgeDocument{
		ID:               uuid.New().String(),
		Title:            req.Title,
		OriginalFilename: req.Filename,
		SourceType:       sourceType,
		OrganizationID:   req.Scope.OrganizationID,
		EventID:          req.Scope.EventID,
		Status:           models.StatusIngesting,
		ByteSize:         int64(len(data)),
		UploaderID:       req.UploaderID,
	}
	doc.SetTagList(req.Tags)

	if err := p.documents.Create(ctx, doc); err != nil {
		return nil, err
	}
	p.log.Info(fmt.Sprintf("Created knowledge document %s (%s, %d bytes), starting ingestion", doc.ID, sourceType, doc.ByteSize))
	p.publish(ctx, events.EventCreated, doc, "", 0)

	if p.objects != nil {
		// Archiving is best-effort; the stores remain the source of truth for
		// searchable content.
		if err := p.objects.Put(ctx, doc.ID, data, string(sourceType)); err != nil {
			p.log.Warn(fmt.Sprintf("Failed to archive upload for %s: %v", doc.ID, err))
		}
	}

	text, err := p.extractor.Extract(data, sourceType)
	if err != nil {
		return nil, p.fail(ctx, doc, fmt.Sprintf("text extraction failed: %v", err), err)
	}
	if len([]rune(text)) > p.maxTextLength {
		err := fmt.Errorf("%w: extracted text exceeds %d characters", kberr.ErrInvalidInput, p.maxTextLength)
		return nil, p.fail(ctx, doc, err.Error(), err)
	}

	candidates := p.chunker.Chunk(text)
	if len(candidates) == 0 {
		err := fmt.Errorf("%w: document produced no usable text", kberr.ErrInvalidInput)
		return nil, p.fail(ctx, doc, "document produced no usable text", err)
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Content
	}
	embeddings, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, p.fail(ctx, doc, fmt.Sprintf("embedding failed: %v", err), err)
	}

	chunks := make([]*schema.Chunk, len(candidates))
	for i, c := range candidates {
		chunks[i] = &schema.Chunk{
			ID:             uuid.New().String(),
			DocumentID:     doc.ID,
			ChunkIndex:     c.ChunkIndex,
			Content:        c.Content,
			Embedding:      embeddings[i],
			OrganizationID: orEmpty(doc.OrganizationID),
			EventID:        orEmpty(doc.EventID),
		}
	}

	if err := p.chunks.Insert(ctx, chunks); err != nil {
		return nil, p.fail(ctx, doc, fmt.Sprintf("chunk persistence failed: %v", err), err)
	}

	if err := p.documents.MarkReady(ctx, doc.ID, len(chunks)); err != nil {
		// The document was cancelled (or otherwise left ingesting) while we
		// were embedding; its chunks must not survive.
		p.cleanupChunks(ctx, doc.ID)
		return nil, err
	}

	doc.Status = models.StatusReady
	doc.ChunkCount = len(chunks)
	p.log.Info(fmt.Sprintf("Finished ingestion for %s: %d chunks", doc.ID, len(chunks)))
	p.publish(ctx, events.EventReady, doc, "", len(chunks))

	return &IngestResult{
		KnowledgeID:   doc.ID,
		ChunksCreated: len(chunks),
		Bytes:         doc.ByteSize,
		SourceType:    sourceType,
	}, nil
}

// Cancel aborts an in-flight ingestion. It is equivalent to a failure with
// reason "cancelled by user" and is rejected once the document left ingesting.
func (p *IngestionPipeline) Cancel(ctx context.Context, knowledgeID string) error {
	doc, err := p.documents.GetByID(ctx, knowledgeID)
	if err != nil {
		return err
	}
	if doc.Status != models.StatusIngesting {
		return fmt.Errorf("%w: document %s is %s", kberr.ErrNotIngesting, knowledgeID, doc.Status)
	}

	if err := p.documents.MarkFailed(ctx, knowledgeID, "cancelled by user"); err != nil {
		return err
	}
	doc.Status = models.StatusFailed
	p.cleanupChunks(ctx, knowledgeID)

	p.log.Info(fmt.Sprintf("Cancelled ingestion for %s", knowledgeID))
	p.publish(ctx, events.EventCancelled, doc, "cancelled by user", 0)
	return nil
}

// validate checks request shape before any external call and resolves the
// effective payload bytes and source type.
func (p *IngestionPipeline) validate(req IngestRequest) ([]byte, models.SourceType, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, "", fmt.Errorf("%w: title is required", kberr.ErrInvalidInput)
	}
	if strings.TrimSpace(req.UploaderID) == "" {
		return nil, "", fmt.Errorf("%w: uploader is required", kberr.ErrInvalidInput)
	}
	if req.Scope.EventID != nil && req.Scope.OrganizationID == nil {
		return nil, "", fmt.Errorf("%w: event scope requires an organization", kberr.ErrInvalidInput)
	}

	if req.SourceType == models.SourceText || (req.SourceType == "" && req.Data == nil) {
		text := req.Text
		if strings.TrimSpace(text) == "" {
			return nil, "", fmt.Errorf("%w: text content is empty", kberr.ErrInvalidInput)
		}
		if len([]rune(text)) > p.maxTextLength {
			return nil, "", fmt.Errorf("%w: text exceeds %d characters", kberr.ErrInvalidInput, p.maxTextLength)
		}
		return []byte(text), models.SourceText, nil
	}

	if len(req.Data) == 0 {
		return nil, "", fmt.Errorf("%w: file content is empty", kberr.ErrInvalidInput)
	}
	sourceType, err := extract.ResolveSourceType(req.SourceType, req.Filename, req.Data)
	if err != nil {
		return nil, "", err
	}
	return req.Data, sourceType, nil
}

// fail transitions the document to failed with a reason, removes any chunks
// that were already persisted and returns the original error. Cleanup runs on
// a detached context so a cancelled request still leaves the store consistent.
func (p *IngestionPipeline) fail(ctx context.Context, doc *models.KnowledgeDocument, reason string, cause error) error {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	p.cleanupChunks(cleanupCtx, doc.ID)

	if err := p.documents.MarkFailed(cleanupCtx, doc.ID, reason); err != nil {
		if errors.Is(err, kberr.ErrNotIngesting) {
			// A concurrent cancel already finished the transition.
			return cause
		}
		p.log.Error(fmt.Sprintf("Failed to mark document %s as failed: %v", doc.ID, err))
	}
	doc.Status = models.StatusFailed

	p.log.Warn(fmt.Sprintf("Ingestion failed for %s: %s", doc.ID, reason))
	p.publish(cleanupCtx, events.EventFailed, doc, reason, 0)
	return cause
}

func (p *IngestionPipeline) cleanupChunks(ctx context.Context, documentID string) {
	if err := p.chunks.DeleteByDocument(ctx, documentID); err != nil {
		p.log.Error(fmt.Sprintf("Failed to clean up chunks for %s: %v", documentID, err))
	}
}

func (p *IngestionPipeline) publish(ctx context.Context, eventType string, doc *models.KnowledgeDocument, reason string, chunkCount int) {
	_ = p.publisher.Publish(ctx, interfaces.DocumentEvent{
		Type:           eventType,
		KnowledgeID:    doc.ID,
		OrganizationID: doc.OrganizationID,
		Status:         string(doc.Status),
		Reason:         reason,
		ChunkCount:     chunkCount,
		Timestamp:      time.Now().UTC(),
	})
}

func orEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
