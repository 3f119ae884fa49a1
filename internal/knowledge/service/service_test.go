package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/eventops/knowledge-service/internal/config"
	"github.com/eventops/knowledge-service/internal/knowledge/events"
	"github.com/eventops/knowledge-service/internal/knowledge/interfaces"
	"github.com/eventops/knowledge-service/internal/knowledge/kberr"
	"github.com/eventops/knowledge-service/internal/knowledge/schema"
	"github.com/eventops/knowledge-service/internal/knowledge/store"
	"github.com/eventops/knowledge-service/internal/models"
	"github.com/eventops/knowledge-service/pkg/logger"
)

// mapDocumentStore is a minimal DocumentStore for authorization tests.
type mapDocumentStore struct {
	docs map[string]*models.KnowledgeDocument
}

func (s *mapDocumentStore) Create(ctx context.Context, doc *models.KnowledgeDocument) error {
	s.docs[doc.ID] = doc
	return nil
}

func (s *mapDocumentStore) GetByID(ctx context.Context, id string) (*models.KnowledgeDocument, error) {
	doc, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", kberr.ErrNotFound, id)
	}
	return doc, nil
}

func (s *mapDocumentStore) GetByIDs(ctx context.Context, ids []string) (map[string]*models.KnowledgeDocument, error) {
	return nil, nil
}

func (s *mapDocumentStore) List(ctx context.Context, filter schema.ScopeFilter) ([]*models.KnowledgeDocument, error) {
	var result []*models.KnowledgeDocument
	for _, doc := range s.docs {
		if filter.OrganizationID != nil && doc.OrganizationID != nil && *doc.OrganizationID != *filter.OrganizationID {
			continue
		}
		result = append(result, doc)
	}
	return result, nil
}

func (s *mapDocumentStore) MarkReady(ctx context.Context, id string, chunkCount int) error { return nil }

func (s *mapDocumentStore) MarkFailed(ctx context.Context, id string, reason string) error { return nil }

func (s *mapDocumentStore) FindIngesting(ctx context.Context, title string, orgID *string, byteSize int64) (*models.KnowledgeDocument, error) {
	return nil, nil
}

func (s *mapDocumentStore) UpdateMetadata(ctx context.Context, id string, title *string, tags []string) error {
	doc, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("%w: %s", kberr.ErrNotFound, id)
	}
	if title != nil {
		doc.Title = *title
	}
	return nil
}

func (s *mapDocumentStore) Delete(ctx context.Context, id string) error {
	delete(s.docs, id)
	return nil
}

var _ interfaces.DocumentStore = (*mapDocumentStore)(nil)

func newAuthTestService(docs *mapDocumentStore) *KnowledgeService {
	cfg := config.KnowledgeConfig{IngestTimeoutSec: 600, SearchTimeoutSec: 15}
	return NewKnowledgeService(nil, nil, docs, store.NewInMemoryChunkStore(), nil,
		events.NopPublisher{}, cfg, logger.New("test", "", ""))
}

func seedDocs() *mapDocumentStore {
	orgA, orgB := "org-a", "org-b"
	return &mapDocumentStore{docs: map[string]*models.KnowledgeDocument{
		"doc-a": {ID: "doc-a", Title: "A", OrganizationID: &orgA, Status: models.StatusReady, UploaderID: "u"},
		"doc-b": {ID: "doc-b", Title: "B", OrganizationID: &orgB, Status: models.StatusReady, UploaderID: "u"},
		"doc-g": {ID: "doc-g", Title: "Global", Status: models.StatusReady, UploaderID: "u"},
	}}
}

func orgCaller(org string) Caller {
	return Caller{UserID: "user-1", OrganizationID: &org, Role: "member"}
}

func adminCaller() Caller {
	return Caller{UserID: "admin-1", Role: "superadmin"}
}

func TestGetDocumentVisibility(t *testing.T) {
	svc := newAuthTestService(seedDocs())
	ctx := context.Background()

	// Own organization and global documents are visible.
	if _, err := svc.GetDocument(ctx, orgCaller("org-a"), "doc-a"); err != nil {
		t.Errorf("own document: %v", err)
	}
	if _, err := svc.GetDocument(ctx, orgCaller("org-a"), "doc-g"); err != nil {
		t.Errorf("global document: %v", err)
	}

	// Another tenant's document reads as not found, never as forbidden.
	_, err := svc.GetDocument(ctx, orgCaller("org-a"), "doc-b")
	if !errors.Is(err, kberr.ErrNotFound) {
		t.Errorf("cross-tenant read error = %v, want ErrNotFound", err)
	}

	// The unscoped operator sees everything.
	if _, err := svc.GetDocument(ctx, adminCaller(), "doc-b"); err != nil {
		t.Errorf("unscoped read: %v", err)
	}
}

func TestMutationsRequireOwnership(t *testing.T) {
	svc := newAuthTestService(seedDocs())
	ctx := context.Background()
	title := "renamed"

	// Global documents are read-only for organization members.
	_, err := svc.UpdateDocumentMetadata(ctx, orgCaller("org-a"), "doc-g", &title, nil)
	if !errors.Is(err, kberr.ErrAccessDenied) {
		t.Errorf("global mutation error = %v, want ErrAccessDenied", err)
	}

	// Cross-tenant mutation reads as not found.
	_, err = svc.UpdateDocumentMetadata(ctx, orgCaller("org-a"), "doc-b", &title, nil)
	if !errors.Is(err, kberr.ErrNotFound) {
		t.Errorf("cross-tenant mutation error = %v, want ErrNotFound", err)
	}

	// Own document mutates fine.
	doc, err := svc.UpdateDocumentMetadata(ctx, orgCaller("org-a"), "doc-a", &title, nil)
	if err != nil {
		t.Fatalf("own mutation: %v", err)
	}
	if doc.Title != "renamed" {
		t.Errorf("title = %q, want %q", doc.Title, "renamed")
	}

	// The unscoped operator may mutate global documents.
	if _, err := svc.UpdateDocumentMetadata(ctx, adminCaller(), "doc-g", &title, nil); err != nil {
		t.Errorf("unscoped global mutation: %v", err)
	}
}

func TestListDocumentsScopeResolution(t *testing.T) {
	svc := newAuthTestService(seedDocs())
	ctx := context.Background()

	// Requesting a foreign organization is denied, not narrowed.
	other := "org-b"
	_, err := svc.ListDocuments(ctx, orgCaller("org-a"), &other, nil)
	if !errors.Is(err, kberr.ErrAccessDenied) {
		t.Errorf("foreign organization list error = %v, want ErrAccessDenied", err)
	}

	// Without an explicit organization the caller is pinned to its own.
	docs, err := svc.ListDocuments(ctx, orgCaller("org-a"), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, doc := range docs {
		if doc.OrganizationID != nil && *doc.OrganizationID != "org-a" {
			t.Errorf("listing leaked document %s of organization %v", doc.ID, *doc.OrganizationID)
		}
	}

	// The unscoped operator may list any organization.
	if _, err := svc.ListDocuments(ctx, adminCaller(), &other, nil); err != nil {
		t.Errorf("unscoped list: %v", err)
	}
}

func TestDeleteRequiresTerminalState(t *testing.T) {
	docs := seedDocs()
	orgA := "org-a"
	docs.docs["doc-ing"] = &models.KnowledgeDocument{
		ID: "doc-ing", Title: "in flight", OrganizationID: &orgA,
		Status: models.StatusIngesting, UploaderID: "u",
	}
	svc := newAuthTestService(docs)

	err := svc.DeleteDocument(context.Background(), orgCaller("org-a"), "doc-ing")
	if !errors.Is(err, kberr.ErrNotIngesting) {
		t.Errorf("deleting an ingesting document error = %v, want ErrNotIngesting", err)
	}

	if err := svc.DeleteDocument(context.Background(), orgCaller("org-a"), "doc-a"); err != nil {
		t.Fatalf("deleting own ready document: %v", err)
	}
	if _, ok := docs.docs["doc-a"]; ok {
		t.Error("document row still present after deletion")
	}
}
