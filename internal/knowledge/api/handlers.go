package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/eventops/knowledge-service/internal/knowledge/kberr"
	"github.com/eventops/knowledge-service/internal/knowledge/service"
	"github.com/eventops/knowledge-service/internal/models"
	"github.com/eventops/knowledge-service/pkg/logger"
	"github.com/gin-gonic/gin"
)

// maxUploadBytes bounds the accepted request body for file ingestion.
const maxUploadBytes = 32 << 20 // 32 MiB

// Handler wraps the HTTP endpoint handlers of the knowledge service.
type Handler struct {
	service *service.KnowledgeService
	log     *logger.Logger
}

// NewHandler creates a new Handler instance.
func NewHandler(s *service.KnowledgeService, log *logger.Logger) *Handler {
	return &Handler{service: s, log: log}
}

// IngestTextRequest is the JSON body for raw text ingestion.
type IngestTextRequest struct {
	Title          string   `json:"title" binding:"required"`
	Text           string   `json:"text" binding:"required"`
	Tags           []string `json:"tags"`
	OrganizationID *string  `json:"organizationId"`
	EventID        *string  `json:"eventId"`
}

// IngestDocument handles both multipart file uploads and JSON text ingestion
// on the same endpoint, distinguished by Content-Type.
func (h *Handler) IngestDocument(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing caller"})
		return
	}

	var input service.IngestInput
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		parsed, err := h.parseUpload(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		input = *parsed
	} else {
		var req IngestTextRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		input = service.IngestInput{
			Title:          req.Title,
			Text:           req.Text,
			Tags:           req.Tags,
			SourceType:     models.SourceText,
			OrganizationID: req.OrganizationID,
			EventID:        req.EventID,
		}
	}

	result, err := h.service.IngestDocument(c.Request.Context(), caller, input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// parseUpload reads the multipart form of a file ingestion request.
func (h *Handler) parseUpload(c *gin.Context) (*service.IngestInput, error) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("missing file field: %w", err)
	}
	if fileHeader.Size > maxUploadBytes {
		return nil, fmt.Errorf("file exceeds the %d byte upload limit", maxUploadBytes)
	}

	file, err := fileHeader.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(data) > maxUploadBytes {
		return nil, fmt.Errorf("file exceeds the %d byte upload limit", maxUploadBytes)
	}

	input := &service.IngestInput{
		Title:      c.PostForm("title"),
		Filename:   fileHeader.Filename,
		Data:       data,
		SourceType: models.SourceType(c.PostForm("type")),
	}
	if input.Title == "" {
		input.Title = fileHeader.Filename
	}
	if tags := c.PostForm("tags"); tags != "" {
		for _, tag := range strings.Split(tags, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				input.Tags = append(input.Tags, tag)
			}
		}
	}
	if org := c.PostForm("organizationId"); org != "" {
		input.OrganizationID = &org
	}
	if event := c.PostForm("eventId"); event != "" {
		input.EventID = &event
	}
	return input, nil
}

// CancelIngestion aborts an in-flight ingestion.
func (h *Handler) CancelIngestion(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing caller"})
		return
	}

	if err := h.service.CancelIngestion(c.Request.Context(), caller, c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(models.StatusFailed), "reason": "cancelled by user"})
}

// SearchRequest is the JSON body of a search call. UseHybrid defaults to true
// when omitted; vector-only ranking is the opt-out.
type SearchRequest struct {
	Query          string  `json:"query" binding:"required"`
	TopK           int     `json:"topK"`
	UseHybrid      *bool   `json:"useHybrid"`
	IncludeContent bool    `json:"includeContent"`
	OrganizationID *string `json:"organizationId"`
	EventID        *string `json:"eventId"`
}

// SearchKnowledge runs one hybrid search.
func (h *Handler) SearchKnowledge(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing caller"})
		return
	}

	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	useHybrid := true
	if req.UseHybrid != nil {
		useHybrid = *req.UseHybrid
	}

	response, err := h.service.SearchKnowledge(c.Request.Context(), caller, service.SearchInput{
		Query:          req.Query,
		TopK:           req.TopK,
		UseHybrid:      useHybrid,
		IncludeContent: req.IncludeContent,
		OrganizationID: req.OrganizationID,
		EventID:        req.EventID,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response)
}

// GetDocument returns one document's metadata.
func (h *Handler) GetDocument(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing caller"})
		return
	}

	doc, err := h.service.GetDocument(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// ListDocuments returns the documents visible in the caller's scope.
func (h *Handler) ListDocuments(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing caller"})
		return
	}

	var orgID, eventID *string
	if org := c.Query("organizationId"); org != "" {
		orgID = &org
	}
	if event := c.Query("eventId"); event != "" {
		eventID = &event
	}

	docs, err := h.service.ListDocuments(c.Request.Context(), caller, orgID, eventID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs, "count": len(docs)})
}

// DeleteDocument removes a document together with its chunks and archive.
func (h *Handler) DeleteDocument(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing caller"})
		return
	}

	if err := h.service.DeleteDocument(c.Request.Context(), caller, c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UpdateMetadataRequest is the JSON body for a metadata update. A nil Tags
// field leaves tags untouched; an empty array clears them.
type UpdateMetadataRequest struct {
	Title *string  `json:"title"`
	Tags  []string `json:"tags"`
}

// UpdateDocumentMetadata changes a document's title and tags.
func (h *Handler) UpdateDocumentMetadata(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing caller"})
		return
	}

	var req UpdateMetadataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	doc, err := h.service.UpdateDocumentMetadata(c.Request.Context(), caller, c.Param("id"), req.Title, req.Tags)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// respondError maps knowledge subsystem errors to HTTP status codes.
func (h *Handler) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, kberr.ErrUnsupportedType):
		status = http.StatusUnsupportedMediaType
	case errors.Is(err, kberr.ErrCorruptDocument):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, kberr.ErrInvalidInput), errors.Is(err, kberr.ErrInvalidQuery):
		status = http.StatusBadRequest
	case errors.Is(err, kberr.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, kberr.ErrProviderUnavailable), errors.Is(err, kberr.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, kberr.ErrAccessDenied):
		status = http.StatusForbidden
	case errors.Is(err, kberr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, kberr.ErrNotIngesting), errors.Is(err, kberr.ErrAlreadyIngesting):
		status = http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	if status == http.StatusInternalServerError {
		h.log.Error("Unhandled error on " + c.FullPath() + ": " + err.Error())
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": strconv.Itoa(status)})
}
