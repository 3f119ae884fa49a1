package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/eventops/knowledge-service/internal/knowledge/kberr"
	openai "github.com/meguminnnnnnnnn/go-openai"
)

// OpenAIModel is an embedding client for the OpenAI API.
type OpenAIModel struct {
	client *openai.Client
	model  string
}

// NewOpenAIModel creates a new OpenAIModel client. baseURL is optional and
// overrides the default API endpoint for compatible providers.
func NewOpenAIModel(modelName, apiKey, baseURL string) (*OpenAIModel, error) {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	client := openai.NewClientWithConfig(config)
	return &OpenAIModel{client: client, model: modelName}, nil
}

// Embed generates an embedding vector for a single text.
func (m *OpenAIModel) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch generates embedding vectors for a batch of texts. The response
// preserves input order; a short response is treated as a provider failure so
// callers never see a partially embedded batch.
func (m *OpenAIModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(m.model),
	}

	resp, err := m.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, mapProviderError(err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", kberr.ErrProviderUnavailable, len(resp.Data), len(texts))
	}

	embeddings := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		embeddings[i] = d.Embedding
	}

	return embeddings, nil
}

// mapProviderError translates OpenAI API errors into the knowledge error
// taxonomy so the batch client can decide what is retryable.
func mapProviderError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", kberr.ErrRateLimited, err)
		case apiErr.HTTPStatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("%w: %v", kberr.ErrProviderUnavailable, err)
		case apiErr.HTTPStatusCode >= http.StatusBadRequest:
			return fmt.Errorf("%w: %v", kberr.ErrInvalidInput, err)
		}
	}
	// Network-level failures are treated as transient.
	return fmt.Errorf("%w: %v", kberr.ErrProviderUnavailable, err)
}
