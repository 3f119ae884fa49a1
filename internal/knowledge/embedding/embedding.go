package embedding

import (
	"fmt"

	"github.com/eventops/knowledge-service/internal/config"
	"github.com/eventops/knowledge-service/internal/knowledge/interfaces"
)

// NewModel creates an embedding provider from configuration.
func NewModel(cfg *config.EmbeddingConfig) (interfaces.EmbeddingModel, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIModel(cfg.Model, cfg.APIKey, cfg.BaseURL)
	case "ollama":
		return NewOllamaModel(cfg.Model, cfg.BaseURL)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}
