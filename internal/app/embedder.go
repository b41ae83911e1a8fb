package app

import (
	"context"
	"fmt"

	"github.com/markdave123-py/Contexta/internal/config"
	"github.com/markdave123-py/Contexta/internal/core"
	"github.com/markdave123-py/Contexta/internal/core/llm"
)

// NewEmbedder builds the backend selected by EMBED_BACKEND.
func NewEmbedder(ctx context.Context, cfg *config.Config) (core.Embedder, error) {
	switch cfg.EmbedBackend {
	case config.BackendGemini, "":
		model := cfg.EmbedModel
		if model == "" {
			model = "text-embedding-004"
		}
		return llm.NewGeminiEmbedder(ctx, cfg.AIAPIKey, model)
	case config.BackendOpenAI:
		return llm.NewOpenAIEmbedder(llm.OpenAIConfig{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			Model:      cfg.EmbedModel,
			Dimensions: cfg.EmbedDim,
		})
	case config.BackendInference:
		return llm.NewInferenceEmbedder(llm.InferenceConfig{
			Endpoint:         cfg.InferenceURL,
			Token:            cfg.InferenceToken,
			Model:            cfg.EmbedModel,
			Timeout:          cfg.InferenceTimeout,
			MaxContextTokens: cfg.InferenceMaxContext,
		})
	default:
		return nil, core.NewConfigError("embed_backend", fmt.Sprintf("unknown backend %q", cfg.EmbedBackend))
	}
}
