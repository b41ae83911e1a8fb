package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/markdave123-py/Contexta/internal/core"
)

const (
	// DefaultOpenAIModel is used when no embedding model is configured.
	DefaultOpenAIModel = openai.SmallEmbedding3

	openAIMaxBatch = 2048
)

// OpenAIConfig holds configuration for the OpenAI embedder.
//
// BaseURL:    optional, for OpenAI-compatible gateways.
// Dimensions: optional output size for text-embedding-3 models.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
}

// OpenAIEmbedder embeds texts with the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

var _ core.Embedder = (*OpenAIEmbedder)(nil)

func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := openai.EmbeddingModel(cfg.Model)
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      model,
		dimensions: cfg.Dimensions,
	}, nil
}

// Embed returns one vector per text, in input order.
func (o *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	err := inGroups(len(texts), openAIMaxBatch, func(lo, hi int) error {
		resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input:      texts[lo:hi],
			Model:      o.model,
			Dimensions: o.dimensions,
		})
		if err != nil {
			return fmt.Errorf("openai embeddings: %w", err)
		}
		if len(resp.Data) != hi-lo {
			return fmt.Errorf("openai embeddings: got %d embeddings for %d texts", len(resp.Data), hi-lo)
		}
		for _, d := range resp.Data {
			if d.Index < 0 || d.Index >= hi-lo {
				return fmt.Errorf("openai embeddings: index %d out of range", d.Index)
			}
			out[lo+d.Index] = d.Embedding
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
