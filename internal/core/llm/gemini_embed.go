package llm

import (
	"context"
	"fmt"
	"os"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/markdave123-py/Contexta/internal/core"
)

// geminiMaxBatch is the request limit of BatchEmbedContents.
const geminiMaxBatch = 100

type GeminiEmbedder struct {
	client    *genai.Client
	modelName string
}

var _ core.Embedder = (*GeminiEmbedder)(nil)

func NewGeminiEmbedder(ctx context.Context, apiKey, modelName string) (*GeminiEmbedder, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	if modelName == "" {
		modelName = "gemini-embedding-001"
	}
	return &GeminiEmbedder{client: cl, modelName: modelName}, nil
}

func (g *GeminiEmbedder) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// Embed sends texts through BatchEmbedContents, splitting requests larger
// than the API limit. Output order matches input order.
func (g *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	em := g.client.EmbeddingModel(g.modelName)

	out := make([][]float32, 0, len(texts))
	err := inGroups(len(texts), geminiMaxBatch, func(lo, hi int) error {
		batch := em.NewBatch()
		for _, t := range texts[lo:hi] {
			batch.AddContent(genai.Text(t))
		}

		resp, err := em.BatchEmbedContents(ctx, batch)
		if err != nil {
			return fmt.Errorf("gemini batch embed: %w", err)
		}
		if len(resp.Embeddings) != hi-lo {
			return fmt.Errorf("gemini batch embed: got %d embeddings for %d texts", len(resp.Embeddings), hi-lo)
		}
		for _, e := range resp.Embeddings {
			out = append(out, e.Values)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
