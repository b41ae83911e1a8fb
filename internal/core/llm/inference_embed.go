package llm

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/markdave123-py/Contexta/internal/core"
)

// InferenceConfig points at a self-hosted, OpenAI-compatible embedding
// server that also exposes token-level embeddings.
//
// MaxContextTokens: largest document EmbedTokens accepts; 0 if unknown.
// MaxBatch:         texts per /embeddings request.
type InferenceConfig struct {
	Endpoint         string
	Token            string
	Model            string
	Timeout          time.Duration
	MaxContextTokens int
	MaxBatch         int
}

// InferenceEmbedder talks to the inference server over HTTP.
type InferenceEmbedder struct {
	client     *resty.Client
	model      string
	maxContext int
	maxBatch   int
}

var _ core.TokenEmbedder = (*InferenceEmbedder)(nil)

func NewInferenceEmbedder(cfg InferenceConfig) (*InferenceEmbedder, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("inference: missing endpoint")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("inference: model is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 64
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.Endpoint, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}

	return &InferenceEmbedder{
		client:     client,
		model:      cfg.Model,
		maxContext: cfg.MaxContextTokens,
		maxBatch:   cfg.MaxBatch,
	}, nil
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

type tokensRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type tokensResponse struct {
	Tokens []struct {
		Offset    int       `json:"offset"`
		Embedding []float32 `json:"embedding"`
	} `json:"tokens"`
}

// apiError is the error body of the inference server.
type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Embed uses the /embeddings endpoint.
func (p *InferenceEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	err := inGroups(len(texts), p.maxBatch, func(lo, hi int) error {
		var parsed embeddingsResponse
		if err := p.post(ctx, "/embeddings", embeddingsRequest{Model: p.model, Input: texts[lo:hi]}, &parsed); err != nil {
			return err
		}
		if len(parsed.Data) != hi-lo {
			return fmt.Errorf("inference: got %d embeddings for %d texts", len(parsed.Data), hi-lo)
		}
		sort.Slice(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })
		for _, d := range parsed.Data {
			out = append(out, d.Embedding)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// EmbedTokens uses the /embed_tokens endpoint. Offsets are byte offsets
// into text.
func (p *InferenceEmbedder) EmbedTokens(ctx context.Context, text string) ([]core.TokenEmbedding, error) {
	var parsed tokensResponse
	if err := p.post(ctx, "/embed_tokens", tokensRequest{Model: p.model, Input: text}, &parsed); err != nil {
		return nil, err
	}
	out := make([]core.TokenEmbedding, len(parsed.Tokens))
	for i, t := range parsed.Tokens {
		out[i] = core.TokenEmbedding{Offset: t.Offset, Vector: t.Embedding}
	}
	return out, nil
}

func (p *InferenceEmbedder) MaxContextTokens() int { return p.maxContext }

func (p *InferenceEmbedder) post(ctx context.Context, path string, body, result any) error {
	var apiErr apiError
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(result).
		SetError(&apiErr).
		Post(path)
	if err != nil {
		return fmt.Errorf("inference %s: %w", path, err)
	}
	if !resp.IsError() {
		return nil
	}

	if resp.StatusCode() == http.StatusRequestEntityTooLarge || apiErr.Error.Code == "context_length_exceeded" {
		return fmt.Errorf("inference %s: %w", path, core.ErrContextLimitExceeded)
	}
	if apiErr.Error.Message != "" {
		return fmt.Errorf("inference %s: http %d: %s", path, resp.StatusCode(), apiErr.Error.Message)
	}
	return fmt.Errorf("inference %s: http %d", path, resp.StatusCode())
}
