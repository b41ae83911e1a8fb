package core

import "context"

// Embedder turns an ordered batch of texts into vectors of the same length
// and order. Every backend (remote API, local inference server) sits behind it.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// TokenEmbedding is one token-level vector and the byte offset of its token
// in the embedded text.
type TokenEmbedding struct {
	Offset int
	Vector []float32
}

// TokenEmbedder is the extended capability used by late chunking: a single
// whole-document forward pass that returns per-token vectors.
type TokenEmbedder interface {
	Embedder
	EmbedTokens(ctx context.Context, text string) ([]TokenEmbedding, error)
	// MaxContextTokens is the largest document the backend embeds in one pass.
	// Zero means unknown; the backend then reports ErrContextLimitExceeded itself.
	MaxContextTokens() int
}
