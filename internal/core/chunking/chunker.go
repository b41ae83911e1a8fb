// Package chunking turns extracted text into ordered, offset-tracked chunks.
package chunking

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/markdave123-py/Contexta/internal/core"
	"github.com/markdave123-py/Contexta/internal/models"
)

// Chunker splits one document's text into chunks with contiguous indices.
type Chunker interface {
	Chunk(ctx context.Context, docID, text string) ([]models.Chunk, error)
}

// Kind names a chunking strategy.
type Kind string

const (
	KindFixed       Kind = "fixed"
	KindStatistical Kind = "statistical"
	KindCumulative  Kind = "cumulative"
)

// ParseKind accepts the configuration spelling of a strategy.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindFixed, KindStatistical, KindCumulative:
		return k, nil
	case "":
		return KindFixed, nil
	}
	return "", core.NewConfigError("chunker", fmt.Sprintf("unknown chunker %q", s))
}

// Options selects and tunes a chunker.
//
// Size/Overlap: fixed splitter window, also used as the fallback.
// Tokenizer:    unit of every length; nil means characters.
type Options struct {
	Kind        Kind
	Size        int
	Overlap     int
	Tokenizer   Tokenizer
	Statistical StatisticalConfig
	Cumulative  CumulativeConfig
	Logger      *zap.Logger
}

// New builds the chunker described by opts. Semantic strategies need an
// embedder; without one they degrade to the fixed splitter.
func New(opts Options, embedder core.Embedder) (Chunker, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	tok := opts.Tokenizer
	if tok == nil {
		tok = Characters
	}

	kind := opts.Kind
	if kind == "" {
		kind = KindFixed
	}
	if kind != KindFixed && embedder == nil {
		log.Warn("no embedder for semantic chunker, using fixed splitter", zap.String("chunker", string(kind)))
		kind = KindFixed
	}

	switch kind {
	case KindFixed:
		return NewFixedChunker(opts.Size, opts.Overlap, tok)
	case KindStatistical:
		return NewStatisticalChunker(opts.Statistical, embedder, tok, log)
	case KindCumulative:
		return NewCumulativeChunker(opts.Cumulative, embedder, tok, log)
	}
	return nil, core.NewConfigError("chunker", fmt.Sprintf("unknown chunker %q", kind))
}
