package chunking

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/markdave123-py/Contexta/internal/core"
	"github.com/markdave123-py/Contexta/internal/core/segmenter"
	"github.com/markdave123-py/Contexta/internal/models"
)

// UpdateMode is how the cumulative buffer embedding follows appended sentences.
type UpdateMode string

const (
	// UpdateReembed embeds the concatenated buffer text after every append.
	UpdateReembed UpdateMode = "reembed"
	// UpdateMean keeps a running mean of sentence vectors, with no extra calls.
	UpdateMean UpdateMode = "mean"
)

// CumulativeConfig tunes the cumulative chunker.
type CumulativeConfig struct {
	SimilarityThreshold float64
	MaxChunkLength      int
	EncodeBatchSize     int
	Update              UpdateMode
}

func (c CumulativeConfig) Validate() error {
	switch {
	case c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1:
		return core.NewConfigError("cumulative.similarity_threshold", "must be within [0, 1]")
	case c.MaxChunkLength < 0:
		return core.NewConfigError("cumulative.max_chunk_length", "must not be negative")
	case c.EncodeBatchSize < 1:
		return core.NewConfigError("encode_batch_size", "must be at least 1")
	}
	switch c.Update {
	case "", UpdateReembed, UpdateMean:
		return nil
	}
	return core.NewConfigError("cumulative.update", fmt.Sprintf("unknown update mode %q", c.Update))
}

// CumulativeChunker grows a buffer of sentences while each new sentence
// stays similar enough to the buffer as a whole.
type CumulativeChunker struct {
	cfg      CumulativeConfig
	embedder core.Embedder
	tok      Tokenizer
	log      *zap.Logger
}

var _ Chunker = (*CumulativeChunker)(nil)

func NewCumulativeChunker(cfg CumulativeConfig, embedder core.Embedder, tok Tokenizer, log *zap.Logger) (*CumulativeChunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if embedder == nil {
		return nil, core.NewConfigError("embedder", "cumulative chunker requires an embedder")
	}
	if cfg.Update == "" {
		cfg.Update = UpdateReembed
	}
	if tok == nil {
		tok = Characters
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CumulativeChunker{cfg: cfg, embedder: embedder, tok: tok, log: log}, nil
}

func (c *CumulativeChunker) Chunk(ctx context.Context, docID, text string) ([]models.Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	sentences := segmenter.Segment(text)
	if len(sentences) == 1 {
		spans := capSpans(text, []span{{start: sentences[0].Start, end: sentences[0].End}}, c.cfg.MaxChunkLength, c.tok)
		return toChunks(docID, text, spans), nil
	}

	vecs, err := encodeSentences(ctx, c.embedder, sentences, c.cfg.EncodeBatchSize)
	if err != nil {
		return nil, err
	}

	var (
		spans  []span
		buf    = span{start: sentences[0].Start, end: sentences[0].End}
		bufVec = vecs[0]
		bufLen = c.tok.Count(sentences[0].Text)
		count  = 1
	)
	for j := 1; j < len(sentences); j++ {
		s := sentences[j]
		n := c.tok.Count(s.Text)
		sim := Cosine(bufVec, vecs[j])
		fits := c.cfg.MaxChunkLength == 0 || bufLen+n <= c.cfg.MaxChunkLength
		if sim < c.cfg.SimilarityThreshold || !fits {
			spans = append(spans, buf)
			buf = span{start: s.Start, end: s.End}
			bufVec, bufLen, count = vecs[j], n, 1
			continue
		}

		buf.end = s.End
		bufLen += n
		switch c.cfg.Update {
		case UpdateMean:
			bufVec = meanInto(bufVec, vecs[j], count)
		default:
			v, err := c.embedder.Embed(ctx, []string{embeddable(text[buf.start:buf.end])})
			if err != nil {
				return nil, &core.EmbeddingError{Batch: -1, Cause: fmt.Errorf("re-embed buffer: %w", err)}
			}
			if len(v) != 1 {
				return nil, &core.EmbeddingError{Batch: -1, Cause: fmt.Errorf("re-embed buffer: got %d vectors", len(v))}
			}
			bufVec = v[0]
		}
		count++
	}
	spans = append(spans, buf)
	spans = capSpans(text, spans, c.cfg.MaxChunkLength, c.tok)

	c.log.Debug("cumulative chunking",
		zap.String("document_id", docID),
		zap.Int("sentences", len(sentences)),
		zap.Int("chunks", len(spans)),
	)
	return toChunks(docID, text, spans), nil
}
