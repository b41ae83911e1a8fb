package chunking

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/markdave123-py/Contexta/internal/core"
	"github.com/markdave123-py/Contexta/internal/core/segmenter"
	"github.com/markdave123-py/Contexta/internal/models"
)

// StatisticalConfig tunes breakpoint detection.
//
// Window:              number of preceding similarities in the rolling stats.
// DeviationMultiplier: a similarity below mean - k*std is a breakpoint.
// MaxChunkLength:      hard cap per chunk; 0 disables it.
// MinChunkLength:      a shorter trailing chunk is merged backwards.
// EncodeBatchSize:     sentences per embedding call.
type StatisticalConfig struct {
	Window              int
	DeviationMultiplier float64
	MaxChunkLength      int
	MinChunkLength      int
	EncodeBatchSize     int
	Verbose             bool
}

func (c StatisticalConfig) Validate() error {
	switch {
	case c.Window < 1:
		return core.NewConfigError("statistical.window", "must be at least 1")
	case c.DeviationMultiplier <= 0:
		return core.NewConfigError("statistical.deviation_multiplier", "must be positive")
	case c.MaxChunkLength < 0:
		return core.NewConfigError("statistical.max_chunk_length", "must not be negative")
	case c.MinChunkLength < 0:
		return core.NewConfigError("statistical.min_chunk_length", "must not be negative")
	case c.MaxChunkLength > 0 && c.MinChunkLength > c.MaxChunkLength:
		return core.NewConfigError("statistical.min_chunk_length", "must not exceed max_chunk_length")
	case c.EncodeBatchSize < 1:
		return core.NewConfigError("encode_batch_size", "must be at least 1")
	}
	return nil
}

// StatisticalChunker places chunk boundaries where adjacent sentences are
// unusually dissimilar compared to the recent similarity series.
type StatisticalChunker struct {
	cfg      StatisticalConfig
	embedder core.Embedder
	tok      Tokenizer
	log      *zap.Logger
}

var _ Chunker = (*StatisticalChunker)(nil)

func NewStatisticalChunker(cfg StatisticalConfig, embedder core.Embedder, tok Tokenizer, log *zap.Logger) (*StatisticalChunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if embedder == nil {
		return nil, core.NewConfigError("embedder", "statistical chunker requires an embedder")
	}
	if tok == nil {
		tok = Characters
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &StatisticalChunker{cfg: cfg, embedder: embedder, tok: tok, log: log}, nil
}

// Analysis is the full trace of one statistical chunking pass.
//
// Similarities[i]: cosine of sentence i and i+1.
// Breakpoints:     indices i where a boundary falls after sentence i.
type Analysis struct {
	Sentences    []models.Sentence
	Similarities []float64
	Breakpoints  []int
	Chunks       []models.Chunk
}

func (c *StatisticalChunker) Chunk(ctx context.Context, docID, text string) ([]models.Chunk, error) {
	a, err := c.Analyze(ctx, docID, text)
	if err != nil {
		return nil, err
	}
	return a.Chunks, nil
}

// Analyze chunks text and returns the similarity series and breakpoints
// alongside the chunks.
func (c *StatisticalChunker) Analyze(ctx context.Context, docID, text string) (*Analysis, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	sentences := segmenter.Segment(text)
	a := &Analysis{Sentences: sentences}

	if len(sentences) > 1 {
		vecs, err := encodeSentences(ctx, c.embedder, sentences, c.cfg.EncodeBatchSize)
		if err != nil {
			return nil, err
		}
		a.Similarities = make([]float64, len(sentences)-1)
		for i := range a.Similarities {
			a.Similarities[i] = Cosine(vecs[i], vecs[i+1])
		}
		a.Breakpoints = breakpoints(a.Similarities, newWindow(c.cfg.Window), c.cfg.DeviationMultiplier)
	}

	spans := c.merge(sentences, a.Breakpoints)
	spans = capSpans(text, spans, c.cfg.MaxChunkLength, c.tok)
	spans = mergeShortTail(text, spans, c.cfg.MinChunkLength, c.cfg.MaxChunkLength, c.tok)
	a.Chunks = toChunks(docID, text, spans)

	if c.cfg.Verbose {
		c.log.Debug("statistical chunking",
			zap.String("document_id", docID),
			zap.Int("sentences", len(sentences)),
			zap.Float64s("similarities", a.Similarities),
			zap.Ints("breakpoints", a.Breakpoints),
			zap.Int("chunks", len(a.Chunks)),
		)
	}
	return a, nil
}

// breakpoints flags sim[i] when it falls below mean - k*std of the values
// held in win. The first similarity has no history and never breaks.
func breakpoints(sims []float64, win *window, k float64) []int {
	var out []int
	for i, s := range sims {
		if win.len() > 0 {
			mean, std := win.stats()
			if s < mean-k*std {
				out = append(out, i)
			}
		}
		win.push(s)
	}
	return out
}

// merge joins consecutive sentences, cutting at breakpoints and before the
// running length would pass MaxChunkLength.
func (c *StatisticalChunker) merge(sentences []models.Sentence, breaks []int) []span {
	if len(sentences) == 0 {
		return nil
	}
	cut := make(map[int]bool, len(breaks))
	for _, b := range breaks {
		cut[b] = true
	}

	var out []span
	cur := span{start: sentences[0].Start, end: sentences[0].End}
	curLen := c.tok.Count(sentences[0].Text)
	for j := 1; j < len(sentences); j++ {
		s := sentences[j]
		n := c.tok.Count(s.Text)
		if cut[j-1] || (c.cfg.MaxChunkLength > 0 && curLen+n > c.cfg.MaxChunkLength) {
			out = append(out, cur)
			cur = span{start: s.Start, end: s.End}
			curLen = n
			continue
		}
		cur.end = s.End
		curLen += n
	}
	return append(out, cur)
}
