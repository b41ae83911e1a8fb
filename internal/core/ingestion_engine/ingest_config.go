package ingestion_engine

import (
	"fmt"
	"math"
	"time"

	"github.com/markdave123-py/Contexta/internal/core"
	"github.com/markdave123-py/Contexta/internal/core/chunking"
)

// SizeUnit is what chunk sizes and lengths are counted in.
type SizeUnit string

const (
	UnitChars  SizeUnit = "chars"
	UnitTokens SizeUnit = "tokens"
)

// LateFallback decides what happens to a document too large for late chunking.
type LateFallback string

const (
	FallbackPerChunk LateFallback = "per_chunk"
	FallbackFail     LateFallback = "fail"
)

const defaultRetryBackoff = 200 * time.Millisecond

// IngestConfig tunes one pipeline. It is read-only once a run starts.
//
// ChunkSize:       fixed splitter window, in SizeUnit.
// Overlap:         whole units when >= 1, a fraction of ChunkSize when in (0, 1).
// TokenEncoding:   tiktoken encoding used when SizeUnit is tokens.
// BatchSize:       chunks per embedding call.
// BufferSize:      embedding batches allowed in flight across all documents.
// LateChunking:    embed each document once at token level and pool per chunk.
// LateFallback:    per_chunk or fail when a document exceeds the context window.
// Chunker:         fixed, statistical or cumulative.
// EncodeBatchSize: sentences per embedding call inside semantic chunkers.
// MaxRetries:      extra attempts for a failed batch (exponential backoff from RetryBackoff).
// MaxConcurrentDocuments: 0 means no limit.
// SentenceCacheSize:      LRU entries of sentence vectors; 0 disables the cache.
type IngestConfig struct {
	ChunkSize       int
	Overlap         float64
	SizeUnit        SizeUnit
	TokenEncoding   string
	BatchSize       int
	BufferSize      int
	LateChunking    bool
	LateFallback    LateFallback
	Chunker         chunking.Kind
	EncodeBatchSize int
	Statistical     chunking.StatisticalConfig
	Cumulative      chunking.CumulativeConfig

	MaxRetries             int
	RetryBackoff           time.Duration
	MaxConcurrentDocuments int
	SentenceCacheSize      int
}

// DefaultIngestConfig returns the values used when nothing is configured.
func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		ChunkSize:       1000,
		Overlap:         100,
		SizeUnit:        UnitChars,
		TokenEncoding:   "cl100k_base",
		BatchSize:       32,
		BufferSize:      4,
		LateFallback:    FallbackPerChunk,
		Chunker:         chunking.KindFixed,
		EncodeBatchSize: 64,
		Statistical: chunking.StatisticalConfig{
			Window:              5,
			DeviationMultiplier: 1.0,
			MaxChunkLength:      2000,
			MinChunkLength:      100,
		},
		Cumulative: chunking.CumulativeConfig{
			SimilarityThreshold: 0.75,
			MaxChunkLength:      2000,
			Update:              chunking.UpdateReembed,
		},
		MaxRetries:   2,
		RetryBackoff: defaultRetryBackoff,
	}
}

// OverlapUnits resolves Overlap to a unit count.
func (c IngestConfig) OverlapUnits() int {
	if c.Overlap > 0 && c.Overlap < 1 {
		return int(c.Overlap * float64(c.ChunkSize))
	}
	return int(c.Overlap)
}

// Validate reports the first invalid setting as a *core.ConfigError.
func (c IngestConfig) Validate() error {
	if c.ChunkSize <= 0 {
		return core.NewConfigError("chunk_size", "must be positive")
	}
	if c.Overlap < 0 {
		return core.NewConfigError("overlap", "must not be negative")
	}
	if c.Overlap >= 1 && c.Overlap != math.Trunc(c.Overlap) {
		return core.NewConfigError("overlap", "absolute overlap must be a whole number")
	}
	if c.OverlapUnits() >= c.ChunkSize {
		return core.NewConfigError("overlap", "overlap must be smaller than chunk size")
	}
	switch c.SizeUnit {
	case "", UnitChars, UnitTokens:
	default:
		return core.NewConfigError("size_unit", fmt.Sprintf("unknown unit %q", c.SizeUnit))
	}
	if c.BatchSize < 1 {
		return core.NewConfigError("batch_size", "must be at least 1")
	}
	if c.BufferSize < 1 {
		return core.NewConfigError("buffer_size", "must be at least 1")
	}
	switch c.LateFallback {
	case "", FallbackPerChunk, FallbackFail:
	default:
		return core.NewConfigError("late_chunking_fallback", fmt.Sprintf("unknown fallback %q", c.LateFallback))
	}
	kind, err := chunking.ParseKind(string(c.Chunker))
	if err != nil {
		return err
	}
	switch kind {
	case chunking.KindStatistical:
		if err := c.statistical().Validate(); err != nil {
			return err
		}
	case chunking.KindCumulative:
		if err := c.cumulative().Validate(); err != nil {
			return err
		}
	}
	if c.MaxRetries < 0 {
		return core.NewConfigError("max_retries", "must not be negative")
	}
	if c.RetryBackoff < 0 {
		return core.NewConfigError("retry_backoff", "must not be negative")
	}
	if c.MaxConcurrentDocuments < 0 {
		return core.NewConfigError("max_concurrent_documents", "must not be negative")
	}
	if c.SentenceCacheSize < 0 {
		return core.NewConfigError("sentence_cache_size", "must not be negative")
	}
	return nil
}

func (c IngestConfig) statistical() chunking.StatisticalConfig {
	s := c.Statistical
	s.EncodeBatchSize = c.EncodeBatchSize
	return s
}

func (c IngestConfig) cumulative() chunking.CumulativeConfig {
	s := c.Cumulative
	s.EncodeBatchSize = c.EncodeBatchSize
	return s
}

func (c IngestConfig) lateFallback() LateFallback {
	if c.LateFallback == "" {
		return FallbackPerChunk
	}
	return c.LateFallback
}
