package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Contexta/internal/core/chunking"
	"github.com/markdave123-py/Contexta/internal/core/ingestion_engine"
)

func TestLoadConfig(t *testing.T) {
	t.Run("Should default pipeline tunables to the ingest defaults", func(t *testing.T) {
		cfg := LoadConfig()
		want := ingestion_engine.DefaultIngestConfig()
		got := cfg.IngestConfig()

		assert.Equal(t, want.ChunkSize, got.ChunkSize)
		assert.Equal(t, want.Overlap, got.Overlap)
		assert.Equal(t, want.BatchSize, got.BatchSize)
		assert.Equal(t, want.BufferSize, got.BufferSize)
		assert.Equal(t, want.Chunker, got.Chunker)
		assert.Equal(t, want.Statistical, got.Statistical)
		assert.Equal(t, want.RetryBackoff, got.RetryBackoff)
		require.NoError(t, got.Validate())
	})

	t.Run("Should read pipeline tunables from the environment", func(t *testing.T) {
		t.Setenv("CHUNK_SIZE", "400")
		t.Setenv("CHUNK_OVERLAP", "0.25")
		t.Setenv("CHUNK_UNIT", "tokens")
		t.Setenv("CHUNKER", "cumulative")
		t.Setenv("BATCH_SIZE", "8")
		t.Setenv("BUFFER_SIZE", "2")
		t.Setenv("LATE_CHUNKING", "true")
		t.Setenv("LATE_CHUNKING_FALLBACK", "fail")
		t.Setenv("CUMULATIVE_THRESHOLD", "0.6")
		t.Setenv("CUMULATIVE_UPDATE", "mean")
		t.Setenv("MAX_CHUNK_LENGTH", "900")
		t.Setenv("EMBED_RETRY_BACKOFF", "50ms")
		t.Setenv("MAX_CONCURRENT_DOCS", "3")
		t.Setenv("SENTENCE_CACHE_SIZE", "512")

		cfg := LoadConfig()
		require.Empty(t, cfg.Warnings)
		ic := cfg.IngestConfig()

		assert.Equal(t, 400, ic.ChunkSize)
		assert.Equal(t, 100, ic.OverlapUnits())
		assert.Equal(t, ingestion_engine.UnitTokens, ic.SizeUnit)
		assert.Equal(t, chunking.KindCumulative, ic.Chunker)
		assert.Equal(t, 8, ic.BatchSize)
		assert.Equal(t, 2, ic.BufferSize)
		assert.True(t, ic.LateChunking)
		assert.Equal(t, ingestion_engine.FallbackFail, ic.LateFallback)
		assert.Equal(t, 0.6, ic.Cumulative.SimilarityThreshold)
		assert.Equal(t, chunking.UpdateMean, ic.Cumulative.Update)
		assert.Equal(t, 900, ic.Cumulative.MaxChunkLength)
		assert.Equal(t, 900, ic.Statistical.MaxChunkLength)
		assert.Equal(t, 50*time.Millisecond, ic.RetryBackoff)
		assert.Equal(t, 3, ic.MaxConcurrentDocuments)
		assert.Equal(t, 512, ic.SentenceCacheSize)
		require.NoError(t, ic.Validate())
	})

	t.Run("Should keep defaults and record warnings for malformed values", func(t *testing.T) {
		t.Setenv("BATCH_SIZE", "many")
		t.Setenv("LATE_CHUNKING", "maybe")
		t.Setenv("STAT_DEVIATION", "wide")
		t.Setenv("INFERENCE_TIMEOUT", "soon")

		cfg := LoadConfig()
		assert.Len(t, cfg.Warnings, 4)
		assert.Equal(t, 32, cfg.BatchSize)
		assert.False(t, cfg.LateChunking)
		assert.Equal(t, 1.0, cfg.StatDeviation)
		assert.Equal(t, 60*time.Second, cfg.InferenceTimeout)
	})

	t.Run("Should select the embedder backend", func(t *testing.T) {
		assert.Equal(t, BackendGemini, LoadConfig().EmbedBackend)
		t.Setenv("EMBED_BACKEND", BackendInference)
		assert.Equal(t, BackendInference, LoadConfig().EmbedBackend)
	})

	t.Run("Should read the HTTP source root and token secret", func(t *testing.T) {
		cfg := LoadConfig()
		assert.Empty(t, cfg.SourceRoot)
		assert.Empty(t, cfg.APIJWTSecret)

		t.Setenv("SOURCE_ROOT", "/srv/docs")
		t.Setenv("API_JWT_SECRET", "s3cret")
		cfg = LoadConfig()
		assert.Equal(t, "/srv/docs", cfg.SourceRoot)
		assert.Equal(t, "s3cret", cfg.APIJWTSecret)
	})
}
