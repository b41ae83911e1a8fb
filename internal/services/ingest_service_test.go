package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/markdave123-py/Contexta/internal/core"
	"github.com/markdave123-py/Contexta/internal/core/coretest"
	"github.com/markdave123-py/Contexta/internal/core/ingestion_engine"
)

func newIngestService(t *testing.T, db *coretest.MemoryDB, ext core.TextExtractor, emb core.Embedder) *IngestService {
	t.Helper()
	cfg := ingestion_engine.DefaultIngestConfig()
	cfg.ChunkSize = 10
	cfg.Overlap = 0
	cfg.BatchSize = 2
	cfg.MaxRetries = 0
	cfg.RetryBackoff = time.Millisecond

	p, err := ingestion_engine.NewPipeline(cfg, ext, emb, ingestion_engine.WithLogger(zap.NewNop()))
	require.NoError(t, err)
	return NewIngestService(p, db, zap.NewNop())
}

func TestIngestService(t *testing.T) {
	docs := coretest.MapExtractor{
		"a": "aaaaaaaaaabbbbbbbbbbcccccccccc",
		"b": "dddddddddd",
	}

	t.Run("Should store every chunk and mark documents ready", func(t *testing.T) {
		db := coretest.NewMemoryDB()
		svc := newIngestService(t, db, docs, coretest.ConstantEmbedder{})

		summary, err := svc.Ingest(context.Background(), []string{"a", "b"})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a", "b"}, summary.Succeeded)
		assert.Equal(t, 4, summary.Results)

		chunks, err := db.GetChunksByDocument(context.Background(), "a")
		require.NoError(t, err)
		require.Len(t, chunks, 3)
		for i, ch := range chunks {
			assert.Equal(t, i, ch.Position)
			assert.Equal(t, i*10, ch.StartOffset)
			assert.Equal(t, i*10+10, ch.EndOffset)
			assert.Equal(t, 3, ch.TokenCount)
			assert.NotEmpty(t, ch.ID)
			assert.Equal(t, []float32{1, 0, 0}, ch.Embedding)
		}
		assert.Equal(t, []string{StatusProcessing, StatusReady}, db.Statuses("a"))
		assert.Equal(t, []string{StatusProcessing, StatusReady}, db.Statuses("b"))
	})

	t.Run("Should not create rows for sources that fail extraction", func(t *testing.T) {
		db := coretest.NewMemoryDB()
		svc := newIngestService(t, db, docs, coretest.ConstantEmbedder{})

		summary, err := svc.Ingest(context.Background(), []string{"a", "missing"})
		require.NoError(t, err)
		require.Len(t, summary.Failed, 1)
		assert.Equal(t, "missing", summary.Failed[0].Source)
		assert.Equal(t, "extract", summary.Failed[0].Stage)

		doc, err := db.GetDocumentByID(context.Background(), "missing")
		require.NoError(t, err)
		assert.Nil(t, doc)
	})

	t.Run("Should mark a document failed when one of its batches fails", func(t *testing.T) {
		db := coretest.NewMemoryDB()
		emb := &coretest.FailingEmbedder{Inner: coretest.ConstantEmbedder{}, FailOn: "cccccccccc"}
		svc := newIngestService(t, db, docs, emb)

		summary, err := svc.Ingest(context.Background(), []string{"a", "b"})
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, summary.Succeeded)

		chunks, err := db.GetChunksByDocument(context.Background(), "a")
		require.NoError(t, err)
		assert.Len(t, chunks, 2, "the first batch is still stored")
		assert.Equal(t, []string{StatusProcessing, StatusFailed}, db.Statuses("a"))
		assert.Equal(t, []string{StatusProcessing, StatusReady}, db.Statuses("b"))
	})

	t.Run("Should report store failures in the summary", func(t *testing.T) {
		db := coretest.NewMemoryDB()
		db.FailInsertFor = "b"
		svc := newIngestService(t, db, docs, coretest.ConstantEmbedder{})

		summary, err := svc.Ingest(context.Background(), []string{"a", "b"})
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, summary.Succeeded)
		require.Len(t, summary.Failed, 1)
		assert.Equal(t, "b", summary.Failed[0].Source)
		assert.Equal(t, StageStore, summary.Failed[0].Stage)
		assert.Contains(t, summary.Failed[0].Reason, "disk full")
		assert.Equal(t, []string{StatusProcessing, StatusFailed}, db.Statuses("b"))
	})

	t.Run("Should return the all-sources-failed error", func(t *testing.T) {
		db := coretest.NewMemoryDB()
		svc := newIngestService(t, db, docs, coretest.ConstantEmbedder{})

		_, err := svc.Ingest(context.Background(), []string{"nope"})
		require.ErrorIs(t, err, core.ErrAllSourcesFailed)
	})
}
