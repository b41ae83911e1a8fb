package ingestion_engine

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/markdave123-py/Contexta/internal/core"
	"github.com/markdave123-py/Contexta/internal/core/chunking"
	"github.com/markdave123-py/Contexta/internal/core/coretest"
	"github.com/markdave123-py/Contexta/internal/metrics"
	"github.com/markdave123-py/Contexta/internal/models"
)

func testConfig() IngestConfig {
	cfg := DefaultIngestConfig()
	cfg.ChunkSize = 10
	cfg.Overlap = 0
	cfg.BatchSize = 1
	cfg.BufferSize = 2
	cfg.MaxRetries = 0
	cfg.RetryBackoff = time.Millisecond
	return cfg
}

func newTestPipeline(t *testing.T, cfg IngestConfig, ext core.TextExtractor, emb core.Embedder, opts ...Option) *Pipeline {
	t.Helper()
	p, err := NewPipeline(cfg, ext, emb, append([]Option{WithLogger(zap.NewNop())}, opts...)...)
	require.NoError(t, err)
	return p
}

func collect(run *Run) ([]models.Record, *models.RunSummary, error) {
	var recs []models.Record
	for r := range run.Records() {
		recs = append(recs, r)
	}
	summary, err := run.Wait()
	return recs, summary, err
}

// slowEmbedder stalls calls whose input contains marker.
type slowEmbedder struct {
	marker string
	delay  time.Duration
}

func (e slowEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	for _, t := range texts {
		if strings.Contains(t, e.marker) {
			select {
			case <-time.After(e.delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return coretest.ConstantEmbedder{}.Embed(ctx, texts)
}

// countingExtractor records how many extractions were attempted.
type countingExtractor struct {
	coretest.MapExtractor
	calls atomic.Int32
}

func (e *countingExtractor) Extract(ctx context.Context, source string) (*models.RawText, error) {
	e.calls.Add(1)
	return e.MapExtractor.Extract(ctx, source)
}

func TestNewPipeline(t *testing.T) {
	t.Run("Should reject invalid configuration before any extraction", func(t *testing.T) {
		ext := &countingExtractor{MapExtractor: coretest.MapExtractor{"a": "text"}}
		cfg := testConfig()
		cfg.Overlap = 10

		_, err := NewPipeline(cfg, ext, coretest.ConstantEmbedder{})
		var cfgErr *core.ConfigError
		require.True(t, errors.As(err, &cfgErr))
		assert.Equal(t, "overlap", cfgErr.Field)
		assert.Equal(t, int32(0), ext.calls.Load())
	})

	t.Run("Should require a token embedder for late chunking", func(t *testing.T) {
		cfg := testConfig()
		cfg.LateChunking = true

		_, err := NewPipeline(cfg, coretest.MapExtractor{}, coretest.ConstantEmbedder{})
		var cfgErr *core.ConfigError
		require.True(t, errors.As(err, &cfgErr))
		assert.Equal(t, "late_chunking", cfgErr.Field)

		_, err = NewPipeline(cfg, coretest.MapExtractor{}, &coretest.TokenEmbedder{})
		assert.NoError(t, err)
	})

	t.Run("Should require an extractor and an embedder", func(t *testing.T) {
		var cfgErr *core.ConfigError
		_, err := NewPipeline(testConfig(), nil, coretest.ConstantEmbedder{})
		assert.True(t, errors.As(err, &cfgErr))
		_, err = NewPipeline(testConfig(), coretest.MapExtractor{}, nil)
		assert.True(t, errors.As(err, &cfgErr))
	})
}

func TestPipelineStream(t *testing.T) {
	ctx := context.Background()

	t.Run("Should never run more embedding calls than the buffer size", func(t *testing.T) {
		for _, buffer := range []int{1, 3} {
			emb := &coretest.ConcurrencyEmbedder{Delay: 2 * time.Millisecond}
			cfg := testConfig()
			cfg.BufferSize = buffer
			ext := coretest.MapExtractor{
				"a": strings.Repeat("a", 100),
				"b": strings.Repeat("b", 100),
				"c": strings.Repeat("c", 100),
			}
			p := newTestPipeline(t, cfg, ext, emb)

			recs, summary, err := collect(p.Stream(ctx, []string{"a", "b", "c"}))
			require.NoError(t, err)
			assert.Len(t, recs, 30)
			assert.Equal(t, 30, summary.Results)
			assert.LessOrEqual(t, emb.Peak(), buffer)
			assert.Equal(t, 30, emb.Calls())
		}
	})

	t.Run("Should isolate a failing source", func(t *testing.T) {
		ext := coretest.MapExtractor{"one": strings.Repeat("x", 25), "three": strings.Repeat("y", 25)}
		p := newTestPipeline(t, testConfig(), ext, coretest.ConstantEmbedder{})

		recs, summary, err := collect(p.Stream(ctx, []string{"one", "two", "three"}))
		require.NoError(t, err)
		assert.Equal(t, []string{"one", "three"}, summary.Succeeded)
		require.Len(t, summary.Failed, 1)
		assert.Equal(t, models.SourceFailure{Source: "two", Stage: "extract", Reason: summary.Failed[0].Reason}, summary.Failed[0])

		var errRecs []models.Record
		results := 0
		for _, r := range recs {
			if r.Err != nil {
				errRecs = append(errRecs, r)
				continue
			}
			results += len(r.Results)
		}
		require.Len(t, errRecs, 1)
		assert.Equal(t, "two", errRecs[0].Source)
		assert.Equal(t, 1, errRecs[0].SourceIndex)
		var extErr *core.ExtractionError
		assert.True(t, errors.As(errRecs[0].Err, &extErr))
		assert.Equal(t, 6, results)
	})

	t.Run("Should fail the run only when every source fails", func(t *testing.T) {
		p := newTestPipeline(t, testConfig(), coretest.MapExtractor{"blank": "   "}, coretest.ConstantEmbedder{})

		recs, summary, err := collect(p.Stream(ctx, []string{"missing", "blank"}))
		assert.ErrorIs(t, err, core.ErrAllSourcesFailed)
		assert.Len(t, recs, 2)
		require.Len(t, summary.Failed, 2)
		assert.Equal(t, "extract", summary.Failed[0].Stage)
		assert.Equal(t, "chunk", summary.Failed[1].Stage)

		var chunkErr *core.ChunkingError
		for _, r := range recs {
			if r.Source == "blank" {
				assert.True(t, errors.As(r.Err, &chunkErr))
				assert.ErrorIs(t, r.Err, chunking.ErrEmptyText)
			}
		}
	})

	t.Run("Should succeed with no sources", func(t *testing.T) {
		p := newTestPipeline(t, testConfig(), coretest.MapExtractor{}, coretest.ConstantEmbedder{})

		recs, summary, err := collect(p.Stream(ctx, nil))
		require.NoError(t, err)
		assert.Empty(t, recs)
		assert.Empty(t, summary.Succeeded)
		assert.Empty(t, summary.Failed)
	})

	t.Run("Should isolate a failing batch", func(t *testing.T) {
		ext := coretest.MapExtractor{
			"bad":  "0123456789POISON----abcdefghij",
			"good": strings.Repeat("g", 20),
		}
		emb := &coretest.FailingEmbedder{FailOn: "POISON"}
		p := newTestPipeline(t, testConfig(), ext, emb)

		recs, summary, err := collect(p.Stream(ctx, []string{"bad", "good"}))
		require.NoError(t, err)
		assert.Equal(t, []string{"good"}, summary.Succeeded)
		require.Len(t, summary.Failed, 1)
		assert.Equal(t, "embed", summary.Failed[0].Stage)

		var badSeqs []int
		for _, r := range recs {
			if r.Source != "bad" {
				continue
			}
			badSeqs = append(badSeqs, r.Seq)
			if r.Seq == 1 {
				var embErr *core.EmbeddingError
				require.True(t, errors.As(r.Err, &embErr))
				assert.Equal(t, 1, embErr.Batch)
				assert.Equal(t, "bad", embErr.Source)
				continue
			}
			assert.NoError(t, r.Err)
		}
		assert.Equal(t, []int{0, 1, 2}, badSeqs)
		assert.Equal(t, 4, summary.Results)
	})

	t.Run("Should retry a failed batch", func(t *testing.T) {
		cfg := testConfig()
		cfg.MaxRetries = 2
		emb := &coretest.FailingEmbedder{FailFirst: 2}
		p := newTestPipeline(t, cfg, coretest.MapExtractor{"a": "short"}, emb)

		_, summary, err := collect(p.Stream(ctx, []string{"a"}))
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, summary.Succeeded)
		assert.Equal(t, 3, emb.Calls())
	})

	t.Run("Should deliver batches of a document in chunk order", func(t *testing.T) {
		cfg := testConfig()
		cfg.BufferSize = 4
		text := "SLOW------" + strings.Repeat("b", 10) + strings.Repeat("c", 10) + strings.Repeat("d", 10)
		p := newTestPipeline(t, cfg, coretest.MapExtractor{"doc": text}, slowEmbedder{marker: "SLOW", delay: 30 * time.Millisecond})

		recs, _, err := collect(p.Stream(ctx, []string{"doc"}))
		require.NoError(t, err)
		require.Len(t, recs, 4)
		for i, r := range recs {
			assert.Equal(t, i, r.Seq)
			require.Len(t, r.Results, 1)
			assert.Equal(t, i, r.Results[0].ChunkIndex)
			assert.Equal(t, "doc", r.Results[0].Source)
		}
	})

	t.Run("Should release every slot on cancellation", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		defer cancel()

		emb := &coretest.ConcurrencyEmbedder{Delay: 20 * time.Millisecond}
		p := newTestPipeline(t, testConfig(), coretest.MapExtractor{"doc": strings.Repeat("z", 200)}, emb)

		run := p.Stream(cctx, []string{"doc"})
		first, ok := <-run.Records()
		require.True(t, ok)
		require.NoError(t, first.Err)
		require.Len(t, first.Results, 1)
		cancel()

		summary, err := run.Wait()
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, run.InFlight())
		assert.Equal(t, 1, summary.Results)
		require.Len(t, summary.Failed, 1)
		assert.Equal(t, "doc", summary.Failed[0].Source)
		assert.Empty(t, summary.Succeeded)
	})

	t.Run("Should count only the results the consumer read", func(t *testing.T) {
		p := newTestPipeline(t, testConfig(), coretest.MapExtractor{"doc": strings.Repeat("q", 50)}, coretest.ConstantEmbedder{})

		run := p.Stream(ctx, []string{"doc"})
		first, ok := <-run.Records()
		require.True(t, ok)
		require.Len(t, first.Results, 1)

		summary, err := run.Wait()
		require.NoError(t, err)
		assert.Equal(t, 5, summary.Chunks)
		assert.Equal(t, 1, summary.Results)

		again, err := run.Wait()
		require.NoError(t, err)
		assert.Equal(t, 1, again.Results)
	})

	t.Run("Should route chunker embedding calls through the window", func(t *testing.T) {
		cfg := testConfig()
		cfg.BufferSize = 1
		cfg.Chunker = chunking.KindStatistical
		cfg.EncodeBatchSize = 1
		cfg.Statistical = chunking.StatisticalConfig{Window: 3, DeviationMultiplier: 1}
		cfg.BatchSize = 2

		emb := &coretest.ConcurrencyEmbedder{
			Inner: coretest.NewTopicEmbedder([]string{"cat", "cats"}, []string{"rocket", "rockets"}),
			Delay: time.Millisecond,
		}
		doc := "The cat sat. A cat ran. Cats nap. The rocket rose. A rocket fell. Rockets fly."
		ext := coretest.MapExtractor{"a": doc, "b": doc, "c": doc}
		p := newTestPipeline(t, cfg, ext, emb)

		res, err := p.Run(ctx, []string{"a", "b", "c"})
		require.NoError(t, err)
		assert.Equal(t, 1, emb.Peak())
		for _, sr := range res.Sources {
			require.Len(t, sr.Results, 2)
			assert.Equal(t, "The cat sat. A cat ran. Cats nap. ", sr.Results[0].Text)
		}
	})

	t.Run("Should serve repeated sentences from the cache", func(t *testing.T) {
		cfg := testConfig()
		cfg.Chunker = chunking.KindCumulative
		cfg.EncodeBatchSize = 8
		cfg.Cumulative = chunking.CumulativeConfig{SimilarityThreshold: 0.5, Update: chunking.UpdateMean}
		cfg.SentenceCacheSize = 16
		cfg.MaxConcurrentDocuments = 1

		topics := coretest.NewTopicEmbedder([]string{"cat"}, []string{"rocket"})
		doc := "The cat sat. The rocket rose."
		p := newTestPipeline(t, cfg, coretest.MapExtractor{"a": doc, "b": doc}, topics)

		res, err := p.Run(ctx, []string{"a", "b"})
		require.NoError(t, err)
		assert.Len(t, res.Sources[1].Results, 2)
		// one sentence encoding call, then one batch call per chunk
		assert.Equal(t, 1+4, topics.Calls())
	})
}

func TestPipelineLateChunking(t *testing.T) {
	ctx := context.Background()
	text := "alpha beta gamma delta epsilon zeta"

	lateConfig := func() IngestConfig {
		cfg := testConfig()
		cfg.LateChunking = true
		cfg.BatchSize = 2
		return cfg
	}

	t.Run("Should pool token vectors per chunk in a single call", func(t *testing.T) {
		emb := &coretest.TokenEmbedder{Vector: []float32{0.5, 0.25}}
		p := newTestPipeline(t, lateConfig(), coretest.MapExtractor{"doc": text}, emb)

		recs, summary, err := collect(p.Stream(ctx, []string{"doc"}))
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, 4, summary.Results)
		for _, r := range recs {
			for _, res := range r.Results {
				assert.InDeltaSlice(t, []float32{0.5, 0.25}, res.Embedding, 1e-6)
				assert.Equal(t, "doc", res.Source)
			}
		}
		assert.Equal(t, 1, emb.TokenCalls())
		assert.Equal(t, 0, emb.EmbedCalls())
	})

	t.Run("Should fall back to per-chunk embedding for oversize documents", func(t *testing.T) {
		emb := &coretest.TokenEmbedder{ReportedLimit: 2}
		p := newTestPipeline(t, lateConfig(), coretest.MapExtractor{"doc": text}, emb)

		_, summary, err := collect(p.Stream(ctx, []string{"doc"}))
		require.NoError(t, err)
		assert.Equal(t, 4, summary.Results)
		assert.Equal(t, 0, emb.TokenCalls())
		assert.Equal(t, 2, emb.EmbedCalls())
	})

	t.Run("Should fall back when the backend reports the overflow", func(t *testing.T) {
		emb := &coretest.TokenEmbedder{Limit: 3, ReportedLimit: 100}
		p := newTestPipeline(t, lateConfig(), coretest.MapExtractor{"doc": text}, emb)

		_, summary, err := collect(p.Stream(ctx, []string{"doc"}))
		require.NoError(t, err)
		assert.Equal(t, 4, summary.Results)
		assert.Equal(t, 1, emb.TokenCalls())
		assert.Equal(t, 2, emb.EmbedCalls())
	})

	t.Run("Should pool chunks that fall inside a single long token", func(t *testing.T) {
		cfg := lateConfig()
		cfg.ChunkSize = 8
		emb := &coretest.TokenEmbedder{Vector: []float32{1, 2}}
		long := "Pneumonoultramicroscopicsilicovolcanoconiosis is long."
		p := newTestPipeline(t, cfg, coretest.MapExtractor{"doc": long}, emb)

		recs, summary, err := collect(p.Stream(ctx, []string{"doc"}))
		require.NoError(t, err)
		assert.Empty(t, summary.Failed)
		assert.Equal(t, summary.Chunks, summary.Results)
		assert.Greater(t, summary.Results, 2)
		for _, r := range recs {
			require.NoError(t, r.Err)
			for _, res := range r.Results {
				assert.InDeltaSlice(t, []float32{1, 2}, res.Embedding, 1e-6)
			}
		}
		assert.Equal(t, 1, emb.TokenCalls())
		assert.Equal(t, 0, emb.EmbedCalls())
	})

	t.Run("Should fail the source when configured to", func(t *testing.T) {
		cfg := lateConfig()
		cfg.LateFallback = FallbackFail
		emb := &coretest.TokenEmbedder{ReportedLimit: 2}
		p := newTestPipeline(t, cfg, coretest.MapExtractor{"doc": text}, emb)

		recs, summary, err := collect(p.Stream(ctx, []string{"doc"}))
		assert.ErrorIs(t, err, core.ErrAllSourcesFailed)
		require.Len(t, recs, 1)
		var limitErr *core.ContextLimitError
		require.True(t, errors.As(recs[0].Err, &limitErr))
		assert.ErrorIs(t, recs[0].Err, core.ErrContextLimitExceeded)
		assert.Equal(t, 2, limitErr.Limit)
		assert.Equal(t, 0, summary.Results)
	})
}

func TestPipelineRun(t *testing.T) {
	ctx := context.Background()

	t.Run("Should group results per source in input order", func(t *testing.T) {
		cfg := testConfig()
		cfg.BufferSize = 4
		ext := coretest.MapExtractor{
			"b": strings.Repeat("b", 45),
			"a": strings.Repeat("a", 15),
		}
		p := newTestPipeline(t, cfg, ext, &coretest.ConcurrencyEmbedder{Delay: time.Millisecond})

		res, err := p.Run(ctx, []string{"b", "missing", "a", "a"})
		require.NoError(t, err)
		require.Len(t, res.Sources, 4)

		assert.Equal(t, "b", res.Sources[0].Source)
		require.Len(t, res.Sources[0].Results, 5)
		for i, r := range res.Sources[0].Results {
			assert.Equal(t, i, r.ChunkIndex)
		}
		assert.Empty(t, res.Sources[1].Results)
		assert.Len(t, res.Sources[1].Errors, 1)
		assert.Len(t, res.Sources[2].Results, 2)
		assert.Len(t, res.Sources[3].Results, 2)
		assert.Equal(t, []string{"b", "a", "a"}, res.Summary.Succeeded)
	})

	t.Run("Should cap concurrent documents", func(t *testing.T) {
		cfg := testConfig()
		cfg.MaxConcurrentDocuments = 1
		cfg.BufferSize = 4
		cfg.BatchSize = 10
		emb := &coretest.ConcurrencyEmbedder{Delay: 2 * time.Millisecond}
		ext := coretest.MapExtractor{"a": "aaaa", "b": "bbbb", "c": "cccc"}
		p := newTestPipeline(t, cfg, ext, emb)

		_, err := p.Run(ctx, []string{"a", "b", "c"})
		require.NoError(t, err)
		assert.Equal(t, 1, emb.Peak())
	})

	t.Run("Should record pipeline metrics", func(t *testing.T) {
		m := metrics.New("test")
		p := newTestPipeline(t, testConfig(), coretest.MapExtractor{"a": strings.Repeat("a", 30)}, coretest.ConstantEmbedder{}, WithMetrics(m))

		_, err := p.Run(ctx, []string{"a", "nope"})
		require.NoError(t, err)

		families, err := m.Registry.Gather()
		require.NoError(t, err)
		totals := map[string]float64{}
		for _, f := range families {
			for _, metric := range f.GetMetric() {
				if c := metric.GetCounter(); c != nil {
					totals[f.GetName()] += c.GetValue()
				}
				if g := metric.GetGauge(); g != nil && f.GetName() == "pipeline_inflight_batches" {
					totals[f.GetName()] += g.GetValue()
				}
			}
		}
		assert.Equal(t, 3.0, totals["pipeline_batches_total"])
		assert.Equal(t, 3.0, totals["pipeline_chunks_total"])
		assert.Equal(t, 2.0, totals["pipeline_sources_total"])
		assert.Equal(t, 0.0, totals["pipeline_inflight_batches"])
	})
}
