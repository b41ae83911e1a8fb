package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/markdave123-py/Contexta/internal/core"
	"github.com/markdave123-py/Contexta/internal/core/chunking"
	"github.com/markdave123-py/Contexta/internal/core/llm"
	"github.com/markdave123-py/Contexta/internal/metrics"
	"github.com/markdave123-py/Contexta/internal/models"
)

const (
	stageExtract = "extract"
	stageChunk   = "chunk"
	stageEmbed   = "embed"
)

// Pipeline turns sources into embedded chunks: extract, chunk, batch,
// then embed with at most BufferSize batches in flight.
//
// extractor: source -> raw text.
// embedder:  shared, read-only embedding backend.
// sentences: embedder used by semantic chunkers (optionally cached).
// tokens:    set when late chunking is enabled.
type Pipeline struct {
	cfg       IngestConfig
	extractor core.TextExtractor
	embedder  core.Embedder
	sentences core.Embedder
	tokens    core.TokenEmbedder
	tokenizer chunking.Tokenizer
	log       *zap.Logger
	metrics   *metrics.Metrics
}

// Option customises a Pipeline.
type Option func(*Pipeline)

func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithTokenizer overrides the unit chunk sizes are measured in.
func WithTokenizer(t chunking.Tokenizer) Option {
	return func(p *Pipeline) { p.tokenizer = t }
}

// NewPipeline validates cfg and its collaborators before anything runs.
// Every configuration problem is a *core.ConfigError.
func NewPipeline(cfg IngestConfig, extractor core.TextExtractor, embedder core.Embedder, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if extractor == nil {
		return nil, core.NewConfigError("extractor", "required")
	}
	if embedder == nil {
		return nil, core.NewConfigError("embedder", "required")
	}

	p := &Pipeline{cfg: cfg, extractor: extractor, embedder: embedder, sentences: embedder}
	if cfg.LateChunking {
		te, ok := embedder.(core.TokenEmbedder)
		if !ok {
			return nil, core.NewConfigError("late_chunking", "embedder does not produce token-level embeddings")
		}
		p.tokens = te
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = zap.NewNop()
	}

	if cfg.SentenceCacheSize > 0 {
		cached, err := llm.NewCachedEmbedder(embedder, cfg.SentenceCacheSize)
		if err != nil {
			return nil, fmt.Errorf("sentence cache: %w", err)
		}
		p.sentences = cached
	}

	if p.tokenizer == nil {
		p.tokenizer = chunking.Characters
		if cfg.SizeUnit == UnitTokens {
			tok, err := chunking.NewTiktokenTokenizer(cfg.TokenEncoding)
			if err != nil {
				return nil, fmt.Errorf("tokenizer: %w", err)
			}
			p.tokenizer = tok
		}
	}
	return p, nil
}

// Config returns the configuration the pipeline was built with.
func (p *Pipeline) Config() IngestConfig { return p.cfg }

// Run is one streaming execution. Records is closed when every source is
// done; Wait then returns the summary and the fatal error, if any.
type Run struct {
	records chan models.Record
	done    chan struct{}
	state   *runState

	waitOnce sync.Once
	summary  *models.RunSummary
	err      error
}

// Records delivers one record per completed batch, plus error records for
// failed sources and batches. Within a document, batches arrive in order.
func (r *Run) Records() <-chan models.Record { return r.records }

// Wait blocks until the run is over. Records not yet consumed are discarded
// and their results are not counted in the summary.
func (r *Run) Wait() (*models.RunSummary, error) {
	r.waitOnce.Do(func() {
		discarded := 0
		for rec := range r.records {
			discarded += len(rec.Results)
		}
		<-r.done
		if r.summary != nil {
			r.summary.Results -= discarded
		}
	})
	return r.summary, r.err
}

// InFlight is the number of concurrency slots currently held.
func (r *Run) InFlight() int { return int(r.state.inflight.Load()) }

// Stream starts a run over sources and returns immediately. Cancelling ctx
// stops dispatching, discards in-flight results and releases every slot;
// records already delivered are unaffected.
func (p *Pipeline) Stream(ctx context.Context, sources []string) *Run {
	st := p.newRunState(len(sources))
	run := &Run{
		records: st.out,
		done:    make(chan struct{}),
		state:   st,
	}
	go func() {
		defer close(run.done)
		summary, err := st.execute(ctx, sources)
		close(st.out)
		run.summary, run.err = summary, err
	}()
	return run
}

// SourceResult gathers the output of one source in aggregated mode.
type SourceResult struct {
	Source     string
	DocumentID string
	Results    []models.EmbeddingResult
	Errors     []error
}

// RunResult is the aggregated outcome: one entry per input source, in
// input order, each ordered by chunk index.
type RunResult struct {
	Sources []SourceResult
	Summary *models.RunSummary
}

// Run collects a whole run. The partial result is returned together with
// a fatal error.
func (p *Pipeline) Run(ctx context.Context, sources []string) (*RunResult, error) {
	out := &RunResult{Sources: make([]SourceResult, len(sources))}
	for i, s := range sources {
		out.Sources[i].Source = s
	}

	run := p.Stream(ctx, sources)
	for rec := range run.Records() {
		sr := &out.Sources[rec.SourceIndex]
		if rec.DocumentID != "" {
			sr.DocumentID = rec.DocumentID
		}
		if rec.Err != nil {
			sr.Errors = append(sr.Errors, rec.Err)
			continue
		}
		sr.Results = append(sr.Results, rec.Results...)
	}
	summary, err := run.Wait()
	for i := range out.Sources {
		res := out.Sources[i].Results
		sort.SliceStable(res, func(a, b int) bool { return res[a].ChunkIndex < res[b].ChunkIndex })
	}
	out.Summary = summary
	return out, err
}

// sourceState tracks one input source during a run.
type sourceState struct {
	source  string
	docID   string
	stage   string
	chunks  int
	results int
	failure *models.SourceFailure
}

// runState is the mutable state of one run. The semaphore and the
// in-flight counter are shared by every document lineage.
type runState struct {
	p        *Pipeline
	sem      *semaphore.Weighted
	inflight atomic.Int64
	chunker  chunking.Chunker
	out      chan models.Record

	mu      sync.Mutex
	sources []sourceState
}

func (p *Pipeline) newRunState(n int) *runState {
	st := &runState{
		p:       p,
		sem:     semaphore.NewWeighted(int64(p.cfg.BufferSize)),
		out:     make(chan models.Record),
		sources: make([]sourceState, n),
	}
	return st
}

// Embed lets chunkers share the run's concurrency window.
func (st *runState) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := st.acquire(ctx); err != nil {
		return nil, err
	}
	defer st.release()
	return st.p.sentences.Embed(ctx, texts)
}

func (st *runState) acquire(ctx context.Context) error {
	if err := st.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	st.inflight.Add(1)
	st.p.metrics.SlotAcquired()
	return nil
}

func (st *runState) release() {
	st.inflight.Add(-1)
	st.p.metrics.SlotReleased()
	st.sem.Release(1)
}

func (st *runState) execute(ctx context.Context, sources []string) (*models.RunSummary, error) {
	start := time.Now()

	chunker, err := chunking.New(chunking.Options{
		Kind:        st.p.cfg.Chunker,
		Size:        st.p.cfg.ChunkSize,
		Overlap:     st.p.cfg.OverlapUnits(),
		Tokenizer:   st.p.tokenizer,
		Statistical: st.p.cfg.statistical(),
		Cumulative:  st.p.cfg.cumulative(),
		Logger:      st.p.log,
	}, st)
	if err != nil {
		return nil, err
	}
	st.chunker = chunker

	var g errgroup.Group
	if n := st.p.cfg.MaxConcurrentDocuments; n > 0 {
		g.SetLimit(n)
	}
	for i, src := range sources {
		i, src := i, src
		st.sources[i].source = src
		g.Go(func() error {
			st.processSource(ctx, i, src)
			return nil
		})
	}
	_ = g.Wait()

	summary := st.summary()
	st.p.log.Info("run complete",
		zap.Int("sources", len(sources)),
		zap.Int("succeeded", len(summary.Succeeded)),
		zap.Int("failed", len(summary.Failed)),
		zap.Int("chunks", summary.Chunks),
		zap.Int("results", summary.Results),
		zap.Duration("elapsed", time.Since(start)),
	)

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	if len(sources) > 0 && len(summary.Succeeded) == 0 {
		return summary, core.ErrAllSourcesFailed
	}
	return summary, nil
}

// processSource is the lineage of one document. Failures are recorded
// against the source and never abort other sources.
func (st *runState) processSource(ctx context.Context, idx int, source string) {
	defer st.finish(ctx, idx)

	st.setStage(idx, stageExtract)
	raw, err := st.p.extractor.Extract(ctx, source)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		st.fail(ctx, idx, stageExtract, &core.ExtractionError{Source: source, Cause: err})
		return
	}
	docID := raw.DocumentID
	if docID == "" {
		docID = uuid.NewString()
	}
	st.setDocument(idx, docID)

	st.setStage(idx, stageChunk)
	chunks, err := st.chunker.Chunk(ctx, docID, raw.Text)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		var embErr *core.EmbeddingError
		if errors.As(err, &embErr) {
			embErr.Source = source
			st.fail(ctx, idx, stageEmbed, embErr)
			return
		}
		st.fail(ctx, idx, stageChunk, &core.ChunkingError{Source: source, Cause: err})
		return
	}
	st.addChunks(idx, len(chunks))

	st.setStage(idx, stageEmbed)
	if st.p.tokens != nil && st.lateChunk(ctx, idx, source, docID, raw.Text, chunks) {
		return
	}
	st.dispatch(ctx, idx, source, docID, chunks)
}

type outcome struct {
	seq     int
	results []models.EmbeddingResult
	err     error
}

// dispatch embeds batches concurrently and delivers them in order. Each
// batch holds a slot from dispatch until its record is delivered or
// discarded.
func (st *runState) dispatch(ctx context.Context, idx int, source, docID string, chunks []models.Chunk) {
	batches, err := MakeBatches(chunks, st.p.cfg.BatchSize)
	if err != nil {
		st.fail(ctx, idx, stageEmbed, err)
		return
	}

	pending := make(chan chan outcome, st.p.cfg.BufferSize)
	delivered := make(chan struct{})
	go func() {
		defer close(delivered)
		for fut := range pending {
			o := <-fut
			st.deliverBatch(ctx, idx, source, docID, o)
			st.release()
		}
	}()

	for _, b := range batches {
		b := b
		if err := st.acquire(ctx); err != nil {
			break
		}
		b.Source = source
		fut := make(chan outcome, 1)
		go func() {
			res, err := st.embedBatch(ctx, b)
			fut <- outcome{seq: b.Seq, results: res, err: err}
		}()
		pending <- fut
	}
	close(pending)
	<-delivered
}

func (st *runState) embedBatch(ctx context.Context, b models.Batch) ([]models.EmbeddingResult, error) {
	texts := make([]string, len(b.Chunks))
	for i, c := range b.Chunks {
		texts[i] = c.Text
	}

	start := time.Now()
	vecs, err := withRetry(ctx, st.p.cfg.MaxRetries, st.p.cfg.RetryBackoff, func(ctx context.Context) ([][]float32, error) {
		v, err := st.p.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(v) != len(texts) {
			return nil, fmt.Errorf("embed size mismatch: got %d want %d", len(v), len(texts))
		}
		return v, nil
	})
	st.p.metrics.ObserveBatch(time.Since(start), err)
	if err != nil {
		return nil, &core.EmbeddingError{Source: b.Source, Batch: b.Seq, Cause: err}
	}

	out := make([]models.EmbeddingResult, len(b.Chunks))
	for i, c := range b.Chunks {
		out[i] = models.EmbeddingResult{
			DocumentID: c.DocumentID,
			Source:     b.Source,
			ChunkIndex: c.Index,
			Text:       c.Text,
			Start:      c.Start,
			End:        c.End,
			Embedding:  vecs[i],
		}
	}
	return out, nil
}

func (st *runState) deliverBatch(ctx context.Context, idx int, source, docID string, o outcome) {
	if o.err != nil {
		if ctx.Err() != nil {
			return
		}
		st.recordFailure(idx, stageEmbed, o.err)
		st.send(ctx, models.Record{DocumentID: docID, Source: source, SourceIndex: idx, Seq: o.seq, Err: o.err})
		return
	}
	if st.send(ctx, models.Record{DocumentID: docID, Source: source, SourceIndex: idx, Seq: o.seq, Results: o.results}) {
		st.addResults(idx, len(o.results))
	}
}

// lateChunk embeds the whole document once and pools token vectors per
// chunk. It reports false when the document should fall back to regular
// per-chunk batching.
func (st *runState) lateChunk(ctx context.Context, idx int, source, docID, text string, chunks []models.Chunk) bool {
	limit := st.p.tokens.MaxContextTokens()
	est := estimateTokens(text)

	if limit <= 0 || est <= limit {
		if err := st.acquire(ctx); err != nil {
			return true
		}
		defer st.release()

		tokens, err := withRetry(ctx, st.p.cfg.MaxRetries, st.p.cfg.RetryBackoff, func(ctx context.Context) ([]core.TokenEmbedding, error) {
			return st.p.tokens.EmbedTokens(ctx, text)
		})
		switch {
		case err == nil:
			results, err := PoolChunks(text, chunks, tokens)
			if err != nil {
				st.fail(ctx, idx, stageEmbed, &core.EmbeddingError{Source: source, Batch: -1, Cause: err})
				return true
			}
			st.deliverLate(ctx, idx, source, docID, results)
			return true
		case ctx.Err() != nil:
			return true
		case !errors.Is(err, core.ErrContextLimitExceeded):
			st.fail(ctx, idx, stageEmbed, &core.EmbeddingError{Source: source, Batch: -1, Cause: err})
			return true
		}
	}

	limitErr := &core.ContextLimitError{Source: source, Tokens: est, Limit: limit}
	if st.p.cfg.lateFallback() == FallbackFail {
		st.fail(ctx, idx, stageEmbed, limitErr)
		return true
	}
	st.p.log.Warn("document exceeds the context window, embedding chunks separately",
		zap.String("source", source),
		zap.Int("estimated_tokens", est),
		zap.Int("limit", limit),
	)
	return false
}

// deliverLate emits pooled results in BatchSize groups.
func (st *runState) deliverLate(ctx context.Context, idx int, source, docID string, results []models.EmbeddingResult) {
	size := st.p.cfg.BatchSize
	for seq, lo := 0, 0; lo < len(results); seq, lo = seq+1, lo+size {
		hi := lo + size
		if hi > len(results) {
			hi = len(results)
		}
		group := results[lo:hi:hi]
		for i := range group {
			group[i].Source = source
		}
		if !st.send(ctx, models.Record{DocumentID: docID, Source: source, SourceIndex: idx, Seq: seq, Results: group}) {
			return
		}
		st.addResults(idx, len(group))
	}
}

// send delivers rec unless the run has been cancelled.
func (st *runState) send(ctx context.Context, rec models.Record) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case st.out <- rec:
		return true
	case <-ctx.Done():
		return false
	}
}

// fail records a source-level failure and emits it as an error record.
func (st *runState) fail(ctx context.Context, idx int, stage string, err error) {
	st.recordFailure(idx, stage, err)
	st.mu.Lock()
	docID, source := st.sources[idx].docID, st.sources[idx].source
	st.mu.Unlock()
	st.send(ctx, models.Record{DocumentID: docID, Source: source, SourceIndex: idx, Seq: -1, Err: err})
}

// recordFailure keeps the first failure of a source.
func (st *runState) recordFailure(idx int, stage string, err error) {
	st.mu.Lock()
	s := &st.sources[idx]
	if s.failure == nil {
		s.failure = &models.SourceFailure{Source: s.source, Stage: stage, Reason: err.Error()}
	}
	source := s.source
	st.mu.Unlock()

	st.p.log.Warn("source failed",
		zap.String("source", source),
		zap.String("stage", stage),
		zap.Error(err),
	)
}

func (st *runState) finish(ctx context.Context, idx int) {
	st.mu.Lock()
	s := &st.sources[idx]
	if s.failure == nil && ctx.Err() != nil {
		s.failure = &models.SourceFailure{Source: s.source, Stage: s.stage, Reason: ctx.Err().Error()}
	}
	ok := s.failure == nil
	st.mu.Unlock()
	st.p.metrics.SourceDone(ok)
}

func (st *runState) setStage(idx int, stage string) {
	st.mu.Lock()
	st.sources[idx].stage = stage
	st.mu.Unlock()
}

func (st *runState) setDocument(idx int, docID string) {
	st.mu.Lock()
	st.sources[idx].docID = docID
	st.mu.Unlock()
}

func (st *runState) addChunks(idx, n int) {
	st.mu.Lock()
	st.sources[idx].chunks += n
	st.mu.Unlock()
	st.p.metrics.AddChunks(string(st.kind()), n)
}

func (st *runState) addResults(idx, n int) {
	st.mu.Lock()
	st.sources[idx].results += n
	st.mu.Unlock()
}

func (st *runState) kind() chunking.Kind {
	if st.p.cfg.Chunker == "" {
		return chunking.KindFixed
	}
	return st.p.cfg.Chunker
}

func (st *runState) summary() *models.RunSummary {
	st.mu.Lock()
	defer st.mu.Unlock()

	out := &models.RunSummary{Succeeded: []string{}, Failed: []models.SourceFailure{}}
	for _, s := range st.sources {
		out.Chunks += s.chunks
		out.Results += s.results
		if s.failure != nil {
			out.Failed = append(out.Failed, *s.failure)
			continue
		}
		out.Succeeded = append(out.Succeeded, s.source)
	}
	return out
}
