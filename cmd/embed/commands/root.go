package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/markdave123-py/Contexta/internal/app"
	"github.com/markdave123-py/Contexta/internal/config"
	db "github.com/markdave123-py/Contexta/internal/core/database"
	"github.com/markdave123-py/Contexta/internal/core/ingestion_engine"
	objectclient "github.com/markdave123-py/Contexta/internal/core/object-client"
	"github.com/markdave123-py/Contexta/internal/logger"
	"github.com/markdave123-py/Contexta/internal/models"
	"github.com/markdave123-py/Contexta/internal/services"
)

type options struct {
	chunker      string
	chunkSize    int
	overlap      float64
	unit         string
	batchSize    int
	bufferSize   int
	lateChunking bool
	lateFallback string
	backend      string
	model        string
	maxDocs      int
	logLevel     string
	readability  bool
	store        bool
}

// NewRootCmd creates the embed command.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&options{})
}

func newRootCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "embed [sources...]",
		Short: "Chunk and embed documents",
		Long: `Extract, chunk and embed documents, writing one NDJSON line per
embedded batch to stdout, followed by a summary line.

Sources are local paths, s3://bucket/key URLs or virtual-hosted S3 URLs.
Settings come from the environment (.env is loaded); flags override them.

Examples:
  embed report.pdf notes.md
  embed --chunker statistical --batch-size 16 s3://docs/q1.pdf
  embed --late-chunking --backend inference transcript.vtt
  embed --store report.pdf`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, args)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.chunker, "chunker", "", "Chunking strategy: fixed, statistical or cumulative")
	f.IntVar(&opts.chunkSize, "chunk-size", 0, "Fixed chunk size in the configured unit")
	f.Float64Var(&opts.overlap, "overlap", 0, "Overlap in units, or a fraction of chunk size when below 1")
	f.StringVar(&opts.unit, "unit", "", "Size unit: chars or tokens")
	f.IntVar(&opts.batchSize, "batch-size", 0, "Chunks per embedding call")
	f.IntVar(&opts.bufferSize, "buffer-size", 0, "Embedding batches in flight")
	f.BoolVar(&opts.lateChunking, "late-chunking", false, "Embed whole documents and pool token vectors per chunk")
	f.StringVar(&opts.lateFallback, "late-fallback", "", "Oversized documents under late chunking: per_chunk or fail")
	f.StringVar(&opts.backend, "backend", "", "Embedder backend: gemini, openai or inference")
	f.StringVar(&opts.model, "model", "", "Embedding model name")
	f.IntVar(&opts.maxDocs, "max-docs", 0, "Documents processed concurrently (0 = unlimited)")
	f.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	f.BoolVar(&opts.readability, "readability", false, "Use readability extraction for HTML")
	f.BoolVar(&opts.store, "store", false, "Persist results to Postgres instead of printing them")

	cmd.AddCommand(newTokenCmd())
	return cmd
}

// applyFlags overrides cfg with every flag set on the command line.
func applyFlags(cmd *cobra.Command, opts *options, cfg *config.Config) {
	flags := cmd.Flags()
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	set("chunker", func() { cfg.Chunker = opts.chunker })
	set("chunk-size", func() { cfg.ChunkSize = opts.chunkSize })
	set("overlap", func() { cfg.ChunkOverlap = opts.overlap })
	set("unit", func() { cfg.ChunkUnit = opts.unit })
	set("batch-size", func() { cfg.BatchSize = opts.batchSize })
	set("buffer-size", func() { cfg.BufferSize = opts.bufferSize })
	set("late-chunking", func() { cfg.LateChunking = opts.lateChunking })
	set("late-fallback", func() { cfg.LateChunkingFallback = opts.lateFallback })
	set("backend", func() { cfg.EmbedBackend = opts.backend })
	set("model", func() { cfg.EmbedModel = opts.model })
	set("max-docs", func() { cfg.MaxConcurrentDocs = opts.maxDocs })
	set("log-level", func() { cfg.LogLevel = opts.logLevel })
}

func run(cmd *cobra.Command, opts *options, sources []string) error {
	ctx := cmd.Context()
	cfg := config.LoadConfig()
	applyFlags(cmd, opts, cfg)

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, ServiceName: cfg.ServiceName})
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	for _, w := range cfg.Warnings {
		log.Warn("config", zap.String("warning", w))
	}

	obj, err := objectclient.NewS3Client(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("initializing object client: %w", err)
	}
	emb, err := app.NewEmbedder(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing embedder: %w", err)
	}
	if c, ok := emb.(io.Closer); ok {
		defer c.Close()
	}

	pipeline, err := ingestion_engine.NewPipeline(cfg.IngestConfig(),
		ingestion_engine.NewDocconvExtractor(obj, opts.readability), emb,
		ingestion_engine.WithLogger(log),
	)
	if err != nil {
		return err
	}

	if !opts.store {
		_, err := streamNDJSON(ctx, cmd.OutOrStdout(), pipeline, sources)
		return err
	}

	dbClient, err := db.NewDatabaseClient(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer dbClient.Close()

	summary, err := services.NewIngestService(pipeline, dbClient, log).Ingest(ctx, sources)
	if summary != nil {
		_ = writeSummary(cmd.OutOrStdout(), summary, err)
	}
	return err
}

type recordLine struct {
	Type string `json:"type"`
	models.Record
	Error string `json:"error,omitempty"`
}

type summaryLine struct {
	Type    string             `json:"type"`
	Summary *models.RunSummary `json:"summary"`
	Error   string             `json:"error,omitempty"`
}

// streamNDJSON writes every record of a run to out, then the summary.
func streamNDJSON(ctx context.Context, out io.Writer, ing ingestion_engine.Ingestor, sources []string) (*models.RunSummary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	enc := json.NewEncoder(out)
	var writeErr error
	run := ing.Stream(ctx, sources)
	for rec := range run.Records() {
		l := recordLine{Type: "batch", Record: rec}
		if rec.Err != nil {
			l.Type, l.Error = "error", rec.Err.Error()
		}
		if err := enc.Encode(l); err != nil {
			writeErr = fmt.Errorf("writing output: %w", err)
			cancel()
			break
		}
	}
	summary, err := run.Wait()
	if writeErr != nil {
		return summary, writeErr
	}
	if summary != nil {
		if werr := writeSummary(out, summary, err); werr != nil {
			return summary, werr
		}
	}
	return summary, err
}

func writeSummary(out io.Writer, summary *models.RunSummary, runErr error) error {
	l := summaryLine{Type: "summary", Summary: summary}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		l.Error = runErr.Error()
	}
	return json.NewEncoder(out).Encode(l)
}
