package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/markdave123-py/Contexta/internal/api/handlers"
	"github.com/markdave123-py/Contexta/internal/config"
	"github.com/markdave123-py/Contexta/internal/core"
	db "github.com/markdave123-py/Contexta/internal/core/database"
	"github.com/markdave123-py/Contexta/internal/core/ingestion_engine"
	objectclient "github.com/markdave123-py/Contexta/internal/core/object-client"
	"github.com/markdave123-py/Contexta/internal/metrics"
	"github.com/markdave123-py/Contexta/internal/services"
)

// App holds the wired components. DBClient, Ingest and Documents are nil
// when no DATABASE_URL is configured.
type App struct {
	Log       *zap.Logger
	Metrics   *metrics.Metrics
	DBClient  core.DbClient
	Embedder  core.Embedder
	Pipeline  *ingestion_engine.Pipeline
	Ingest    *services.IngestService
	Documents *services.DocumentService
	Server    *Server
}

func NewApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	for _, w := range cfg.Warnings {
		log.Warn("config", zap.String("warning", w))
	}

	a := &App{Log: log, Metrics: metrics.New(cfg.ServiceName)}

	objClient, err := objectclient.NewS3Client(appCtx, cfg, log)
	if err != nil {
		return nil, err
	}

	a.Embedder, err = NewEmbedder(appCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the embedder, %w", err)
	}

	useReadability := false
	extractor := ingestion_engine.NewDocconvExtractor(objClient, useReadability)

	a.Pipeline, err = ingestion_engine.NewPipeline(cfg.IngestConfig(), extractor, a.Embedder,
		ingestion_engine.WithLogger(log),
		ingestion_engine.WithMetrics(a.Metrics),
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.DatabaseURL != "" {
		a.DBClient, err = db.NewDatabaseClient(appCtx, cfg, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Ingest = services.NewIngestService(a.Pipeline, a.DBClient, log)
		a.Documents = services.NewDocumentService(a.DBClient, a.Embedder)
	} else {
		log.Warn("DATABASE_URL not set; results are streamed only")
	}

	if cfg.APIJWTSecret == "" {
		log.Warn("API_JWT_SECRET not set; /api routes are unauthenticated")
	}
	if cfg.SourceRoot == "" {
		log.Info("SOURCE_ROOT not set; HTTP callers may only name object storage sources")
	}

	var store handlers.Ingester
	var docs handlers.DocumentReader
	if a.Ingest != nil {
		store, docs = a.Ingest, a.Documents
	}
	a.Server = NewServer(cfg.Port, log, a.Metrics,
		handlers.NewEmbedHandler(a.Pipeline, store, handlers.RootedSources{Root: cfg.SourceRoot}, log),
		docs,
		[]byte(cfg.APIJWTSecret),
	)
	return a, nil
}

func (a *App) Close() {
	if a.DBClient != nil {
		_ = a.DBClient.Close()
	}
	if c, ok := a.Embedder.(io.Closer); ok {
		_ = c.Close()
	}
}
