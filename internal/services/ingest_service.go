package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/markdave123-py/Contexta/internal/core"
	"github.com/markdave123-py/Contexta/internal/core/chunking"
	"github.com/markdave123-py/Contexta/internal/core/ingestion_engine"
	"github.com/markdave123-py/Contexta/internal/models"
)

// Document statuses.
const (
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusFailed     = "failed"
)

// StageStore marks failures of the persistence step in a RunSummary.
const StageStore = "store"

// IngestService persists the output stream of a pipeline run: one documents
// row per source and one document_chunks row per embedded chunk.
type IngestService struct {
	ingestor ingestion_engine.Ingestor
	db       core.DbClient
	log      *zap.Logger
}

func NewIngestService(ing ingestion_engine.Ingestor, db core.DbClient, log *zap.Logger) *IngestService {
	if log == nil {
		log = zap.NewNop()
	}
	return &IngestService{ingestor: ing, db: db, log: log}
}

// docState follows one source through the stream.
type docState struct {
	docID    string
	source   string
	created  bool
	failed   bool
	storeErr error
}

// Ingest runs the pipeline over sources and stores every delivered batch as
// it arrives. Store failures are added to the summary under the "store" stage.
func (s *IngestService) Ingest(ctx context.Context, sources []string) (*models.RunSummary, error) {
	docs := make([]docState, len(sources))
	for i, src := range sources {
		docs[i].source = src
	}

	run := s.ingestor.Stream(ctx, sources)
	for rec := range run.Records() {
		d := &docs[rec.SourceIndex]
		if rec.DocumentID != "" && !d.created {
			d.docID = rec.DocumentID
			if err := s.db.CreateDocument(ctx, &models.Document{
				ID:     rec.DocumentID,
				Source: rec.Source,
				Status: StatusProcessing,
			}); err != nil {
				d.storeErr = fmt.Errorf("create document: %w", err)
			}
			d.created = true
		}
		if rec.Err != nil {
			d.failed = true
			continue
		}
		if d.storeErr != nil {
			continue
		}
		if err := s.db.InsertDocumentChunks(ctx, toDocumentChunks(rec.Results)); err != nil {
			d.storeErr = fmt.Errorf("insert chunks (batch %d): %w", rec.Seq, err)
			s.log.Warn("store failed",
				zap.String("source", d.source),
				zap.String("document_id", d.docID),
				zap.Error(err),
			)
		}
	}

	summary, runErr := run.Wait()
	if summary == nil {
		summary = &models.RunSummary{}
	}

	// Final statuses survive cancellation of the run context.
	statusCtx := context.WithoutCancel(ctx)
	for i := range docs {
		d := &docs[i]
		if d.storeErr != nil {
			markStoreFailure(summary, d.source, d.storeErr)
		}
		if !d.created || d.docID == "" {
			continue
		}
		status := StatusReady
		if d.failed || d.storeErr != nil || runErr != nil {
			status = StatusFailed
		}
		if err := s.db.UpdateDocumentStatus(statusCtx, d.docID, status); err != nil {
			s.log.Warn("status update failed", zap.String("document_id", d.docID), zap.Error(err))
		}
	}

	s.log.Info("ingest complete",
		zap.Int("succeeded", len(summary.Succeeded)),
		zap.Int("failed", len(summary.Failed)),
		zap.Int("results", summary.Results),
	)
	return summary, runErr
}

// markStoreFailure moves source from Succeeded to Failed.
func markStoreFailure(summary *models.RunSummary, source string, err error) {
	for i, s := range summary.Succeeded {
		if s == source {
			summary.Succeeded = append(summary.Succeeded[:i], summary.Succeeded[i+1:]...)
			summary.Failed = append(summary.Failed, models.SourceFailure{
				Source: source,
				Stage:  StageStore,
				Reason: err.Error(),
			})
			return
		}
	}
}

func toDocumentChunks(results []models.EmbeddingResult) []models.DocumentChunk {
	out := make([]models.DocumentChunk, len(results))
	for i, r := range results {
		out[i] = models.DocumentChunk{
			ID:          uuid.NewString(),
			DocumentID:  r.DocumentID,
			Text:        r.Text,
			Embedding:   r.Embedding,
			Position:    r.ChunkIndex,
			StartOffset: r.Start,
			EndOffset:   r.End,
			TokenCount:  chunking.ApproxTokens(r.Text),
		}
	}
	return out
}
