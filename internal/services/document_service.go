package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/markdave123-py/Contexta/internal/core"
	"github.com/markdave123-py/Contexta/internal/models"
)

// ErrDocumentNotFound is returned for unknown document ids.
var ErrDocumentNotFound = errors.New("document not found")

// DocumentService reads stored documents and runs nearest-neighbour search
// over their chunks.
type DocumentService struct {
	db       core.DbClient
	embedder core.Embedder
}

func NewDocumentService(db core.DbClient, embedder core.Embedder) *DocumentService {
	return &DocumentService{db: db, embedder: embedder}
}

func (s *DocumentService) Get(ctx context.Context, id string) (*models.Document, error) {
	doc, err := s.db.GetDocumentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

func (s *DocumentService) Chunks(ctx context.Context, id string) ([]models.DocumentChunk, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.db.GetChunksByDocument(ctx, id)
}

// Search embeds query with the pipeline's embedder and returns the limit
// closest chunks of the document.
func (s *DocumentService) Search(ctx context.Context, id, query string, limit int) ([]models.DocumentChunk, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query is empty")
	}
	if limit <= 0 {
		limit = 5
	}
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, &core.EmbeddingError{Source: "query", Batch: -1, Cause: err}
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for one query", len(vecs))
	}
	return s.db.SearchDocumentChunks(ctx, id, vecs[0], limit)
}
