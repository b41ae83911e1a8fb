package core

import (
	"context"
	"io"

	"github.com/markdave123-py/Contexta/internal/models"
)

// DbClient defines the persistence operations used by the result sink.
// It abstracts Postgres/pgvector so higher layers never depend on a specific DB.
type DbClient interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status string) error

	InsertDocumentChunks(ctx context.Context, chunks []models.DocumentChunk) error
	GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error)
	SearchDocumentChunks(ctx context.Context, docID string, queryVec []float32, limit int) ([]models.DocumentChunk, error)

	Close() error
}

// ObjectClient defines read access to S3 or any object storage holding sources.
type ObjectClient interface {
	GetObjectReader(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}
