package core

import (
	"context"

	"github.com/markdave123-py/Contexta/internal/models"
)

// TextExtractor turns a source identifier (path or URL) into UTF-8 text.
// Failures are reported as *ExtractionError.
type TextExtractor interface {
	Extract(ctx context.Context, source string) (*models.RawText, error)
}
