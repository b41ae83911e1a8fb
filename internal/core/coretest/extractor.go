package coretest

import (
	"context"
	"fmt"

	"github.com/markdave123-py/Contexta/internal/core"
	"github.com/markdave123-py/Contexta/internal/models"
)

// MapExtractor serves text from memory keyed by source. The source doubles
// as the document id. Unknown sources fail extraction.
type MapExtractor map[string]string

var _ core.TextExtractor = MapExtractor(nil)

func (m MapExtractor) Extract(ctx context.Context, source string) (*models.RawText, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text, ok := m[source]
	if !ok {
		return nil, fmt.Errorf("source %q not found", source)
	}
	return &models.RawText{
		DocumentID:  source,
		Source:      source,
		ContentType: "text/plain",
		Text:        text,
	}, nil
}
