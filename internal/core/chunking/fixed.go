package chunking

import (
	"context"
	"errors"
	"strings"

	"github.com/markdave123-py/Contexta/internal/core"
	"github.com/markdave123-py/Contexta/internal/models"
)

// ErrEmptyText is returned by every chunker for text that holds nothing
// but whitespace.
var ErrEmptyText = errors.New("no text to chunk")

// span is a [start, end) byte range of the document text.
type span struct {
	start, end int
}

// SplitFixed cuts text into chunks of at most size units, each starting
// size-overlap units after the previous one. It stops as soon as a chunk
// reaches the end of the text, so no chunk is a pure suffix of another.
// A nil tokenizer measures in characters.
func SplitFixed(docID, text string, size, overlap int, tok Tokenizer) ([]models.Chunk, error) {
	if err := validateFixed(size, overlap); err != nil {
		return nil, err
	}
	if tok == nil {
		tok = Characters
	}
	return toChunks(docID, text, splitRange(text, 0, len(text), size, overlap, tok)), nil
}

func validateFixed(size, overlap int) error {
	switch {
	case size <= 0:
		return core.NewConfigError("chunk_size", "must be positive")
	case overlap < 0:
		return core.NewConfigError("overlap", "must not be negative")
	case overlap >= size:
		return core.NewConfigError("overlap", "overlap must be smaller than chunk size")
	}
	return nil
}

// splitRange windows text[from:to] and returns spans in document offsets.
func splitRange(text string, from, to, size, overlap int, tok Tokenizer) []span {
	b := tok.Boundaries(text[from:to])
	units := len(b) - 1
	if units <= 0 {
		return nil
	}
	step := size - overlap
	var out []span
	for s := 0; ; s += step {
		e := s + size
		if e > units {
			e = units
		}
		out = append(out, span{start: from + b[s], end: from + b[e]})
		if e == units {
			return out
		}
	}
}

func toChunks(docID, text string, spans []span) []models.Chunk {
	out := make([]models.Chunk, 0, len(spans))
	for i, sp := range spans {
		t := text[sp.start:sp.end]
		out = append(out, models.Chunk{
			DocumentID: docID,
			Index:      i,
			Text:       t,
			Start:      sp.start,
			End:        sp.end,
			TokenCount: ApproxTokens(t),
		})
	}
	return out
}

// FixedChunker is the zero-inference chunker.
type FixedChunker struct {
	Size      int
	Overlap   int
	Tokenizer Tokenizer
}

var _ Chunker = (*FixedChunker)(nil)

// NewFixedChunker validates size and overlap up front.
func NewFixedChunker(size, overlap int, tok Tokenizer) (*FixedChunker, error) {
	if err := validateFixed(size, overlap); err != nil {
		return nil, err
	}
	if tok == nil {
		tok = Characters
	}
	return &FixedChunker{Size: size, Overlap: overlap, Tokenizer: tok}, nil
}

func (f *FixedChunker) Chunk(_ context.Context, docID, text string) ([]models.Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	return SplitFixed(docID, text, f.Size, f.Overlap, f.Tokenizer)
}
