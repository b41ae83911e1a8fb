package chunking

import (
	"context"
	"fmt"
	"strings"

	"github.com/markdave123-py/Contexta/internal/core"
	"github.com/markdave123-py/Contexta/internal/models"
)

// encodeSentences embeds every sentence in groups of batchSize, keeping order.
func encodeSentences(ctx context.Context, emb core.Embedder, sentences []models.Sentence, batchSize int) ([][]float32, error) {
	out := make([][]float32, 0, len(sentences))
	for lo := 0; lo < len(sentences); lo += batchSize {
		hi := lo + batchSize
		if hi > len(sentences) {
			hi = len(sentences)
		}
		texts := make([]string, 0, hi-lo)
		for _, s := range sentences[lo:hi] {
			texts = append(texts, embeddable(s.Text))
		}
		vecs, err := emb.Embed(ctx, texts)
		if err != nil {
			return nil, &core.EmbeddingError{Batch: -1, Cause: fmt.Errorf("encode sentences %d-%d: %w", lo, hi, err)}
		}
		if len(vecs) != len(texts) {
			return nil, &core.EmbeddingError{Batch: -1, Cause: fmt.Errorf("encode sentences: got %d vectors for %d texts", len(vecs), len(texts))}
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// embeddable trims surrounding whitespace, keeping the raw text if nothing is left.
func embeddable(s string) string {
	if t := strings.TrimSpace(s); t != "" {
		return t
	}
	return s
}

// capSpans re-splits any span longer than maxLen with the fixed splitter.
func capSpans(text string, spans []span, maxLen int, tok Tokenizer) []span {
	if maxLen <= 0 {
		return spans
	}
	out := make([]span, 0, len(spans))
	for _, sp := range spans {
		if tok.Count(text[sp.start:sp.end]) <= maxLen {
			out = append(out, sp)
			continue
		}
		out = append(out, splitRange(text, sp.start, sp.end, maxLen, 0, tok)...)
	}
	return out
}

// mergeShortTail folds a trailing span shorter than minLen into its
// predecessor when the result stays within maxLen.
func mergeShortTail(text string, spans []span, minLen, maxLen int, tok Tokenizer) []span {
	if minLen <= 0 || len(spans) < 2 {
		return spans
	}
	last := spans[len(spans)-1]
	if tok.Count(text[last.start:last.end]) >= minLen {
		return spans
	}
	prev := spans[len(spans)-2]
	if maxLen > 0 && tok.Count(text[prev.start:last.end]) > maxLen {
		return spans
	}
	spans = spans[:len(spans)-1]
	spans[len(spans)-1] = span{start: prev.start, end: last.end}
	return spans
}
