package ingestion_engine

import (
	"fmt"
	"sort"

	"github.com/markdave123-py/Contexta/internal/core"
	"github.com/markdave123-py/Contexta/internal/core/chunking"
	"github.com/markdave123-py/Contexta/internal/models"
)

// PoolChunks mean-pools token vectors into one vector per chunk. A token
// belongs to a chunk when its offset lies in [Start, End). A chunk lying
// entirely inside one token takes the vector of the token covering Start.
// Tokens need not be sorted.
func PoolChunks(text string, chunks []models.Chunk, tokens []core.TokenEmbedding) ([]models.EmbeddingResult, error) {
	sorted := make([]core.TokenEmbedding, len(tokens))
	copy(sorted, tokens)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })

	out := make([]models.EmbeddingResult, 0, len(chunks))
	for _, c := range chunks {
		if c.Start < 0 || c.End > len(text) || c.Start >= c.End {
			return nil, fmt.Errorf("chunk %d: invalid span [%d,%d)", c.Index, c.Start, c.End)
		}
		lo := sort.Search(len(sorted), func(i int) bool { return sorted[i].Offset >= c.Start })

		var (
			sum []float64
			n   int
		)
		for i := lo; i < len(sorted) && sorted[i].Offset < c.End; i++ {
			v := sorted[i].Vector
			if sum == nil {
				sum = make([]float64, len(v))
			}
			if len(v) != len(sum) {
				return nil, fmt.Errorf("chunk %d: token vector has %d dimensions, want %d", c.Index, len(v), len(sum))
			}
			for d, x := range v {
				sum[d] += float64(x)
			}
			n++
		}
		if n == 0 {
			if lo == 0 {
				return nil, fmt.Errorf("chunk %d: no tokens in span [%d,%d)", c.Index, c.Start, c.End)
			}
			sum = make([]float64, len(sorted[lo-1].Vector))
			for d, x := range sorted[lo-1].Vector {
				sum[d] = float64(x)
			}
			n = 1
		}

		vec := make([]float32, len(sum))
		for d := range sum {
			vec[d] = float32(sum[d] / float64(n))
		}
		out = append(out, models.EmbeddingResult{
			DocumentID: c.DocumentID,
			ChunkIndex: c.Index,
			Text:       c.Text,
			Start:      c.Start,
			End:        c.End,
			Embedding:  vec,
		})
	}
	return out, nil
}

// estimateTokens is the pre-flight size check against the context window.
func estimateTokens(text string) int {
	return chunking.ApproxTokens(text)
}
