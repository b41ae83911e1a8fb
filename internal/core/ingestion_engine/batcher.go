package ingestion_engine

import (
	"github.com/markdave123-py/Contexta/internal/core"
	"github.com/markdave123-py/Contexta/internal/models"
)

// MakeBatches groups chunks, in order, into batches of batchSize; only the
// last batch may be smaller. No chunks yields no batches.
func MakeBatches(chunks []models.Chunk, batchSize int) ([]models.Batch, error) {
	if batchSize < 1 {
		return nil, core.NewConfigError("batch_size", "must be at least 1")
	}
	out := make([]models.Batch, 0, (len(chunks)+batchSize-1)/batchSize)
	for lo := 0; lo < len(chunks); lo += batchSize {
		hi := lo + batchSize
		if hi > len(chunks) {
			hi = len(chunks)
		}
		out = append(out, models.Batch{
			DocumentID: chunks[lo].DocumentID,
			Seq:        len(out),
			Chunks:     chunks[lo:hi:hi],
		})
	}
	return out, nil
}
