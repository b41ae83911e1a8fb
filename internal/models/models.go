package models

import (
	"time"
)

// RawText is the extracted UTF-8 text of one source.
// It only lives between extraction and chunking.
type RawText struct {
	DocumentID  string
	Source      string
	ContentType string
	Text        string
}

// Sentence is a span [Start, End) of the raw text; Text == raw[Start:End].
type Sentence struct {
	Start int
	End   int
	Text  string
}

// Chunk is one unit of text submitted for embedding.
//
// Index:      zero-based, contiguous position of the chunk inside its document.
// Start/End:  byte offsets of the span in the raw text (kept for late chunking).
// TokenCount: approximate token count of Text.
type Chunk struct {
	DocumentID string
	Index      int
	Text       string
	Start      int
	End        int
	TokenCount int
}

// Batch is an ordered group of chunks sent to the embedder in one call.
type Batch struct {
	DocumentID string
	Source     string
	Seq        int
	Chunks     []Chunk
}

// EmbeddingResult pairs a chunk with its vector.
type EmbeddingResult struct {
	DocumentID string    `json:"document_id"`
	Source     string    `json:"source"`
	ChunkIndex int       `json:"chunk_index"`
	Text       string    `json:"text"`
	Start      int       `json:"start"`
	End        int       `json:"end"`
	Embedding  []float32 `json:"embedding"`
}

// Record is what a streaming run delivers: the results of one completed
// batch, or an error tagged with the source it belongs to.
// SourceIndex is the position of Source in the run's input; Seq is -1 for
// errors that are not tied to a batch.
type Record struct {
	DocumentID  string            `json:"document_id"`
	Source      string            `json:"source"`
	SourceIndex int               `json:"source_index"`
	Seq         int               `json:"seq"`
	Results     []EmbeddingResult `json:"results,omitempty"`
	Err         error             `json:"-"`
}

// SourceFailure describes why a source did not fully succeed.
type SourceFailure struct {
	Source string `json:"source"`
	Stage  string `json:"stage"` // extract | chunk | embed
	Reason string `json:"reason"`
}

// RunSummary is the partial-success report of one pipeline run. Results
// counts embedding results handed to the consumer.
type RunSummary struct {
	Succeeded []string        `json:"succeeded"`
	Failed    []SourceFailure `json:"failed"`
	Chunks    int             `json:"chunks"`
	Results   int             `json:"results"`
}

// Document is the persisted record of an ingested source.
type Document struct {
	ID          string    `db:"id" json:"id"`
	Source      string    `db:"source" json:"source"`
	ContentType string    `db:"content_type" json:"content_type"`
	Status      string    `db:"status" json:"status"` // processing | ready | failed
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// DocumentChunk represents one embedded chunk row.
type DocumentChunk struct {
	ID          string    `db:"id" json:"id"`
	DocumentID  string    `db:"document_id" json:"document_id"`
	Text        string    `db:"text" json:"text"`
	Embedding   []float32 `db:"embedding" json:"embedding"` // pgvector column
	Position    int       `db:"position" json:"position"`
	StartOffset int       `db:"start_offset" json:"start_offset"`
	EndOffset   int       `db:"end_offset" json:"end_offset"`
	TokenCount  int       `db:"token_count" json:"token_count"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
