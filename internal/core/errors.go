package core

import (
	"errors"
	"fmt"
)

var (
	// ErrContextLimitExceeded is matched by errors.Is when a document is too
	// large for a single-pass token embedding.
	ErrContextLimitExceeded = errors.New("context limit exceeded")

	// ErrAllSourcesFailed is returned by a run in which no source succeeded.
	ErrAllSourcesFailed = errors.New("all sources failed")
)

// ConfigError reports an invalid tunable. It is raised before any I/O.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config: " + e.Reason
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// NewConfigError is a small helper for validators.
func NewConfigError(field, reason string) error {
	return &ConfigError{Field: field, Reason: reason}
}

// ExtractionError reports a source whose text could not be extracted.
type ExtractionError struct {
	Source string
	Cause  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Source, e.Cause)
}

func (e *ExtractionError) Unwrap() error { return e.Cause }

// ChunkingError reports malformed or empty text after extraction.
type ChunkingError struct {
	Source string
	Cause  error
}

func (e *ChunkingError) Error() string {
	return fmt.Sprintf("chunk %s: %v", e.Source, e.Cause)
}

func (e *ChunkingError) Unwrap() error { return e.Cause }

// EmbeddingError reports a failed embedding call for one batch of a source.
// Batch is -1 for calls that are not tied to a batch (sentence encoding, late chunking).
type EmbeddingError struct {
	Source string
	Batch  int
	Cause  error
}

func (e *EmbeddingError) Error() string {
	if e.Batch < 0 {
		return fmt.Sprintf("embed %s: %v", e.Source, e.Cause)
	}
	return fmt.Sprintf("embed %s batch %d: %v", e.Source, e.Batch, e.Cause)
}

func (e *EmbeddingError) Unwrap() error { return e.Cause }

// ContextLimitError is the late-chunking specific failure: the whole
// document does not fit in the backend's context window.
type ContextLimitError struct {
	Source string
	Tokens int
	Limit  int
}

func (e *ContextLimitError) Error() string {
	return fmt.Sprintf("late chunking %s: document has ~%d tokens, limit is %d: %v",
		e.Source, e.Tokens, e.Limit, ErrContextLimitExceeded)
}

func (e *ContextLimitError) Is(target error) bool { return target == ErrContextLimitExceeded }
