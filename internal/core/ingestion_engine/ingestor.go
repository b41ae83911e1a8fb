package ingestion_engine

import "context"

// Ingestor is what HTTP handlers, the CLI and services depend on.
type Ingestor interface {
	Stream(ctx context.Context, sources []string) *Run
	Run(ctx context.Context, sources []string) (*RunResult, error)
}

var _ Ingestor = (*Pipeline)(nil)
