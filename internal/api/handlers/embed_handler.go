package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/markdave123-py/Contexta/internal/core"
	"github.com/markdave123-py/Contexta/internal/core/ingestion_engine"
	"github.com/markdave123-py/Contexta/internal/models"
)

// Ingester persists a run. services.IngestService implements it.
type Ingester interface {
	Ingest(ctx context.Context, sources []string) (*models.RunSummary, error)
}

type EmbedHandler struct {
	ingestor ingestion_engine.Ingestor
	store    Ingester
	guard    SourceGuard
	log      *zap.Logger
}

// NewEmbedHandler wires the streaming and ingest endpoints. store may be nil
// when no database is configured; /ingest then answers 503. A nil guard
// allows object storage sources only.
func NewEmbedHandler(ing ingestion_engine.Ingestor, store Ingester, guard SourceGuard, log *zap.Logger) *EmbedHandler {
	if log == nil {
		log = zap.NewNop()
	}
	if guard == nil {
		guard = RootedSources{}
	}
	return &EmbedHandler{ingestor: ing, store: store, guard: guard, log: log}
}

type sourcesRequest struct {
	Sources []string `json:"sources"`
}

// readSources decodes the request body and vets its sources, answering 400
// itself when they are unusable.
func (h *EmbedHandler) readSources(w http.ResponseWriter, r *http.Request) ([]string, bool) {
	var req sourcesRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return nil, false
	}
	sources := req.clean()
	if len(sources) == 0 {
		writeError(w, http.StatusBadRequest, "sources must not be empty")
		return nil, false
	}
	allowed, err := allowSources(h.guard, sources)
	if err != nil {
		h.log.Warn("source refused", zap.Error(err))
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return allowed, true
}

func (req *sourcesRequest) clean() []string {
	out := make([]string, 0, len(req.Sources))
	for _, s := range req.Sources {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// recordLine is one NDJSON line of a stream: a delivered batch or an error.
type recordLine struct {
	Type string `json:"type"`
	models.Record
	Error string `json:"error,omitempty"`
}

type summaryLine struct {
	Type    string             `json:"type"`
	Summary *models.RunSummary `json:"summary"`
	Error   string             `json:"error,omitempty"`
}

// Embed streams NDJSON: one line per delivered batch or failure, then a
// summary line. A client disconnect cancels the run.
func (h *EmbedHandler) Embed(w http.ResponseWriter, r *http.Request) {
	sources, ok := h.readSources(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)

	run := h.ingestor.Stream(ctx, sources)
	for rec := range run.Records() {
		line := recordLine{Type: "batch", Record: rec}
		if rec.Err != nil {
			line.Type = "error"
			line.Error = rec.Err.Error()
		}
		if err := enc.Encode(line); err != nil {
			h.log.Warn("stream write failed", zap.Error(err))
			cancel()
			break
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	summary, err := run.Wait()
	if ctx.Err() != nil && r.Context().Err() != nil {
		return
	}
	out := summaryLine{Type: "summary", Summary: summary}
	if err != nil {
		out.Error = err.Error()
	}
	_ = enc.Encode(out)
	if flusher != nil {
		flusher.Flush()
	}
}

// Ingest runs the pipeline into the database and answers with the summary.
func (h *EmbedHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no result store configured")
		return
	}
	sources, ok := h.readSources(w, r)
	if !ok {
		return
	}

	summary, err := h.store.Ingest(r.Context(), sources)
	switch {
	case errors.Is(err, core.ErrAllSourcesFailed):
		writeJSON(w, http.StatusUnprocessableEntity, summaryLine{Type: "summary", Summary: summary, Error: err.Error()})
	case err != nil:
		h.log.Error("ingest failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, summaryLine{Type: "summary", Summary: summary})
	}
}
