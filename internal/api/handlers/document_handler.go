package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/Contexta/internal/models"
	"github.com/markdave123-py/Contexta/internal/services"
)

// DocumentReader is the read side of the result store.
type DocumentReader interface {
	Get(ctx context.Context, id string) (*models.Document, error)
	Chunks(ctx context.Context, id string) ([]models.DocumentChunk, error)
	Search(ctx context.Context, id, query string, limit int) ([]models.DocumentChunk, error)
}

type DocumentHandler struct {
	docs DocumentReader
}

func NewDocumentHandler(docs DocumentReader) *DocumentHandler {
	return &DocumentHandler{docs: docs}
}

func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.docs.Get(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) GetChunks(w http.ResponseWriter, r *http.Request) {
	chunks, err := h.docs.Chunks(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chunks)
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func (h *DocumentHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query must not be empty")
		return
	}
	chunks, err := h.docs.Search(r.Context(), chi.URLParam(r, "documentID"), req.Query, req.Limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chunks)
}

func (h *DocumentHandler) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, services.ErrDocumentNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
