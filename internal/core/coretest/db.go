package coretest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/markdave123-py/Contexta/internal/core"
	"github.com/markdave123-py/Contexta/internal/models"
)

// MemoryDB is an in-memory core.DbClient. FailInsertFor makes
// InsertDocumentChunks fail for the given document id.
type MemoryDB struct {
	FailInsertFor string

	mu       sync.Mutex
	docs     map[string]models.Document
	chunks   map[string]map[int]models.DocumentChunk
	statuses map[string][]string
	closed   bool
}

var _ core.DbClient = (*MemoryDB)(nil)

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		docs:     map[string]models.Document{},
		chunks:   map[string]map[int]models.DocumentChunk{},
		statuses: map[string][]string{},
	}
}

func (m *MemoryDB) CreateDocument(_ context.Context, doc *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := *doc
	d.CreatedAt, d.UpdatedAt = time.Now(), time.Now()
	m.docs[d.ID] = d
	m.statuses[d.ID] = append(m.statuses[d.ID], d.Status)
	return nil
}

func (m *MemoryDB) GetDocumentByID(_ context.Context, id string) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (m *MemoryDB) UpdateDocumentStatus(_ context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return fmt.Errorf("document not found: %s", id)
	}
	d.Status = status
	d.UpdatedAt = time.Now()
	m.docs[id] = d
	m.statuses[id] = append(m.statuses[id], status)
	return nil
}

func (m *MemoryDB) InsertDocumentChunks(_ context.Context, chunks []models.DocumentChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range chunks {
		if m.FailInsertFor != "" && ch.DocumentID == m.FailInsertFor {
			return fmt.Errorf("insert %s: disk full", ch.DocumentID)
		}
	}
	for _, ch := range chunks {
		if m.chunks[ch.DocumentID] == nil {
			m.chunks[ch.DocumentID] = map[int]models.DocumentChunk{}
		}
		m.chunks[ch.DocumentID][ch.Position] = ch
	}
	return nil
}

func (m *MemoryDB) GetChunksByDocument(_ context.Context, documentID string) ([]models.DocumentChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.DocumentChunk, 0, len(m.chunks[documentID]))
	for _, ch := range m.chunks[documentID] {
		out = append(out, ch)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Position < out[b].Position })
	return out, nil
}

// SearchDocumentChunks orders by Euclidean distance, like pgvector's <-> operator.
func (m *MemoryDB) SearchDocumentChunks(ctx context.Context, docID string, queryVec []float32, limit int) ([]models.DocumentChunk, error) {
	all, _ := m.GetChunksByDocument(ctx, docID)
	sort.SliceStable(all, func(a, b int) bool {
		return distance(all[a].Embedding, queryVec) < distance(all[b].Embedding, queryVec)
	})
	if limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (m *MemoryDB) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Statuses returns every status a document went through, in order.
func (m *MemoryDB) Statuses(id string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.statuses[id]...)
}

// Closed reports whether Close was called.
func (m *MemoryDB) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		if i >= len(b) {
			break
		}
		d := float64(a[i] - b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
