package semantic

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/WessleyAI/docqa/engine/domain"
)

// MemoryStore is an in-process Index using cosine similarity.
// Records are stored as immutable values, so a reader sees either the old
// record or the new one, never a mix.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

var _ Index = (*MemoryStore)(nil)

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Put stores a copy of rec.
func (m *MemoryStore) Put(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("semantic: put: %w: %w", domain.ErrStoreWrite, err)
	}
	if len(rec.Embedding) == 0 {
		return fmt.Errorf("semantic: put %s: empty embedding: %w", rec.ID, domain.ErrStoreWrite)
	}
	if rec.ID == "" {
		rec.ID = PointID(rec.DocID, rec.ChunkIndex)
	}
	rec.Embedding = slices.Clone(rec.Embedding)

	m.mu.Lock()
	m.records[rec.ID] = rec
	m.mu.Unlock()
	return nil
}

// Query scans the records of docID and returns the k closest to embedding.
func (m *MemoryStore) Query(ctx context.Context, embedding []float32, docID string, k int) ([]SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("semantic: query: %w: %w", domain.ErrStoreQuery, err)
	}
	k = normalizeK(k)

	m.mu.RLock()
	var results []SearchResult
	for _, r := range m.records {
		if r.DocID != docID {
			continue
		}
		results = append(results, SearchResult{
			ID:         r.ID,
			DocID:      r.DocID,
			Filename:   r.Filename,
			ChunkIndex: r.ChunkIndex,
			Content:    r.Text,
			Score:      cosine(embedding, r.Embedding),
		})
	}
	m.mu.RUnlock()

	return rank(results, docID, k), nil
}

// DeleteByDocID removes every record of docID.
func (m *MemoryStore) DeleteByDocID(_ context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.records {
		if r.DocID == docID {
			delete(m.records, id)
		}
	}
	return nil
}

// CountByDocID returns the number of records stored for docID.
func (m *MemoryStore) CountByDocID(_ context.Context, docID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.records {
		if r.DocID == docID {
			n++
		}
	}
	return n, nil
}

// cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or their lengths differ.
func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
