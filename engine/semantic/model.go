package semantic

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// DefaultTopK is used when a query asks for k <= 0.
const DefaultTopK = 5

// Payload keys stored alongside every vector.
const (
	keyContent    = "content"
	keyDocID      = "doc_id"
	keyFilename   = "filename"
	keyChunkIndex = "chunk_index"
)

// Record is one embedded chunk.
type Record struct {
	ID         string
	DocID      string
	Filename   string
	ChunkIndex int
	Text       string
	Embedding  []float32
}

// SearchResult represents a single vector search hit.
type SearchResult struct {
	ID         string  `json:"id"`
	DocID      string  `json:"doc_id"`
	Filename   string  `json:"filename"`
	ChunkIndex int     `json:"chunk_index"`
	Content    string  `json:"content"`
	Score      float32 `json:"score"`
}

// Store is the vector index used by ingestion and retrieval.
type Store interface {
	// Put inserts rec, replacing any record with the same doc_id and chunk_index.
	Put(ctx context.Context, rec Record) error
	// Query returns up to k records of docID, most similar first.
	Query(ctx context.Context, embedding []float32, docID string, k int) ([]SearchResult, error)
}

// Index is a Store that can also count and drop a document's records.
type Index interface {
	Store
	DeleteByDocID(ctx context.Context, docID string) error
	CountByDocID(ctx context.Context, docID string) (int, error)
}

// PointID returns the deterministic record id for a chunk of a document.
func PointID(docID string, chunkIndex int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s-%d", docID, chunkIndex))).String()
}

// NewRecord builds a Record with its id derived from docID and chunkIndex.
func NewRecord(docID, filename string, chunkIndex int, text string, embedding []float32) Record {
	return Record{
		ID:         PointID(docID, chunkIndex),
		DocID:      docID,
		Filename:   filename,
		ChunkIndex: chunkIndex,
		Text:       text,
		Embedding:  embedding,
	}
}

func normalizeK(k int) int {
	if k <= 0 {
		return DefaultTopK
	}
	return k
}

// rank drops hits belonging to other documents, orders the rest by
// decreasing score then ascending chunk index, and truncates to k.
func rank(results []SearchResult, docID string, k int) []SearchResult {
	out := results[:0]
	for _, r := range results {
		if r.DocID == docID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChunkIndex < out[j].ChunkIndex
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}
