// Package catalog records metadata about ingested documents.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/WessleyAI/docqa/engine/domain"
	"github.com/WessleyAI/docqa/pkg/repo"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// Catalog stores one Document per doc_id. Lookups of unknown ids return
// domain.ErrDocumentNotFound.
type Catalog interface {
	Save(ctx context.Context, doc domain.Document) error
	Get(ctx context.Context, docID string) (domain.Document, error)
	List(ctx context.Context, offset, limit int) ([]domain.Document, error)
}

// Label is the Neo4j node label for documents.
const Label = "Document"

// Neo4j is a Catalog backed by :Document nodes.
type Neo4j struct {
	repo *repo.Neo4jRepo[domain.Document, string]
}

var _ Catalog = (*Neo4j)(nil)

// NewNeo4j creates a Neo4j catalog on driver.
func NewNeo4j(driver neo4j.DriverWithContext) (*Neo4j, error) {
	r, err := repo.NewNeo4jRepo[domain.Document, string](
		driver, Label, documentToMap, documentFromRecord,
		repo.WithIDKey[domain.Document, string]("doc_id"),
	)
	if err != nil {
		return nil, err
	}
	return &Neo4j{repo: r}, nil
}

// Init creates the doc_id uniqueness constraint.
func (c *Neo4j) Init(ctx context.Context) error {
	return c.repo.EnsureConstraint(ctx)
}

func (c *Neo4j) Save(ctx context.Context, doc domain.Document) error {
	if _, err := c.repo.Upsert(ctx, doc); err != nil {
		return fmt.Errorf("catalog: save %s: %w", doc.DocID, err)
	}
	return nil
}

func (c *Neo4j) Get(ctx context.Context, docID string) (domain.Document, error) {
	doc, err := c.repo.Get(ctx, docID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Document{}, fmt.Errorf("catalog: %s: %w", docID, domain.ErrDocumentNotFound)
	}
	if err != nil {
		return domain.Document{}, fmt.Errorf("catalog: get %s: %w", docID, err)
	}
	return doc, nil
}

// List returns documents newest first.
func (c *Neo4j) List(ctx context.Context, offset, limit int) ([]domain.Document, error) {
	docs, err := c.repo.List(ctx, repo.ListOpts{Offset: offset, Limit: limit, OrderBy: "-created_at"})
	if err != nil {
		return nil, fmt.Errorf("catalog: list: %w", err)
	}
	return docs, nil
}

func documentToMap(d domain.Document) map[string]any {
	return map[string]any{
		"doc_id":          d.DocID,
		"filename":        d.Filename,
		"document_length": int64(d.TotalLength),
		"total_chunks":    int64(d.TotalChunks),
		"stored_chunks":   int64(d.StoredChunks),
		"created_at":      d.CreatedAt.UTC(),
	}
}

func documentFromRecord(rec *neo4j.Record) (domain.Document, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return domain.Document{}, fmt.Errorf("catalog: decode: %w", err)
	}
	p := node.Props
	doc := domain.Document{
		DocID:        str(p["doc_id"]),
		Filename:     str(p["filename"]),
		TotalLength:  integer(p["document_length"]),
		TotalChunks:  integer(p["total_chunks"]),
		StoredChunks: integer(p["stored_chunks"]),
	}
	switch v := p["created_at"].(type) {
	case time.Time:
		doc.CreatedAt = v
	case string:
		doc.CreatedAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	if doc.DocID == "" {
		return domain.Document{}, errors.New("catalog: decode: node without doc_id")
	}
	return doc, nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func integer(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

// Memory is an in-process Catalog.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]domain.Document
}

var _ Catalog = (*Memory)(nil)

// NewMemory creates an empty Memory catalog.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]domain.Document)}
}

func (m *Memory) Save(_ context.Context, doc domain.Document) error {
	if doc.DocID == "" {
		return domain.NewValidationError("doc_id", "", domain.ErrInvalidParameter)
	}
	m.mu.Lock()
	m.docs[doc.DocID] = doc
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(_ context.Context, docID string) (domain.Document, error) {
	m.mu.RLock()
	doc, ok := m.docs[docID]
	m.mu.RUnlock()
	if !ok {
		return domain.Document{}, fmt.Errorf("catalog: %s: %w", docID, domain.ErrDocumentNotFound)
	}
	return doc, nil
}

// List returns documents newest first.
func (m *Memory) List(_ context.Context, offset, limit int) ([]domain.Document, error) {
	m.mu.RLock()
	docs := make([]domain.Document, 0, len(m.docs))
	for _, d := range m.docs {
		docs = append(docs, d)
	}
	m.mu.RUnlock()

	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.After(docs[j].CreatedAt)
		}
		return docs[i].DocID < docs[j].DocID
	})
	if limit <= 0 {
		limit = repo.DefaultListLimit
	}
	if offset < 0 || offset >= len(docs) {
		return nil, nil
	}
	return docs[offset:min(offset+limit, len(docs))], nil
}
