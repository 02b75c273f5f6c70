package ingest

import (
	"github.com/WessleyAI/docqa/engine/domain"
	"github.com/WessleyAI/docqa/engine/extract"
)

// Upload is a raw file entering the pipeline.
type Upload struct {
	DocID    string
	Filename string
	Data     []byte
	Format   extract.Format
}

// ExtractedDoc is an upload after text extraction.
type ExtractedDoc struct {
	DocID    string
	Filename string
	Text     string
	// Length is the number of characters in Text.
	Length int
}

// SegmentedDoc is an extracted document split into chunks.
type SegmentedDoc struct {
	ExtractedDoc
	Chunks []domain.Chunk
}

// ChunkError describes one chunk that could not be stored.
type ChunkError struct {
	Index int
	Err   error
}

// IngestResult summarizes one ingestion.
type IngestResult struct {
	DocID          string `json:"doc_id"`
	Filename       string `json:"filename"`
	TotalChunks    int    `json:"total_chunks"`
	StoredChunks   int    `json:"stored_chunks"`
	FailedChunks   int    `json:"failed_chunks"`
	DocumentLength int    `json:"document_length"`

	Failures []ChunkError `json:"-"`
}

// Complete reports whether every chunk was stored.
func (r IngestResult) Complete() bool { return r.FailedChunks == 0 }
