package domain

import "time"

// Document describes one ingested upload. It is written once, after all of
// its chunks have been attempted, and never changed afterwards.
type Document struct {
	DocID        string    `json:"doc_id"`
	Filename     string    `json:"filename"`
	TotalLength  int       `json:"document_length"`
	TotalChunks  int       `json:"total_chunks"`
	StoredChunks int       `json:"stored_chunks"`
	CreatedAt    time.Time `json:"created_at"`
}

// Chunk is one segment of a document's extracted text.
type Chunk struct {
	DocID string
	Index int
	Text  string
}
