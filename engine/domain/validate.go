package domain

import (
	"strconv"
	"strings"
)

// ValidateChunkParams checks a segmentation size/overlap pair.
// size must be positive and overlap must lie in [0, size).
func ValidateChunkParams(size, overlap int) error {
	if size <= 0 {
		return NewValidationError("chunk_size", strconv.Itoa(size), ErrInvalidParameter)
	}
	if overlap < 0 || overlap >= size {
		return NewValidationError("chunk_overlap", strconv.Itoa(overlap), ErrInvalidParameter)
	}
	return nil
}

// ValidateQuestion checks the inputs of a retrieval request.
func ValidateQuestion(question, docID string) error {
	if strings.TrimSpace(question) == "" {
		return NewValidationError("question", question, ErrInvalidQuery)
	}
	if strings.TrimSpace(docID) == "" {
		return NewValidationError("doc_id", docID, ErrInvalidQuery)
	}
	return nil
}

// ValidateUpload checks an upload before format detection.
func ValidateUpload(filename string, data []byte) error {
	if strings.TrimSpace(filename) == "" {
		return NewValidationError("filename", filename, ErrInvalidParameter)
	}
	if len(data) == 0 {
		return NewValidationError("file", filename, ErrInvalidParameter)
	}
	return nil
}
