// Package extract detects upload formats and turns uploads into plain text.
package extract

import (
	"path/filepath"
	"strings"

	"github.com/WessleyAI/docqa/engine/domain"
	"github.com/gabriel-vasile/mimetype"
)

// Format is a supported upload format.
type Format string

const (
	FormatText Format = "text"
	FormatPDF  Format = "pdf"
)

var textExts = map[string]bool{".txt": true, ".md": true, ".markdown": true, ".text": true}

// Detect classifies an upload from its content, using the filename
// extension only to break ties. A file named .pdf whose bytes are not a PDF
// is rejected.
func Detect(filename string, data []byte) (Format, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	mt := mimetype.Detect(data)

	if mt.Is("application/pdf") {
		return FormatPDF, nil
	}
	if ext == ".pdf" {
		return "", domain.NewValidationError("file", mt.String(), domain.ErrUnsupportedFormat)
	}
	if isText(mt) {
		return FormatText, nil
	}
	return "", domain.NewValidationError("file", mt.String(), domain.ErrUnsupportedFormat)
}

// MIME returns the detected MIME type of data.
func MIME(data []byte) string {
	return mimetype.Detect(data).String()
}

func isText(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

// SupportedExtension reports whether filename has an extension the
// upload endpoint advertises.
func SupportedExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".pdf" || textExts[ext]
}
