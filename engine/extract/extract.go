package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/WessleyAI/docqa/engine/domain"
	"github.com/ledongthuc/pdf"
)

// ErrUnreadable is returned when a supported file cannot be parsed.
var ErrUnreadable = errors.New("extract: unreadable document")

// Extractor turns an upload into plain text.
type Extractor interface {
	Extract(ctx context.Context, filename string, data []byte) (string, error)
}

// Default extracts plain text and PDF uploads.
type Default struct{}

// New returns the default Extractor.
func New() Default { return Default{} }

// Extract detects the format of data and returns its text. PDF extraction
// is best effort and may return an empty string.
func (Default) Extract(ctx context.Context, filename string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	format, err := Detect(filename, data)
	if err != nil {
		return "", err
	}
	switch format {
	case FormatPDF:
		return PDFText(data)
	case FormatText:
		return PlainText(data), nil
	default:
		return "", fmt.Errorf("extract: format %q: %w", format, domain.ErrUnsupportedFormat)
	}
}

// PlainText decodes data as UTF-8, replacing invalid sequences and
// dropping a leading byte order mark.
func PlainText(data []byte) string {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	return strings.ToValidUTF8(string(data), "�")
}

// PDFText returns the concatenated plain text of every page of a PDF.
func PDFText(data []byte) (text string, err error) {
	// The parser panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("%w: pdf: %v", ErrUnreadable, r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: pdf: %w", ErrUnreadable, err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("%w: pdf text: %w", ErrUnreadable, err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("%w: pdf read: %w", ErrUnreadable, err)
	}
	return strings.ToValidUTF8(buf.String(), "�"), nil
}
