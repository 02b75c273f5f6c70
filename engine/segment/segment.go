// Package segment splits extracted document text into overlapping windows.
package segment

import (
	"strings"

	"github.com/WessleyAI/docqa/engine/domain"
)

const (
	// DefaultSize is the window length in characters.
	DefaultSize = 1000
	// DefaultOverlap is the number of characters shared by consecutive windows.
	DefaultOverlap = 200
)

// Window is the [Start, End) rune range of one raw window before trimming.
type Window struct {
	Start int
	End   int
}

// Segmenter holds a validated size/overlap pair.
type Segmenter struct {
	Size    int
	Overlap int
}

// Default returns a Segmenter with DefaultSize and DefaultOverlap.
func Default() Segmenter {
	return Segmenter{Size: DefaultSize, Overlap: DefaultOverlap}
}

// New validates size and overlap and returns a Segmenter.
func New(size, overlap int) (Segmenter, error) {
	if err := domain.ValidateChunkParams(size, overlap); err != nil {
		return Segmenter{}, err
	}
	return Segmenter{Size: size, Overlap: overlap}, nil
}

// Split cuts text into chunks using the Segmenter's parameters.
func (s Segmenter) Split(text string) ([]string, error) {
	return Split(text, s.Size, s.Overlap)
}

// Windows returns the raw window offsets for text, in runes.
// Windows whose trimmed content is empty are included.
func (s Segmenter) Windows(text string) ([]Window, error) {
	if err := domain.ValidateChunkParams(s.Size, s.Overlap); err != nil {
		return nil, err
	}
	return windows(len([]rune(text)), s.Size, s.Overlap), nil
}

// Split cuts text into windows of size characters, each starting
// size-overlap characters after the previous one. Every window is trimmed of
// surrounding whitespace and dropped if nothing remains. Positions are
// counted in runes. The result is a pure function of its inputs.
func Split(text string, size, overlap int) ([]string, error) {
	if err := domain.ValidateChunkParams(size, overlap); err != nil {
		return nil, err
	}
	if text == "" {
		return nil, nil
	}

	runes := []rune(text)
	var chunks []string
	for _, w := range windows(len(runes), size, overlap) {
		chunk := strings.TrimSpace(string(runes[w.Start:w.End]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
	}
	return chunks, nil
}

func windows(n, size, overlap int) []Window {
	var out []Window
	step := size - overlap
	for start := 0; start < n; start += step {
		out = append(out, Window{Start: start, End: min(start+size, n)})
	}
	return out
}
