package chunker

import (
	"errors"
	"strings"
	"unicode"
)

// ErrConfig is returned for invalid chunking parameters: a non-positive
// window size, or an overlap that is not smaller than the window.
var ErrConfig = errors.New("invalid chunk settings")

// Piece is one chunk of a page's text, tagged for citation.
type Piece struct {
	Page    int
	Ordinal int
	Text    string
}

// isBoundary reports whether splitting just after this rune keeps a natural
// reading break: whitespace, sentence punctuation, or a closing bracket.
func isBoundary(r rune) bool {
	if unicode.IsSpace(r) {
		return true
	}
	switch r {
	case '.', '!', '?', ';', ',', ':', ')', ']', '}':
		return true
	}
	return false
}

// Split cuts text into windows of at most size runes, consecutive windows
// overlapping by overlap runes. It prefers to end a window just after the
// last boundary rune when the resulting chunk is at least size/3 runes,
// falling back to a hard cut. Empty or whitespace-only input yields nil.
func Split(text string, size, overlap int) ([]string, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, ErrConfig
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	runes := []rune(text)
	if size > len(runes) {
		size = len(runes)
	}
	if overlap > size-1 {
		overlap = size - 1
	}
	minBoundaryLen := size / 3

	var out []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}

		for i := end - 1; i >= start; i-- {
			if isBoundary(runes[i]) {
				if i+1 > start && i+1-start >= minBoundaryLen {
					end = i + 1
				}
				break
			}
		}

		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			out = append(out, chunk)
		}

		if end == len(runes) {
			break
		}
		next := end - overlap
		if next <= start {
			// Boundary cuts shorter than the overlap must still advance.
			next = end
		}
		start = next
	}

	return out, nil
}

// Page chunks one page's text, assigning the page number and per-page
// ordinals (0-based, no gaps) to each piece.
func Page(page int, text string, size, overlap int) ([]Piece, error) {
	texts, err := Split(text, size, overlap)
	if err != nil {
		return nil, err
	}
	pieces := make([]Piece, 0, len(texts))
	for i, t := range texts {
		pieces = append(pieces, Piece{Page: page, Ordinal: i, Text: t})
	}
	return pieces, nil
}
