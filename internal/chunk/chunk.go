// Package chunk splits raw document text into overlapping fixed-size pieces.
//
// The splitter is the first stage of ingestion: every piece it produces
// becomes one retrieval unit with its own embedding. Splitting is
// deterministic, so re-ingesting identical text always yields the identical
// piece sequence.
package chunk

import (
	"fmt"
	"unicode"
)

// Piece is one fragment of a document's text.
// Start and End are rune offsets into the original text, End exclusive.
type Piece struct {
	Text  string
	Start int
	End   int
}

// Splitter cuts text into pieces of at most Size runes with Overlap runes
// shared between consecutive pieces. Cuts prefer whitespace boundaries so
// words are not torn apart mid-token.
type Splitter struct {
	size    int
	overlap int
}

// NewSplitter creates a splitter. Size must be positive and overlap must be
// in [0, size) so every step makes forward progress.
func NewSplitter(size, overlap int) (*Splitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	return &Splitter{size: size, overlap: overlap}, nil
}

// Size returns the configured piece length in runes.
func (s *Splitter) Size() int { return s.size }

// Overlap returns the configured overlap in runes.
func (s *Splitter) Overlap() int { return s.overlap }

// Split cuts text into pieces. Empty or all-whitespace text yields nil.
func (s *Splitter) Split(text string) []Piece {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	var pieces []Piece
	pos := 0
	for pos < n {
		end := pos + s.size
		if end >= n {
			end = n
		} else {
			// Prefer cutting at whitespace. Search backwards from the window
			// end, but never shrink the piece below half the window or the
			// boundary search would produce degenerate slivers.
			cut := end
			limit := pos + s.size/2
			for cut > limit && !unicode.IsSpace(runes[cut-1]) {
				cut--
			}
			if cut > limit {
				end = cut
			}
		}

		if piece, ok := trimmedPiece(runes, pos, end); ok {
			pieces = append(pieces, piece)
		}

		if end >= n {
			break
		}
		next := end - s.overlap
		if next <= pos {
			// Overlap would revisit the same window; step past it.
			next = end
		}
		pos = next
	}

	return pieces
}

// trimmedPiece strips surrounding whitespace from runes[start:end] while
// keeping offsets pointing at the retained text. Returns false when the
// window is whitespace only.
func trimmedPiece(runes []rune, start, end int) (Piece, bool) {
	for start < end && unicode.IsSpace(runes[start]) {
		start++
	}
	for end > start && unicode.IsSpace(runes[end-1]) {
		end--
	}
	if start == end {
		return Piece{}, false
	}
	return Piece{Text: string(runes[start:end]), Start: start, End: end}, true
}
