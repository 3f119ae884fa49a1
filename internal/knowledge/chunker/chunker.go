package chunker

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/eventops/knowledge-service/internal/knowledge/kberr"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// Candidate is one chunk produced by the Chunker, before embedding and
// persistence. ChunkIndex is dense and 0-based.
type Candidate struct {
	Content    string
	ChunkIndex int
}

// Chunker splits plain text into overlapping, bounded-length segments,
// preferring paragraph and sentence boundaries. Chunking is a pure function:
// identical input and parameters always produce an identical chunk sequence,
// which is required for idempotent re-ingestion.
type Chunker struct {
	maxSize int // maximum chunk length in runes
	overlap int // runes shared between neighbouring chunks
}

// New creates a Chunker. An overlap greater than or equal to maxSize would
// never make forward progress and is rejected as a configuration error.
func New(maxSize, overlap int) (*Chunker, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("%w: maxSize must be positive, got %d", kberr.ErrInvalidInput, maxSize)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("%w: overlap must not be negative, got %d", kberr.ErrInvalidInput, overlap)
	}
	if overlap >= maxSize {
		return nil, fmt.Errorf("%w: overlap %d must be smaller than maxSize %d", kberr.ErrInvalidInput, overlap, maxSize)
	}
	return &Chunker{maxSize: maxSize, overlap: overlap}, nil
}

// Chunk walks the text with a sliding window of maxSize runes. Each window's
// end is pulled back to the nearest preceding paragraph or sentence boundary
// when one exists within the lookback region, and the next window starts
// overlap runes before the previous window's end. Whitespace runs are
// collapsed to a single space and the result trimmed before emission; chunks
// that are empty after trimming are dropped. Empty input yields zero chunks.
func (c *Chunker) Chunk(text string) []Candidate {
	runes := []rune(text)
	if len(strings.TrimSpace(text)) == 0 {
		return nil
	}

	lookback := c.maxSize / 4

	var chunks []Candidate
	start := 0
	for start < len(runes) {
		end := start + c.maxSize
		if end >= len(runes) {
			end = len(runes)
		} else if b := boundaryBefore(runes, end-lookback, end); b > start {
			end = b
		}

		content := normalize(string(runes[start:end]))
		if content != "" {
			chunks = append(chunks, Candidate{Content: content, ChunkIndex: len(chunks)})
		}

		if end == len(runes) {
			break
		}
		next := end - c.overlap
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks
}

// boundaryBefore finds the best split point in (lo, hi): the position right
// after a paragraph break if one exists, otherwise right after a sentence
// terminator or line break. Returns -1 when the region has no boundary.
func boundaryBefore(runes []rune, lo, hi int) int {
	if lo < 0 {
		lo = 0
	}
	for i := hi - 1; i > lo; i-- {
		if runes[i] == '\n' && runes[i-1] == '\n' {
			return i + 1
		}
	}
	for i := hi - 1; i > lo; i-- {
		switch runes[i] {
		case '.', '!', '?', '\n':
			return i + 1
		}
	}
	return -1
}

func normalize(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}
