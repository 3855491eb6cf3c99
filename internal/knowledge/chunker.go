// Package knowledge implements the durable, queryable index of literature
// chunks: overlapping text chunking, embedding, vector similarity search,
// and idempotent per-document ingestion with atomic replacement.
package knowledge

import (
	"strings"
)

// Chunker splits document text into overlapping chunks. The overlap keeps
// clinical statements from being cut mid-sentence at chunk boundaries.
type Chunker struct {
	targetSize int
	overlap    int
}

// DefaultChunkSize and DefaultChunkOverlap match the corpus the system was
// tuned against: 1000-rune chunks with 200 runes of overlap.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// NewChunker creates a chunker with the given target size and overlap.
// Non-positive values fall back to the defaults; overlap is clamped below
// the target size.
func NewChunker(targetSize, overlap int) *Chunker {
	if targetSize <= 0 {
		targetSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	if overlap >= targetSize {
		overlap = targetSize / 4
	}
	return &Chunker{targetSize: targetSize, overlap: overlap}
}

// Section is a heading-delimited region of a document.
type Section struct {
	Heading string
	Text    string
}

// Piece is one chunk of section text ready for embedding.
type Piece struct {
	Section string
	Text    string
}

// Split chunks a document into overlapping pieces, section by section.
// Markdown headings delimit sections and become chunk provenance metadata;
// documents without headings form a single unnamed section.
func (c *Chunker) Split(text string) []Piece {
	var pieces []Piece
	for _, section := range splitSections(text) {
		for _, chunk := range c.splitSection(section.Text) {
			pieces = append(pieces, Piece{Section: section.Heading, Text: chunk})
		}
	}
	return pieces
}

// splitSection cuts one section into overlapping chunks, preferring to break
// at paragraph, then sentence, then word boundaries near the target size.
func (c *Chunker) splitSection(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= c.targetSize {
		return []string{string(runes)}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + c.targetSize
		if end >= len(runes) {
			chunk := strings.TrimSpace(string(runes[start:]))
			if chunk != "" {
				chunks = append(chunks, chunk)
			}
			break
		}
		end = breakPoint(runes, start, end)
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		next := end - c.overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// boundary separators in preference order
var boundaries = []string{"\n\n", "\n", ". ", "。", "! ", "? ", " "}

// breakPoint finds the best split position at or before end, searching the
// back half of the window so chunks never collapse below half the target.
func breakPoint(runes []rune, start, end int) int {
	window := string(runes[start:end])
	minPos := (end - start) / 2
	for _, sep := range boundaries {
		if idx := strings.LastIndex(window, sep); idx >= 0 {
			pos := len([]rune(window[:idx])) + len([]rune(sep))
			if pos >= minPos {
				return start + pos
			}
		}
	}
	return end
}

// splitSections splits markdown text on heading lines.
func splitSections(text string) []Section {
	lines := strings.Split(text, "\n")
	var sections []Section
	current := Section{}
	var buf []string

	flush := func() {
		body := strings.TrimSpace(strings.Join(buf, "\n"))
		if body != "" {
			current.Text = body
			sections = append(sections, current)
		}
		buf = nil
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			flush()
			current = Section{Heading: strings.TrimSpace(strings.TrimLeft(trimmed, "# "))}
			continue
		}
		buf = append(buf, line)
	}
	flush()

	if len(sections) == 0 {
		body := strings.TrimSpace(text)
		if body != "" {
			sections = append(sections, Section{Text: body})
		}
	}
	return sections
}
