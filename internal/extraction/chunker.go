package extraction

import (
	"fmt"
	"strings"
)

const (
	DefaultChunkSize    = 2000
	DefaultChunkOverlap = 400
)

type Chunk struct {
	Text  string
	Index int
}

// boundary candidates in preference order: paragraph break, sentence
// punctuation + newline, sentence punctuation + space, single newline,
// semicolon. Each entry is (separator, how much of it belongs to the left
// chunk).
var boundaryPrefs = []struct {
	sep  string
	keep int
}{
	{"\n\n", 0},
	{".\n", 1}, {"!\n", 1}, {"?\n", 1},
	{". ", 1}, {"! ", 1}, {"? ", 1},
	{"\n", 0},
	{";", 1},
}

// ChunkDocument splits content into overlapping chunks and prefixes the
// first chunk with a short provenance header so the embedding carries the
// document's title and author.
func ChunkDocument(title, author, content string) []Chunk {
	pieces := SplitText(content, DefaultChunkSize, DefaultChunkOverlap)
	if len(pieces) == 0 {
		return nil
	}

	header := buildHeader(title, author)
	out := make([]Chunk, 0, len(pieces))
	for i, p := range pieces {
		text := p
		if i == 0 && header != "" {
			text = header + text
		}
		out = append(out, Chunk{Text: text, Index: i})
	}
	return out
}

func buildHeader(title, author string) string {
	var b strings.Builder
	if strings.TrimSpace(title) != "" {
		fmt.Fprintf(&b, "Title: %s\n", strings.TrimSpace(title))
	}
	if strings.TrimSpace(author) != "" {
		fmt.Fprintf(&b, "From: %s\n", strings.TrimSpace(author))
	}
	if b.Len() == 0 {
		return ""
	}
	b.WriteString("\n")
	return b.String()
}

// SplitText produces overlapping pieces of at most size characters. A break
// point is only accepted past 50% of the target so chunks do not degenerate;
// when no boundary qualifies the chunk cuts hard at size.
func SplitText(content string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
		if overlap >= size {
			overlap = size / 5
		}
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	var out []string
	start := 0
	n := len(content)

	for start < n {
		end := start + size
		if end >= n {
			piece := strings.TrimSpace(content[start:])
			if piece != "" {
				out = append(out, piece)
			}
			break
		}

		actualEnd := findBreak(content, start, end)

		piece := strings.TrimSpace(content[start:actualEnd])
		if piece != "" {
			out = append(out, piece)
		}

		next := actualEnd - overlap
		if next <= start {
			// forward progress guarantee
			next = actualEnd
		}
		start = next
	}
	return out
}

// findBreak returns the cut position inside (start, end]. Boundary kinds are
// tried strictly in preference order; within one kind the latest occurrence
// wins. Only positions past the midpoint of the window qualify.
func findBreak(content string, start, end int) int {
	window := content[start:end]
	minPos := len(window) / 2

	for _, pref := range boundaryPrefs {
		idx := strings.LastIndex(window, pref.sep)
		if idx > minPos {
			return start + idx + pref.keep
		}
	}
	return end
}
