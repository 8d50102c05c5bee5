package extraction

import (
	"strings"
	"testing"
)

func TestSplitTextSentenceBoundaries(t *testing.T) {
	input := strings.Repeat("A. B. C. ", 556) // ~5000 chars
	input = strings.TrimSpace(input)

	chunks := SplitText(input, 2000, 400)
	if len(chunks) < 3 {
		t.Fatalf("expected at least 3 chunks for %d chars, got %d", len(input), len(chunks))
	}

	for i, c := range chunks {
		if len(c) > 2000 {
			t.Fatalf("chunk %d exceeds max size: %d", i, len(c))
		}
		if i < len(chunks)-1 {
			if len(c) < 1000 {
				t.Fatalf("chunk %d below half of target: %d", i, len(c))
			}
			if !strings.HasSuffix(c, ".") {
				t.Fatalf("chunk %d does not end at a sentence boundary: %q", i, c[len(c)-10:])
			}
		}
		if !strings.Contains(input, c) {
			t.Fatalf("chunk %d is not a substring of the input", i)
		}
	}

	// consecutive chunks overlap: the head of each chunk re-appears near the
	// tail of its predecessor
	for i := 1; i < len(chunks); i++ {
		head := chunks[i]
		if len(head) > 100 {
			head = head[:100]
		}
		if !strings.Contains(chunks[i-1], head) {
			t.Fatalf("chunk %d does not overlap its predecessor", i)
		}
	}

	// the input's tail must be covered
	tail := input[len(input)-50:]
	if !strings.Contains(chunks[len(chunks)-1], strings.TrimSpace(tail)) {
		t.Fatalf("last chunk does not cover the end of the input")
	}
}

func TestSplitTextShortContent(t *testing.T) {
	chunks := SplitText("just one short paragraph", 2000, 400)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0] != "just one short paragraph" {
		t.Fatalf("unexpected chunk: %q", chunks[0])
	}
}

func TestSplitTextEmpty(t *testing.T) {
	if chunks := SplitText("   ", 2000, 400); chunks != nil {
		t.Fatalf("expected nil for blank input, got %v", chunks)
	}
}

func TestSplitTextHardCutWithoutBoundary(t *testing.T) {
	input := strings.Repeat("x", 4500)
	chunks := SplitText(input, 2000, 400)
	for i, c := range chunks {
		if len(c) > 2000 {
			t.Fatalf("chunk %d exceeds max size: %d", i, len(c))
		}
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
}

func TestChunkDocumentHeader(t *testing.T) {
	chunks := ChunkDocument("Q3 Plan", "ana@example.com", "The plan is simple.")
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	want := "Title: Q3 Plan\nFrom: ana@example.com\n\nThe plan is simple."
	if chunks[0].Text != want {
		t.Fatalf("unexpected first chunk:\n%q\nwant\n%q", chunks[0].Text, want)
	}
	if chunks[0].Index != 0 {
		t.Fatalf("unexpected index %d", chunks[0].Index)
	}
}

func TestChunkDocumentNoHeader(t *testing.T) {
	chunks := ChunkDocument("", "", "bare content")
	if len(chunks) != 1 || chunks[0].Text != "bare content" {
		t.Fatalf("unexpected chunks: %+v", chunks)
	}
}
