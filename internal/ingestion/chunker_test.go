package ingestion

import (
	"strings"
	"testing"
)

func TestChunk_Empty(t *testing.T) {
	if got := Chunk(""); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestChunk_ShorterThanWindow(t *testing.T) {
	text := strings.Repeat("a", 100)
	chunks := Chunk(text)
	if len(chunks) != 1 || chunks[0] != text {
		t.Fatalf("expected a single chunk covering all input, got %v", chunks)
	}
}

func TestChunk_ExactWindow(t *testing.T) {
	text := strings.Repeat("a", WindowSize)
	chunks := Chunk(text)
	if len(chunks) != 1 || len(chunks[0]) != WindowSize {
		t.Fatalf("expected exactly one full window, got %d chunks", len(chunks))
	}
}

func TestChunk_SlidesWithOverlap(t *testing.T) {
	text := strings.Repeat("a", WindowSize) + strings.Repeat("b", WindowSize)
	chunks := Chunk(text)
	if len(chunks) < 2 {
		t.Fatalf("expected at least two chunks, got %d", len(chunks))
	}
	if len(chunks[0]) != WindowSize {
		t.Fatalf("first chunk should be a full window, got %d bytes", len(chunks[0]))
	}
	// Every char of text must be covered by some chunk.
	last := chunks[len(chunks)-1]
	if !strings.HasSuffix(text, last) {
		t.Fatalf("last chunk %q isn't a suffix of the source text", last)
	}
}

func TestChunk_NoDataLoss(t *testing.T) {
	text := strings.Repeat("x", WindowSize*3+50)
	chunks := Chunk(text)
	covered := make([]bool, len(text))
	start := 0
	for _, c := range chunks {
		idx := strings.Index(text[start:], c)
		if idx < 0 {
			// overlapping windows can repeat; search from 0 as a fallback
			idx = strings.Index(text, c)
		}
		for i := 0; i < len(c); i++ {
			covered[idx+i] = true
		}
	}
	for i, ok := range covered {
		if !ok {
			t.Fatalf("byte %d of source text not covered by any chunk", i)
		}
	}
}

func TestChunk_StopsOnUndersizedTail(t *testing.T) {
	// window + a tail smaller than the overlap: should not produce a
	// separate near-empty trailing chunk.
	text := strings.Repeat("a", WindowSize) + strings.Repeat("b", Overlap-10)
	chunks := Chunk(text)
	last := chunks[len(chunks)-1]
	if !strings.HasSuffix(last, strings.Repeat("b", Overlap-10)) {
		t.Fatalf("expected the short tail folded into the last chunk, got %q", last)
	}
}
