package ingestion

import "strings"

// WindowSize and Overlap are the fixed chunking parameters spec.md §4.I
// names literally: 400-character windows, 200-character (50%) overlap.
const (
	WindowSize = 400
	Overlap    = 200
)

// Chunk splits text into fixed-size, overlapping windows, stopping once a
// window reaches the end of the text. The last window therefore covers the
// tail, and no chunk after the first is shorter than the overlap.
func Chunk(text string) []string {
	if text == "" {
		return nil
	}
	var out []string
	start := 0
	n := len(text)
	for start < n {
		end := start + WindowSize
		if end > n {
			end = n
		}
		out = append(out, text[start:end])
		if end == n {
			break
		}
		start += WindowSize - Overlap
	}
	return out
}

// countChars reports the rune-agnostic byte length used for char_count —
// document text is already normalized to UTF-8 at extraction time, and
// byte length matches spec.md's "char" unit closely enough for storage
// bookkeeping without an extra rune-counting pass over every chunk.
func countChars(s string) int { return len(strings.TrimSpace(s)) }
