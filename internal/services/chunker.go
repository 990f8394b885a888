package services

import "strings"

const (
	chunkSize    = 800
	chunkOverlap = 100
)

// splitText slices content into overlapping chunks, preferring to break at a
// paragraph, then a newline, then a space, so chunks stay readable. Sizes are
// measured in runes, so multi-byte text never splits mid-character. Overlap
// keeps context that straddles a boundary retrievable from either side.
func splitText(content string, size, overlap int) []string {
	runes := []rune(strings.TrimSpace(content))
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= size {
		return []string{string(runes)}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			if chunk := strings.TrimSpace(string(runes[start:])); chunk != "" {
				chunks = append(chunks, chunk)
			}
			break
		}
		cut := breakPoint(runes[start:end])
		if cut <= overlap {
			// No good boundary; hard cut rather than degenerate tiny chunks.
			cut = size
		}
		chunk := strings.TrimSpace(string(runes[start : start+cut]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		next := start + cut - overlap
		if next <= start {
			next = start + cut
		}
		start = next
	}
	return chunks
}

// breakPoint finds the latest natural boundary in window, scanning for a
// paragraph break first, then a line break, then a space.
func breakPoint(window []rune) int {
	for i := len(window) - 1; i > 0; i-- {
		if window[i] == '\n' && window[i-1] == '\n' {
			return i + 1
		}
	}
	for i := len(window) - 1; i > 0; i-- {
		if window[i] == '\n' {
			return i + 1
		}
	}
	for i := len(window) - 1; i > 0; i-- {
		if window[i] == ' ' {
			return i + 1
		}
	}
	return len(window)
}
