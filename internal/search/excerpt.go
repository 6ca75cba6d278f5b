package search

import "strings"

// Excerpt is the result of ExcerptExtractor, per spec §4.11.
type Excerpt struct {
	Text      string
	Truncated bool
}

// ExtractExcerpt slices text[startChar:endChar) and, if it exceeds
// maxExcerptChars, truncates at the latest space position within
// [0.5*max, max] (falling back to a hard cut if no space is found there),
// per spec §4.11. The caller preserves the original startChar/endChar even
// when Truncated is true.
func ExtractExcerpt(text string, startChar, endChar, maxExcerptChars int) Excerpt {
	if startChar < 0 {
		startChar = 0
	}
	if endChar > len(text) {
		endChar = len(text)
	}
	if startChar >= endChar {
		return Excerpt{Text: "", Truncated: false}
	}

	slice := text[startChar:endChar]
	if len(slice) <= maxExcerptChars {
		return Excerpt{Text: slice, Truncated: false}
	}

	floor := maxExcerptChars / 2
	cut := maxExcerptChars
	window := slice[floor:maxExcerptChars]
	if idx := strings.LastIndexByte(window, ' '); idx >= 0 {
		cut = floor + idx
	}
	return Excerpt{Text: slice[:cut], Truncated: true}
}
