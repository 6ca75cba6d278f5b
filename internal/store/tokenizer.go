package store

import "unicode"

// Tokenize splits leaf text into lowercase tokens for BM25 indexing,
// adapted from the teacher's code tokenizer: each run of letters and digits
// is one token and every other character (including '_') separates tokens,
// so snake_case identifiers are indexed by their parts. Letters are
// lowercased before any split, so a camelCase identifier stays one token.
func Tokenize(text string) []string {
	var tokens []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			tokens = append(tokens, string(cur))
			cur = cur[:0]
		}
	}
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			cur = append(cur, unicode.ToLower(r))
		} else {
			flush()
		}
	}
	flush()

	var out []string
	for _, t := range tokens {
		out = append(out, SplitWordToken(t)...)
	}
	return out
}

// SplitWordToken splits a single lowercase-folded token on underscore
// boundaries, returning the token itself plus its non-empty sub-parts so
// both granularities are indexed. It does not split camelCase or
// digit/letter transitions (e.g. "leaf2vec" stays whole).
func SplitWordToken(token string) []string {
	parts := splitOnRune(token, '_')
	out := []string{token}
	if len(parts) > 1 {
		for _, p := range parts {
			if p != "" && p != token {
				out = append(out, p)
			}
		}
	}
	return out
}

func splitOnRune(s string, sep rune) []string {
	var parts []string
	var cur []rune
	for _, r := range s {
		if r == sep {
			parts = append(parts, string(cur))
			cur = cur[:0]
			continue
		}
		cur = append(cur, r)
	}
	parts = append(parts, string(cur))
	return parts
}

// EnglishStopWords is the default stop-word set for the prose BM25 index,
// analogous to the teacher's DefaultCodeStopWords but for Markdown prose
// rather than source identifiers.
var EnglishStopWords = []string{
	"a", "an", "and", "are", "as", "at", "be", "but", "by",
	"for", "if", "in", "into", "is", "it", "no", "not", "of",
	"on", "or", "such", "that", "the", "their", "then", "there",
	"these", "they", "this", "to", "was", "will", "with",
}

// BuildStopWordMap returns words as a lookup set.
func BuildStopWordMap(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// FilterStopWords removes stop words from tokens, preserving order.
func FilterStopWords(tokens []string, stop map[string]struct{}) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, skip := stop[t]; skip {
			continue
		}
		out = append(out, t)
	}
	return out
}
