package markdown

import (
	"sort"
	"strings"
)

// FenceRegion is a half-open character range [Start, End) covering one
// fenced code block, including its opening and closing fence lines.
type FenceRegion struct {
	Start int
	End   int
	Lang  string
}

// line is one physical line of the source text, with its half-open
// character range including the trailing newline (or EOF for the last line).
type line struct {
	start, end int
	text       string
}

func splitLines(text string) []line {
	var lines []line
	start := 0
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			lines = append(lines, line{start: start, end: i + 1, text: text[start : i+1]})
			start = i + 1
		}
	}
	if start < len(text) {
		lines = append(lines, line{start: start, end: len(text), text: text[start:]})
	}
	return lines
}

// fenceOpen reports whether trimmed is a fence-opening line: at most 3
// leading spaces, then a run of 3+ backticks or tildes. Returns the fence
// char, run length, and language tag (first whitespace-delimited token
// after the fence run).
func fenceOpen(text string) (ch byte, runLen int, lang string, ok bool) {
	i := 0
	spaces := 0
	for i < len(text) && text[i] == ' ' {
		spaces++
		i++
	}
	if spaces > 3 || i >= len(text) {
		return 0, 0, "", false
	}
	c := text[i]
	if c != '`' && c != '~' {
		return 0, 0, "", false
	}
	j := i
	for j < len(text) && text[j] == c {
		j++
	}
	run := j - i
	if run < 3 {
		return 0, 0, "", false
	}
	rest := strings.TrimSpace(text[j:])
	fields := strings.Fields(rest)
	if len(fields) > 0 {
		lang = fields[0]
	}
	return c, run, lang, true
}

// fenceClose reports whether trimmed is a valid closing line for a fence of
// the given char and minimum run length: same char, equal-or-greater run,
// and no trailing non-space content.
func fenceClose(text string, ch byte, minLen int) bool {
	trimmed := strings.TrimRight(strings.TrimSuffix(text, "\n"), " \t")
	i := 0
	spaces := 0
	for i < len(trimmed) && trimmed[i] == ' ' {
		spaces++
		i++
	}
	if spaces > 3 || i >= len(trimmed) {
		return false
	}
	j := i
	for j < len(trimmed) && trimmed[j] == ch {
		j++
	}
	run := j - i
	if run < minLen {
		return false
	}
	return j == len(trimmed)
}

// DetectFences scans normalized text line-by-line and returns the ordered,
// non-overlapping fenced code regions, per spec §4.1.
func DetectFences(text string) []FenceRegion {
	lines := splitLines(text)
	var regions []FenceRegion

	inFence := false
	var fenceChar byte
	var fenceLen int
	var fenceStart int
	var fenceLang string

	for _, ln := range lines {
		trimmedLine := strings.TrimSuffix(ln.text, "\n")
		if inFence {
			if fenceClose(trimmedLine, fenceChar, fenceLen) {
				regions = append(regions, FenceRegion{Start: fenceStart, End: ln.end, Lang: fenceLang})
				inFence = false
			}
			continue
		}
		if c, runLen, lang, ok := fenceOpen(trimmedLine); ok {
			inFence = true
			fenceChar = c
			fenceLen = runLen
			fenceStart = ln.start
			fenceLang = lang
		}
	}
	if inFence {
		regions = append(regions, FenceRegion{Start: fenceStart, End: len(text), Lang: fenceLang})
	}
	return regions
}

// Inside reports whether offset falls within any of the given fence regions.
// Regions must be sorted ascending by Start (as returned by DetectFences).
func Inside(regions []FenceRegion, offset int) bool {
	i := sort.Search(len(regions), func(i int) bool { return regions[i].End > offset })
	return i < len(regions) && regions[i].Start <= offset
}
