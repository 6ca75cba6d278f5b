package chunk

import (
	"regexp"

	"github.com/ostanlabs/msrl/internal/markdown"
)

// atom is one indivisible piece of content: either an entire fenced region
// or a paragraph. Atoms tile their containing range contiguously with no
// gaps, so any contiguous run of atoms is a valid chunk slice.
type atom struct {
	start, end int
	isFence    bool
}

var paragraphBreak = regexp.MustCompile(`\n[ \t]*\n+`)

// splitAtoms partitions text[start:end) into atoms, keeping fenced regions
// (clipped to the range) whole and splitting the remaining text on blank
// lines into paragraph atoms, per spec §4.3 step 2.
func splitAtoms(text string, start, end int, fences []markdown.FenceRegion) []atom {
	var atoms []atom
	cursor := start

	for _, f := range fences {
		fs, fe := f.Start, f.End
		if fe <= cursor || fs >= end {
			continue
		}
		if fs < cursor {
			fs = cursor
		}
		if fe > end {
			fe = end
		}
		if fs > cursor {
			atoms = append(atoms, paragraphAtoms(text, cursor, fs)...)
		}
		atoms = append(atoms, atom{start: fs, end: fe, isFence: true})
		cursor = fe
	}
	if cursor < end {
		atoms = append(atoms, paragraphAtoms(text, cursor, end)...)
	}
	return atoms
}

// paragraphAtoms splits text[start:end) into contiguous paragraph atoms at
// blank-line boundaries, with the separator retained in the preceding atom
// so the atoms tile the range with no gaps.
func paragraphAtoms(text string, start, end int) []atom {
	segment := text[start:end]
	breaks := paragraphBreak.FindAllStringIndex(segment, -1)
	if len(breaks) == 0 {
		return []atom{{start: start, end: end}}
	}
	var atoms []atom
	cursor := start
	for _, b := range breaks {
		brkEnd := start + b[1]
		atoms = append(atoms, atom{start: cursor, end: brkEnd})
		cursor = brkEnd
	}
	if cursor < end {
		atoms = append(atoms, atom{start: cursor, end: end})
	}
	return atoms
}
