package chunk

import (
	"strconv"
	"strings"

	"github.com/ostanlabs/msrl/internal/idhash"
	"github.com/ostanlabs/msrl/internal/markdown"
	"github.com/ostanlabs/msrl/internal/shard"
)

// ChunkNode cuts node's own content (its text before its first child) into
// an ordered list of fence-safe, bounded chunks, per spec §4.3. text is the
// document's full normalized text; fences is the document's fence regions
// (from markdown.DetectFences), reused across nodes for efficiency.
func ChunkNode(docURI string, node *markdown.Node, text string, fences []markdown.FenceRegion, cfg Config) []Chunk {
	start, end := node.OwnContentRange(text)
	if start >= end || strings.TrimSpace(text[start:end]) == "" {
		return nil
	}

	atoms := splitAtoms(text, start, end, fences)
	if len(atoms) == 0 {
		return nil
	}

	ranges := accumulate(text, atoms, cfg)
	ranges = mergeSmallTail(ranges, cfg)

	chunks := make([]Chunk, 0, len(ranges))
	for _, r := range ranges {
		slice := text[r.start:r.end]
		chunks = append(chunks, Chunk{
			LeafID:      idhash.TruncatedHash(docURI, strconv.Itoa(r.start), strconv.Itoa(r.end)),
			DocURI:      docURI,
			NodeID:      node.ID,
			HeadingPath: node.HeadingPath,
			StartChar:   r.start,
			EndChar:     r.end,
			TextHash:    idhash.Hex([]byte(slice)),
			ShardID:     shard.For(docURI),
			TokenCount:  approxTokenCount(len(slice)),
		})
	}
	return chunks
}

type charRange struct{ start, end int }

// accumulate performs the greedy accumulation and overlap seeding from
// spec §4.3 steps 3-4.
func accumulate(text string, atoms []atom, cfg Config) []charRange {
	var ranges []charRange

	curStart := atoms[0].start
	curEnd := atoms[0].end
	curAtomStartIdx := 0
	curTokens := approxTokenCount(curEnd - curStart)

	for i := 1; i < len(atoms); i++ {
		a := atoms[i]
		aTokens := approxTokenCount(a.end - a.start)

		if curTokens+aTokens > cfg.TargetMax && curTokens > 0 {
			ranges = append(ranges, charRange{curStart, curEnd})

			want := curEnd - cfg.OverlapTokens*charsPerToken
			if want < curStart {
				want = curStart
			}
			overlapStart := findOverlapStart(text, atoms, curAtomStartIdx, i-1, want)

			curStart = overlapStart
			curEnd = a.end
			curAtomStartIdx = overlapAtomIndex(atoms, curAtomStartIdx, i-1, overlapStart)
			curTokens = approxTokenCount(curEnd - curStart)
			continue
		}

		curEnd = a.end
		curTokens += aTokens
	}
	ranges = append(ranges, charRange{curStart, curEnd})
	return ranges
}

// findOverlapStart aligns the overlap seed to the nearest atom boundary at
// or before want (within the just-emitted chunk's atoms); if no boundary is
// within a generous window, falls back to the nearest word boundary, and
// as a last resort to an exact cut at want. Atom boundaries are never
// inside a fenced atom, so this never lands mid-fence.
func findOverlapStart(text string, atoms []atom, fromIdx, toIdx, want int) int {
	best := -1
	for i := fromIdx; i <= toIdx; i++ {
		if atoms[i].start <= want {
			best = atoms[i].start
		} else {
			break
		}
	}
	if best >= 0 {
		return best
	}
	return nearestWordBoundary(text, want, atoms[fromIdx].start)
}

// overlapAtomIndex returns the atom index whose start equals overlapStart,
// used to re-anchor the accumulator's atom-index window after an overlap
// seed. Falls back to fromIdx if no exact match (word-boundary fallback).
func overlapAtomIndex(atoms []atom, fromIdx, toIdx, overlapStart int) int {
	for i := fromIdx; i <= toIdx; i++ {
		if atoms[i].start == overlapStart {
			return i
		}
	}
	return fromIdx
}

// nearestWordBoundary scans backward from want for whitespace, bounded
// below by floor; if none found, returns want (an exact token cut).
func nearestWordBoundary(text string, want, floor int) int {
	for i := want; i > floor; i-- {
		if i < len(text) && isWordBoundaryByte(text[i-1]) {
			return i
		}
	}
	return want
}

func isWordBoundaryByte(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t'
}

// mergeSmallTail implements spec §4.3 step 5: merge the final chunk into
// its predecessor when it's below MinPreferred tokens and the merge would
// not exceed HardMax.
func mergeSmallTail(ranges []charRange, cfg Config) []charRange {
	if len(ranges) < 2 {
		return ranges
	}
	last := ranges[len(ranges)-1]
	lastTokens := approxTokenCount(last.end - last.start)
	if lastTokens >= cfg.MinPreferred {
		return ranges
	}
	prev := ranges[len(ranges)-2]
	mergedTokens := approxTokenCount(last.end - prev.start)
	if mergedTokens > cfg.HardMax {
		return ranges
	}
	merged := append(ranges[:len(ranges)-2:len(ranges)-2], charRange{prev.start, last.end})
	return merged
}
