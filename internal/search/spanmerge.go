package search

import "sort"

// SpanCandidate is a scored character range within a document, the input
// to SpanMerger, per spec §4.11.
type SpanCandidate struct {
	DocURI    string
	StartChar int
	EndChar   int
	Score     float64
	LeafIDs   []string
}

// MergeSpans groups candidates by DocURI, sorts by StartChar, and merges
// runs where next.StartChar <= current.EndChar + gapThreshold. The merged
// span is the union of ranges, score = max, leafIds = union. Results are
// sorted by score descending across documents, per spec §4.11.
func MergeSpans(candidates []SpanCandidate, gapThreshold int) []SpanCandidate {
	byDoc := make(map[string][]SpanCandidate)
	for _, c := range candidates {
		byDoc[c.DocURI] = append(byDoc[c.DocURI], c)
	}

	var merged []SpanCandidate
	for docURI, spans := range byDoc {
		sort.Slice(spans, func(i, j int) bool { return spans[i].StartChar < spans[j].StartChar })

		cur := spans[0]
		for _, next := range spans[1:] {
			if next.StartChar <= cur.EndChar+gapThreshold {
				cur = unionSpan(cur, next)
				continue
			}
			merged = append(merged, cur)
			cur = next
		}
		merged = append(merged, cur)
		_ = docURI
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		if merged[i].DocURI != merged[j].DocURI {
			return merged[i].DocURI < merged[j].DocURI
		}
		return merged[i].StartChar < merged[j].StartChar
	})
	return merged
}

func unionSpan(a, b SpanCandidate) SpanCandidate {
	start := a.StartChar
	if b.StartChar < start {
		start = b.StartChar
	}
	end := a.EndChar
	if b.EndChar > end {
		end = b.EndChar
	}
	score := a.Score
	if b.Score > score {
		score = b.Score
	}
	return SpanCandidate{
		DocURI:    a.DocURI,
		StartChar: start,
		EndChar:   end,
		Score:     score,
		LeafIDs:   append(append([]string{}, a.LeafIDs...), b.LeafIDs...),
	}
}
