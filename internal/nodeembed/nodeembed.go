// Package nodeembed implements the NodeEmbedder (C8): deriving a heading
// node's own vector from its descendant leaf vectors via MMR representative
// selection, per spec §4.8.
package nodeembed

import "math"

// Lambda is the MMR relevance/diversity trade-off from spec §4.8.
const Lambda = 0.7

// SelectionCount returns the adaptive MMR selection count k for n leaves,
// per spec §4.8: k = clamp(ceil(n/5), 2, 5), k=1 when n=1.
func SelectionCount(n int) int {
	if n <= 0 {
		return 0
	}
	if n == 1 {
		return 1
	}
	k := (n + 4) / 5
	if k < 2 {
		k = 2
	}
	if k > 5 {
		k = 5
	}
	if k > n {
		k = n
	}
	return k
}

// NodeVector computes a heading node's vector from its leaves' vectors, per
// spec §4.8: MMR-select k representative leaves, then return the
// L2-normalized mean of the selected vectors. Leaves must already be
// L2-normalized (per C5's contract); NodeVector does not validate this.
func NodeVector(leaves [][]float32) []float32 {
	if len(leaves) == 0 {
		return nil
	}
	if len(leaves) == 1 {
		return normalizedCopy(leaves[0])
	}

	k := SelectionCount(len(leaves))
	if k >= len(leaves) {
		return normalizedMean(leaves)
	}

	selected := selectMMR(leaves, k)
	chosen := make([][]float32, len(selected))
	for i, idx := range selected {
		chosen[i] = leaves[idx]
	}
	return normalizedMean(chosen)
}

// selectMMR runs MMR selection over leaves, returning the indices of the k
// chosen vectors in selection order, per spec §4.8 steps (a)-(c).
func selectMMR(leaves [][]float32, k int) []int {
	centroid := mean(leaves)
	normalize(centroid)

	seed := 0
	bestSim := -2.0
	for i, v := range leaves {
		sim := cosine(v, centroid)
		if sim > bestSim {
			bestSim = sim
			seed = i
		}
	}

	selected := []int{seed}
	selectedSet := map[int]bool{seed: true}

	for len(selected) < k {
		best := -1
		bestScore := math.Inf(-1)
		for i, v := range leaves {
			if selectedSet[i] {
				continue
			}
			relevance := cosine(v, centroid)
			maxSimToSelected := -2.0
			for _, s := range selected {
				sim := cosine(v, leaves[s])
				if sim > maxSimToSelected {
					maxSimToSelected = sim
				}
			}
			score := Lambda*relevance - (1-Lambda)*maxSimToSelected
			if score > bestScore {
				bestScore = score
				best = i
			}
		}
		if best < 0 {
			break
		}
		selected = append(selected, best)
		selectedSet[best] = true
	}
	return selected
}

func mean(vectors [][]float32) []float32 {
	dims := len(vectors[0])
	sum := make([]float64, dims)
	for _, v := range vectors {
		for i, x := range v {
			sum[i] += float64(x)
		}
	}
	out := make([]float32, dims)
	for i, s := range sum {
		out[i] = float32(s / float64(len(vectors)))
	}
	return out
}

func normalizedMean(vectors [][]float32) []float32 {
	m := mean(vectors)
	normalize(m)
	return m
}

func normalizedCopy(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	normalize(out)
	return out
}

func normalize(v []float32) {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
