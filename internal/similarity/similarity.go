// Package similarity provides the pure scoring functions shared by dedup,
// consolidation, and the fuzzy search tier: token-set Jaccard, a
// character-sequence ratio, and cosine similarity over embedding vectors.
package similarity

import (
	"math"
	"strings"
)

// Jaccard returns the word-level Jaccard similarity of two strings in [0,1].
// Tokens are lowercased whitespace-separated words.
func Jaccard(a, b string) float64 {
	wa := tokenSet(a)
	wb := tokenSet(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	inter := 0
	for w := range wa {
		if _, ok := wb[w]; ok {
			inter++
		}
	}
	union := len(wa) + len(wb) - inter
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = struct{}{}
	}
	return set
}

// Ratio returns a character-sequence similarity in [0,1], computed as
// 2*M/T where M is the total length of matching blocks and T the combined
// length of both inputs. Both inputs are lowercased first. This mirrors the
// classic difflib SequenceMatcher ratio used for typo and partial-match
// recovery.
func Ratio(a, b string) float64 {
	a = strings.ToLower(a)
	b = strings.ToLower(b)
	la, lb := len(a), len(b)
	if la+lb == 0 {
		return 0
	}
	matches := matchingBlocks(a, b, 0, la, 0, lb)
	return 2 * float64(matches) / float64(la+lb)
}

// matchingBlocks recursively finds the longest matching block in
// a[alo:ahi] vs b[blo:bhi] and sums match lengths on either side of it.
func matchingBlocks(a, b string, alo, ahi, blo, bhi int) int {
	bi, bj, size := longestMatch(a, b, alo, ahi, blo, bhi)
	if size == 0 {
		return 0
	}
	total := size
	total += matchingBlocks(a, b, alo, bi, blo, bj)
	total += matchingBlocks(a, b, bi+size, ahi, bj+size, bhi)
	return total
}

// longestMatch finds the longest common substring of a[alo:ahi] and
// b[blo:bhi], preferring the earliest occurrence in a, then in b.
func longestMatch(a, b string, alo, ahi, blo, bhi int) (besti, bestj, bestsize int) {
	// b2j: positions of each byte in b[blo:bhi]
	b2j := make(map[byte][]int)
	for j := blo; j < bhi; j++ {
		b2j[b[j]] = append(b2j[b[j]], j)
	}
	besti, bestj = alo, blo
	// j2len[j] = length of longest match ending at a[i], b[j]
	j2len := make(map[int]int)
	for i := alo; i < ahi; i++ {
		newj2len := make(map[int]int)
		for _, j := range b2j[a[i]] {
			k := j2len[j-1] + 1
			newj2len[j] = k
			if k > bestsize {
				besti, bestj, bestsize = i-k+1, j-k+1, k
			}
		}
		j2len = newj2len
	}
	return besti, bestj, bestsize
}

// Cosine returns the cosine similarity of two vectors, or 0 when either has
// zero magnitude or the dimensions differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
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
