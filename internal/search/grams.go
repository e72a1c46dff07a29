package search

import "strings"

type gramSet map[string]struct{}

// wordGrams collects the rune trigrams of every word of s. Each word is
// padded with one space on both sides so prefixes and suffixes count.
func wordGrams(s string) gramSet {
	set := gramSet{}
	for _, w := range strings.Fields(s) {
		r := []rune(" " + w + " ")
		for i := 0; i+3 <= len(r); i++ {
			set[string(r[i:i+3])] = struct{}{}
		}
	}
	return set
}

// coverage is the share of q found in in, |q ∩ in| / |q|. Unlike Jaccard
// it does not punish a short query against a long title.
func (q gramSet) coverage(in gramSet) float64 {
	if len(q) == 0 {
		return 0
	}
	n := 0
	for g := range q {
		if _, ok := in[g]; ok {
			n++
		}
	}
	return float64(n) / float64(len(q))
}
