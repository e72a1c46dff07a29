package search

import (
	"cmp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/sahilm/fuzzy"
)

// Doc is one searchable record. Name matches at full weight, Context holds
// related names (the artist of an album, the album of a track) that match
// at contextWeight.
type Doc struct {
	Name    string
	Context []string
	// Tier breaks score ties, lower first.
	Tier int
}

// Match is the index of a matching Doc and its score, higher is better.
type Match struct {
	Index int
	Score float64
}

const (
	minCoverage   = 0.4
	containsBonus = 0.5
	exactBonus    = 0.25
	contextWeight = 0.6

	// fuzzyWeight keeps subsequence hits below the weakest trigram hit,
	// minCoverage * contextWeight.
	fuzzyWeight = 0.2
)

type field struct {
	text  string
	words []string
	grams gramSet
}

func newField(s string) field {
	text := Fold(s)
	return field{text: text, words: strings.Fields(text), grams: wordGrams(text)}
}

// score rates one folded query word against f, zero on a miss. Words under
// three runes have no useful trigrams and match as a word prefix instead.
func (f field) score(word string, grams gramSet) float64 {
	if utf8.RuneCountInString(word) < 3 {
		for _, w := range f.words {
			if strings.HasPrefix(w, word) {
				return 1
			}
		}
		return 0
	}
	s := grams.coverage(f.grams)
	if s < minCoverage {
		return 0
	}
	if strings.Contains(f.text, word) {
		s += containsBonus
	}
	return s
}

type entry struct {
	name    field
	context []field
}

func newEntry(d Doc) entry {
	e := entry{name: newField(d.Name), context: make([]field, len(d.Context))}
	for i, c := range d.Context {
		e.context[i] = newField(c)
	}
	return e
}

// score averages the best field score of every query word. A word that
// hits no field rejects the entry.
func (e entry) score(query string, words []string, grams []gramSet) float64 {
	total := 0.0
	for i, w := range words {
		best := e.name.score(w, grams[i])
		for _, c := range e.context {
			best = max(best, contextWeight*c.score(w, grams[i]))
		}
		if best == 0 {
			return 0
		}
		total += best
	}
	s := total / float64(len(words))
	if e.name.text == query {
		s += exactBonus
	}
	return s
}

// Find scores docs against query by trigram coverage, then adds the
// subsequence matches (typed abbreviations such as "dsotm") the trigrams
// missed. Results are sorted by score, then Tier, then input order.
// A limit <= 0 returns every match. An empty query matches nothing.
func Find(query string, docs []Doc, limit int) []Match {
	q := Fold(query)
	if q == "" || len(docs) == 0 {
		return nil
	}
	words := strings.Fields(q)
	grams := make([]gramSet, len(words))
	for i, w := range words {
		grams[i] = wordGrams(w)
	}

	var matches []Match
	hit := make([]bool, len(docs))
	for i, d := range docs {
		if s := newEntry(d).score(q, words, grams); s > 0 {
			matches = append(matches, Match{Index: i, Score: s})
			hit[i] = true
		}
	}
	matches = append(matches, subsequences(q, docs, hit)...)

	slices.SortStableFunc(matches, func(a, b Match) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(docs[a.Index].Tier, docs[b.Index].Tier)
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// subsequences runs sahilm/fuzzy over the docs not already hit and scales
// its scores into (0, fuzzyWeight] against the best of the batch.
func subsequences(q string, docs []Doc, hit []bool) []Match {
	haystack := make([]string, len(docs))
	for i, d := range docs {
		haystack[i] = Fold(strings.Join(append([]string{d.Name}, d.Context...), " "))
	}
	found := fuzzy.Find(q, haystack)
	if len(found) == 0 {
		return nil
	}
	best := found[0].Score
	for _, f := range found {
		best = max(best, f.Score)
	}
	var out []Match
	for _, f := range found {
		if hit[f.Index] {
			continue
		}
		out = append(out, Match{Index: f.Index, Score: fuzzyWeight * relative(f.Score, best)})
	}
	return out
}

// relative maps a fuzzy score into (0, 1] against the best score of the batch.
func relative(score, best int) float64 {
	if best <= 0 {
		return 1
	}
	if score <= 0 {
		return 1 / float64(best+1)
	}
	return float64(score) / float64(best)
}
