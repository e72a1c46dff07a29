package search

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RemoveDiacritics removes accents from characters, so "cafe" matches "café".
func RemoveDiacritics(s string) string {
	// transform.Chain keeps state, build one per call
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Fold lowercases s, strips diacritics and collapses runs of whitespace.
func Fold(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(RemoveDiacritics(s))), " ")
}
