// Package textnorm provides the text normalization ladder used when matching
// team mentions against catalog names: exact key, accent-folded, punctuation-
// stripped, and token-overlap comparison.
package textnorm

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	accentFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	spacePattern = regexp.MustCompile(`\s+`)
	tokenPattern = regexp.MustCompile(`[^a-z0-9]+`)
)

// Key lowercases and collapses whitespace. It is the canonical lookup form for
// team names and mentions.
func Key(s string) string {
	return spacePattern.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), " ")
}

// FoldAccents removes combining diacritical marks: "Montréal" → "Montreal".
// The input is returned unchanged when the transform fails.
func FoldAccents(s string) string {
	folded, _, err := transform.String(accentFolder, s)
	if err != nil {
		return s
	}
	return folded
}

// StripPunctuation removes everything except letters, digits, and spaces:
// "St. Louis" → "St Louis".
func StripPunctuation(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return spacePattern.ReplaceAllString(strings.TrimSpace(b.String()), " ")
}

// Tokenize splits a name into lowercase alphanumeric tokens. Accents are
// folded first so "São Paulo" and "Sao Paulo" tokenize identically.
func Tokenize(s string) []string {
	lowered := strings.ToLower(FoldAccents(s))
	raw := tokenPattern.Split(lowered, -1)
	tokens := make([]string, 0, len(raw))
	for _, token := range raw {
		if token == "" {
			continue
		}
		tokens = append(tokens, token)
	}
	return tokens
}

// OverlapRatio computes token overlap between two names as the fraction of
// the smaller token set found in the larger one. Returns 0 when either side
// has no tokens.
func OverlapRatio(a, b string) float64 {
	tokensA := Tokenize(a)
	tokensB := Tokenize(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}
	if len(tokensA) > len(tokensB) {
		tokensA, tokensB = tokensB, tokensA
	}
	larger := make(map[string]struct{}, len(tokensB))
	for _, token := range tokensB {
		larger[token] = struct{}{}
	}
	matched := 0
	for _, token := range tokensA {
		if _, ok := larger[token]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(tokensA))
}

// ContainsFold reports whether needle occurs in haystack, ignoring case.
func ContainsFold(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
