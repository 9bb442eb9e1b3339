// Package prefilter performs cheap string-level rejection of stream labels
// before any provider calls. Every check here is pure and allocation-light;
// the filter runs once per stream per run.
package prefilter

import (
	"fmt"
	"regexp"
	"strings"

	"lineup/internal/config"
	"lineup/internal/stream"
	"lineup/internal/textnorm"
)

// separatorPattern matches the matchup separators the catalog uses between
// two team names. Word-bound so "Havana" does not match "v" and "Texas" does
// not match "x".
var separatorPattern = regexp.MustCompile(`(?i)(\s+(vs\.?|v\.?|at|x)\s+|\s*@\s*)`)

// Filter rejects labels that cannot be matchup streams.
type Filter struct {
	skipPatterns []*regexp.Regexp
	sports       []string
}

// New compiles the configured prefilter rules. Patterns are validated at
// config load time, so compilation failures here indicate a programming
// error and are still surfaced as errors rather than panics.
func New(cfg config.Prefilter) (*Filter, error) {
	f := &Filter{}
	for _, pattern := range cfg.SkipPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile skip pattern %q: %w", pattern, err)
		}
		f.skipPatterns = append(f.skipPatterns, re)
	}
	for _, sport := range cfg.UnsupportedSports {
		sport = strings.TrimSpace(sport)
		if sport != "" {
			f.sports = append(f.sports, textnorm.Key(sport))
		}
	}
	return f, nil
}

// Check returns a skip reason for labels that should not enter resolution,
// or empty when the label looks like a matchup.
//
// Order matters: configured skip patterns win over the separator check so
// that "NBA Pregame: Lakers vs Celtics preview" is rejected as non-matchup
// content rather than parsed as a game.
func (f *Filter) Check(text string) stream.Reason {
	for _, re := range f.skipPatterns {
		if re.MatchString(text) {
			return stream.ReasonNonMatchupContent
		}
	}
	key := textnorm.Key(text)
	for _, sport := range f.sports {
		if containsWord(key, sport) {
			return stream.ReasonUnsupportedSport
		}
	}
	if !separatorPattern.MatchString(text) {
		return stream.ReasonNoGameIndicator
	}
	return ""
}

// SplitMatchup splits a label on its first matchup separator. The boolean is
// false when no separator is present.
func SplitMatchup(text string) (left, right string, ok bool) {
	loc := separatorPattern.FindStringIndex(text)
	if loc == nil {
		return "", "", false
	}
	return strings.TrimSpace(text[:loc[0]]), strings.TrimSpace(text[loc[1]:]), true
}

func containsWord(haystack, word string) bool {
	idx := 0
	for {
		i := strings.Index(haystack[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isWordByte(haystack[start-1])
		afterOK := end == len(haystack) || !isWordByte(haystack[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
