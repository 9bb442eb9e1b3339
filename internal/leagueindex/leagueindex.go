// Package leagueindex maintains a per-run reverse index from team name
// fragments to the leagues whose rosters contain them. The index is the
// first narrowing step of resolution: given two team mentions it answers
// "which leagues could this game belong to" without any event fetches.
package leagueindex

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"lineup/internal/logging"
	"lineup/internal/sportsdata"
	"lineup/internal/textnorm"
)

// Rung identifies which matching rung produced a candidate. Lower rungs are
// stricter; the resolver records the rung in diagnostics.
type Rung string

const (
	RungExact   Rung = "exact"
	RungAccent  Rung = "accent"
	RungPunct   Rung = "punct"
	RungOverlap Rung = "overlap"
)

// overlapThreshold is the minimum token overlap for the loosest rung.
const overlapThreshold = 0.5

// Match is one candidate team for a mention.
type Match struct {
	League sportsdata.League
	Team   sportsdata.Team
	Rung   Rung
}

type entry struct {
	league sportsdata.League
	team   sportsdata.Team
}

// Index resolves team mentions against configured league rosters. Rosters
// are fetched lazily on first lookup and held for the life of the index,
// which is one run.
type Index struct {
	source  *sportsdata.Source
	leagues []sportsdata.League
	logger  *slog.Logger

	flight singleflight.Group

	mu       sync.RWMutex
	built    bool
	buildErr error
	exact    map[string][]entry
	folded   map[string][]entry
	stripped map[string][]entry
	all      []entry
}

// New creates an index over the configured leagues. Nothing is fetched
// until the first Lookup.
func New(source *sportsdata.Source, leagues []sportsdata.League, logger *slog.Logger) *Index {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Index{
		source:  source,
		leagues: leagues,
		logger:  logger.With(logging.String(logging.FieldComponent, "leagueindex")),
	}
}

// Lookup returns the candidate teams for a mention, walking the rung ladder
// from strictest to loosest and stopping at the first rung that yields any
// candidate. An empty result with a nil error means the mention matched no
// roster.
func (ix *Index) Lookup(ctx context.Context, mention string) ([]Match, error) {
	if err := ix.build(ctx); err != nil {
		return nil, err
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if entries := ix.exact[textnorm.Key(mention)]; len(entries) > 0 {
		return toMatches(entries, RungExact), nil
	}
	foldedKey := textnorm.Key(textnorm.FoldAccents(mention))
	if entries := ix.folded[foldedKey]; len(entries) > 0 {
		return toMatches(entries, RungAccent), nil
	}
	strippedKey := textnorm.Key(textnorm.StripPunctuation(textnorm.FoldAccents(mention)))
	if entries := ix.stripped[strippedKey]; len(entries) > 0 {
		return toMatches(entries, RungPunct), nil
	}
	return ix.overlapMatches(mention), nil
}

// CommonLeagues intersects the league sets of two candidate lists,
// preserving the configured league order. Resolution proceeds league by
// league through this list.
func (ix *Index) CommonLeagues(a, b []Match) []sportsdata.League {
	inA := make(map[string]bool, len(a))
	for _, m := range a {
		inA[m.League.Code] = true
	}
	inBoth := make(map[string]bool)
	for _, m := range b {
		if inA[m.League.Code] {
			inBoth[m.League.Code] = true
		}
	}
	var out []sportsdata.League
	for _, lg := range ix.leagues {
		if inBoth[lg.Code] {
			out = append(out, lg)
		}
	}
	return out
}

// TeamIn returns the candidate team for a specific league, or false when
// the candidate list has no team in that league.
func TeamIn(matches []Match, league sportsdata.League) (sportsdata.Team, bool) {
	for _, m := range matches {
		if m.League.Code == league.Code {
			return m.Team, true
		}
	}
	return sportsdata.Team{}, false
}

// RungOf reports the loosest rung present in a candidate list.
func RungOf(matches []Match) Rung {
	var loosest Rung
	order := map[Rung]int{RungExact: 0, RungAccent: 1, RungPunct: 2, RungOverlap: 3}
	for _, m := range matches {
		if loosest == "" || order[m.Rung] > order[loosest] {
			loosest = m.Rung
		}
	}
	return loosest
}

func (ix *Index) build(ctx context.Context) error {
	ix.mu.RLock()
	built, err := ix.built, ix.buildErr
	ix.mu.RUnlock()
	if built {
		return err
	}

	_, err, _ = ix.flight.Do("build", func() (any, error) {
		ix.mu.RLock()
		built := ix.built
		ix.mu.RUnlock()
		if built {
			return nil, ix.buildErr
		}

		exact := make(map[string][]entry)
		folded := make(map[string][]entry)
		stripped := make(map[string][]entry)
		var all []entry
		var firstErr error
		loaded := 0

		for _, lg := range ix.leagues {
			teams, terr := ix.source.Teams(ctx, lg)
			if terr != nil {
				ix.logger.Warn("roster fetch failed",
					logging.String(logging.FieldLeague, lg.Code),
					logging.Error(terr))
				if firstErr == nil {
					firstErr = terr
				}
				continue
			}
			loaded++
			for _, team := range teams {
				e := entry{league: lg, team: team}
				all = append(all, e)
				for _, name := range indexNames(team) {
					exactKey := textnorm.Key(name)
					foldedKey := textnorm.Key(textnorm.FoldAccents(name))
					strippedKey := textnorm.Key(textnorm.StripPunctuation(textnorm.FoldAccents(name)))
					exact[exactKey] = appendEntry(exact[exactKey], e)
					folded[foldedKey] = appendEntry(folded[foldedKey], e)
					stripped[strippedKey] = appendEntry(stripped[strippedKey], e)
				}
			}
		}

		ix.mu.Lock()
		defer ix.mu.Unlock()
		ix.built = true
		if loaded == 0 && firstErr != nil {
			// Every roster failed; lookups are meaningless this run.
			ix.buildErr = firstErr
		} else {
			ix.exact, ix.folded, ix.stripped, ix.all = exact, folded, stripped, all
		}
		return nil, ix.buildErr
	})
	return err
}

func (ix *Index) overlapMatches(mention string) []Match {
	mentionTokens := textnorm.StripPunctuation(textnorm.FoldAccents(mention))
	best := 0.0
	var out []Match
	for _, e := range ix.all {
		ratio := textnorm.OverlapRatio(mentionTokens, e.team.Name)
		if ratio < overlapThreshold || ratio < best {
			continue
		}
		if ratio > best {
			best = ratio
			out = out[:0]
		}
		out = append(out, Match{League: e.league, Team: e.team, Rung: RungOverlap})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].League.Code < out[j].League.Code })
	return out
}

// indexNames lists the lookup keys for one team: full name, abbreviation,
// and the nickname without its city prefix when the name has one.
func indexNames(team sportsdata.Team) []string {
	names := []string{team.Name}
	if team.Abbreviation != "" {
		names = append(names, team.Abbreviation)
	}
	fields := textnorm.Key(team.Name)
	if idx := lastSpace(fields); idx >= 0 {
		names = append(names, fields[idx+1:])
	}
	return names
}

func lastSpace(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ' ' {
			return i
		}
	}
	return -1
}

func appendEntry(entries []entry, e entry) []entry {
	for _, existing := range entries {
		if existing.league.Code == e.league.Code && existing.team.ID == e.team.ID {
			return entries
		}
	}
	return append(entries, e)
}

func toMatches(entries []entry, rung Rung) []Match {
	out := make([]Match, 0, len(entries))
	for _, e := range entries {
		out = append(out, Match{League: e.league, Team: e.team, Rung: rung})
	}
	return out
}
