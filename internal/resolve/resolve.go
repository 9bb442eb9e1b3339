// Package resolve turns a parsed stream label into exactly one sporting
// event, or a diagnostic explaining why it could not. Resolution walks an
// ordered sequence of tiers from cheapest and strictest to most exhaustive;
// the first tier producing exactly one event wins and later tiers are
// skipped. A tier producing two or more equally valid events stops the
// whole resolution as ambiguous: the system never guesses.
package resolve

import (
	"context"
	"log/slog"
	"time"

	"lineup/internal/label"
	"lineup/internal/leagueindex"
	"lineup/internal/logging"
	"lineup/internal/policy"
	"lineup/internal/sportsdata"
	"lineup/internal/stream"
	"lineup/internal/textnorm"
)

// Match is a successful resolution.
type Match struct {
	Event  sportsdata.Event
	League sportsdata.League
	// Tier names the tier that produced the match.
	Tier string
}

// Options configures a Resolver.
type Options struct {
	// WindowMinutes is the tolerance around a parsed instant when matching
	// event start times.
	WindowMinutes int
	// DivisionPreference breaks same-instant ties between divisions.
	DivisionPreference policy.DivisionPreference
	Logger             *slog.Logger
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Resolver disambiguates parsed labels against the event data source.
// Construct one per run; it is safe for concurrent use.
type Resolver struct {
	index   *leagueindex.Index
	source  *sportsdata.Source
	leagues []sportsdata.League
	window  time.Duration
	divPref policy.DivisionPreference
	logger  *slog.Logger
	now     func() time.Time
}

// New builds a Resolver over the enabled leagues.
func New(index *leagueindex.Index, source *sportsdata.Source, leagues []sportsdata.League, opts Options) *Resolver {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	window := time.Duration(opts.WindowMinutes) * time.Minute
	if window <= 0 {
		window = 30 * time.Minute
	}
	return &Resolver{
		index:   index,
		source:  source,
		leagues: leagues,
		window:  window,
		divPref: opts.DivisionPreference,
		logger:  logging.NewComponentLogger(logger, "resolve"),
		now:     now,
	}
}

// state accumulates per-stream resolution context for diagnostics.
type state struct {
	parsed      label.Parsed
	checked     []string
	checkedSet  map[string]bool
	tier        string
	providerErr bool
}

func (st *state) checkLeague(code string) {
	if st.checkedSet[code] {
		return
	}
	st.checkedSet[code] = true
	st.checked = append(st.checked, code)
}

// Resolve resolves one parsed label. On success the diagnostic is nil; on
// failure the Match is zero and the diagnostic carries the reason, the tier
// reached, and the leagues consulted.
func (r *Resolver) Resolve(ctx context.Context, text string, parsed label.Parsed) (Match, *stream.Diagnostic) {
	st := &state{parsed: parsed, checkedSet: make(map[string]bool)}

	m1, err := r.index.Lookup(ctx, parsed.Team1)
	if err != nil {
		return Match{}, r.diag(text, parsed, st, stream.ReasonProviderUnavailable)
	}
	m2, err := r.index.Lookup(ctx, parsed.Team2)
	if err != nil {
		return Match{}, r.diag(text, parsed, st, stream.ReasonProviderUnavailable)
	}
	if len(m1) == 0 && len(m2) == 0 {
		return Match{}, r.diag(text, parsed, st, stream.ReasonNoLeagueDetected)
	}
	r.logger.Debug("team lookup",
		logging.String("team1_rung", string(leagueindex.RungOf(m1))),
		logging.String("team2_rung", string(leagueindex.RungOf(m2))))

	hintLeague, hintSport := r.interpretHints(parsed.Hints)

	if match, diag := r.tier1(ctx, text, st, m1, m2, hintLeague); match != nil || diag != nil {
		return finish(match, diag)
	}

	common := r.index.CommonLeagues(m1, m2)
	if hintSport != "" {
		st.tier = "2"
		common = filterBySport(common, hintSport)
	}

	if match, diag := r.tier3(ctx, text, st, m1, m2, common); match != nil || diag != nil {
		return finish(match, diag)
	}
	if match, diag := r.tier4a(ctx, text, st, m1, m2, parsed); match != nil || diag != nil {
		return finish(match, diag)
	}
	if match, diag := r.tier4Single(ctx, text, st, m1, m2, parsed); match != nil || diag != nil {
		return finish(match, diag)
	}
	if match, diag := r.tier4Exhaustive(ctx, text, st, m1, m2, parsed); match != nil || diag != nil {
		return finish(match, diag)
	}

	reason := stream.ReasonNoGameFound
	if st.providerErr {
		reason = stream.ReasonProviderUnavailable
	}
	return Match{}, r.diag(text, parsed, st, reason)
}

func finish(match *Match, diag *stream.Diagnostic) (Match, *stream.Diagnostic) {
	if match != nil {
		return *match, nil
	}
	return Match{}, diag
}

// interpretHints maps extracted hint tokens onto an enabled league or sport.
// Hints narrow the search; they never override roster evidence.
func (r *Resolver) interpretHints(hints []string) (*sportsdata.League, string) {
	for _, hint := range hints {
		key := textnorm.Key(hint)
		for i, lg := range r.leagues {
			if textnorm.Key(lg.Code) == key {
				return &r.leagues[i], ""
			}
			for _, alias := range lg.Aliases {
				if textnorm.Key(alias) == key {
					return &r.leagues[i], ""
				}
			}
		}
	}
	for _, hint := range hints {
		key := textnorm.Key(hint)
		for _, lg := range r.leagues {
			if textnorm.Key(lg.Sport) == key {
				return nil, lg.Sport
			}
		}
	}
	return nil, ""
}

// tier1 handles an explicit league token: both mentions must have a roster
// team in that league, and an event must exist to confirm it.
func (r *Resolver) tier1(ctx context.Context, text string, st *state, m1, m2 []leagueindex.Match, hint *sportsdata.League) (*Match, *stream.Diagnostic) {
	if hint == nil {
		return nil, nil
	}
	t1, ok1 := leagueindex.TeamIn(m1, *hint)
	t2, ok2 := leagueindex.TeamIn(m2, *hint)
	if !ok1 || !ok2 {
		return nil, nil
	}
	st.tier = "1"
	hits := r.pairEvents(ctx, st, *hint, t1, t2)
	return r.pick(text, st, hits)
}

// tier3 covers the common-league tiers: 3a (date and time), 3b (time only,
// promoted to today), and 3c (no usable time, closest event to now wins).
func (r *Resolver) tier3(ctx context.Context, text string, st *state, m1, m2 []leagueindex.Match, common []sportsdata.League) (*Match, *stream.Diagnostic) {
	if len(common) == 0 {
		return nil, nil
	}
	switch {
	case st.parsed.HasTime && !st.parsed.DateInferred:
		st.tier = "3a"
	case st.parsed.HasTime:
		st.tier = "3b"
	default:
		st.tier = "3c"
	}

	var hits []Match
	for _, lg := range common {
		t1, ok1 := leagueindex.TeamIn(m1, lg)
		t2, ok2 := leagueindex.TeamIn(m2, lg)
		if !ok1 || !ok2 {
			continue
		}
		hits = append(hits, r.pairEvents(ctx, st, lg, t1, t2)...)
	}
	return r.pick(text, st, hits)
}

// tier4a fires when both mentions resolved but no common-league event tied
// them together, which usually means one mention resolved to the wrong
// roster team. Each mention's own candidate events are re-checked by
// text-matching the other raw mention against the opponent.
func (r *Resolver) tier4a(ctx context.Context, text string, st *state, m1, m2 []leagueindex.Match, parsed label.Parsed) (*Match, *stream.Diagnostic) {
	if len(m1) == 0 || len(m2) == 0 {
		return nil, nil
	}
	st.tier = "4a"
	for _, side := range []struct {
		matches []leagueindex.Match
		other   string
	}{
		{m1, parsed.Team2},
		{m2, parsed.Team1},
	} {
		hits := r.opponentSearch(ctx, st, side.matches, side.other)
		if len(hits) == 0 {
			continue
		}
		return r.pick(text, st, hits)
	}
	return nil, nil
}

// tier4Single handles a single resolved mention: 4b with a parsed instant,
// 4c without one.
func (r *Resolver) tier4Single(ctx context.Context, text string, st *state, m1, m2 []leagueindex.Match, parsed label.Parsed) (*Match, *stream.Diagnostic) {
	var resolved []leagueindex.Match
	var other string
	switch {
	case len(m1) > 0 && len(m2) == 0:
		resolved, other = m1, parsed.Team2
	case len(m2) > 0 && len(m1) == 0:
		resolved, other = m2, parsed.Team1
	default:
		return nil, nil
	}
	if parsed.HasDate {
		st.tier = "4b"
	} else {
		st.tier = "4c"
	}
	hits := r.opponentSearch(ctx, st, resolved, other)
	return r.pick(text, st, hits)
}

// tier4Exhaustive is the last resort: every candidate of either mention is
// searched over the full lookahead horizon with a looser opponent match and
// no time constraint.
func (r *Resolver) tier4Exhaustive(ctx context.Context, text string, st *state, m1, m2 []leagueindex.Match, parsed label.Parsed) (*Match, *stream.Diagnostic) {
	st.tier = "4b+"
	var hits []Match
	hits = append(hits, r.opponentSearchLoose(ctx, st, m1, parsed.Team2)...)
	hits = append(hits, r.opponentSearchLoose(ctx, st, m2, parsed.Team1)...)
	hits = dedupe(hits)
	if len(hits) == 0 {
		return nil, nil
	}
	return r.pick(text, st, hits)
}

// pairEvents returns events in one league involving both teams, constrained
// by the parsed instant when one is present.
func (r *Resolver) pairEvents(ctx context.Context, st *state, lg sportsdata.League, t1, t2 sportsdata.Team) []Match {
	st.checkLeague(lg.Code)
	events, err := r.teamEvents(ctx, st, lg, t1.ID)
	if err != nil {
		return nil
	}
	var hits []Match
	for _, ev := range events {
		if !ev.Involves(t1.ID) || !ev.Involves(t2.ID) {
			continue
		}
		if !r.instantOK(st, ev) {
			continue
		}
		hits = append(hits, Match{Event: ev, League: lg, Tier: st.tier})
	}
	return hits
}

// opponentSearch scans each candidate team's events for an opponent whose
// name textually matches the raw mention the index could not resolve.
func (r *Resolver) opponentSearch(ctx context.Context, st *state, matches []leagueindex.Match, rawOther string) []Match {
	var hits []Match
	for _, m := range matches {
		st.checkLeague(m.League.Code)
		events, err := r.teamEvents(ctx, st, m.League, m.Team.ID)
		if err != nil {
			continue
		}
		for _, ev := range events {
			opponent, ok := ev.Opponent(m.Team.ID)
			if !ok || !mentionMatches(opponent, rawOther) {
				continue
			}
			if !r.instantOK(st, ev) {
				continue
			}
			hits = append(hits, Match{Event: ev, League: m.League, Tier: st.tier})
		}
	}
	return dedupe(hits)
}

// opponentSearchLoose is the 4b+ variant: every candidate league over the
// full schedule horizon, substring-only opponent matching. The parsed
// instant still applies; looseness covers leagues and names, not times.
func (r *Resolver) opponentSearchLoose(ctx context.Context, st *state, matches []leagueindex.Match, rawOther string) []Match {
	var hits []Match
	for _, m := range matches {
		st.checkLeague(m.League.Code)
		events, err := r.source.UpcomingForTeam(ctx, m.League, m.Team.ID, r.now())
		if err != nil {
			st.providerErr = true
			continue
		}
		for _, ev := range events {
			opponent, ok := ev.Opponent(m.Team.ID)
			if !ok {
				continue
			}
			if !textnorm.ContainsFold(opponent.Name, rawOther) && !textnorm.ContainsFold(rawOther, opponent.Name) {
				continue
			}
			if !r.instantOK(st, ev) {
				continue
			}
			hits = append(hits, Match{Event: ev, League: m.League, Tier: st.tier})
		}
	}
	return hits
}

// teamEvents fetches a team's events scoped to the parsed date when one is
// known, otherwise over the lookahead horizon. A parsed instant near
// midnight also pulls the adjacent day so the match window can straddle it.
func (r *Resolver) teamEvents(ctx context.Context, st *state, lg sportsdata.League, teamID string) ([]sportsdata.Event, error) {
	if !st.parsed.HasDate {
		events, err := r.source.UpcomingForTeam(ctx, lg, teamID, r.now())
		if err != nil {
			st.providerErr = true
		}
		return events, err
	}
	day := st.parsed.Date
	events, err := r.source.EventsForTeam(ctx, lg, teamID, day)
	if err != nil {
		st.providerErr = true
		return nil, err
	}
	if st.parsed.HasTime {
		if extra := adjacentDay(st.parsed.Date, r.window); !extra.IsZero() {
			more, err := r.source.EventsForTeam(ctx, lg, teamID, extra)
			if err == nil {
				events = append(events, more...)
			}
		}
	}
	return events, nil
}

// instantOK applies the parsed-time window. Without a parsed time every
// event passes; selection then falls to closest-to-now.
func (r *Resolver) instantOK(st *state, ev sportsdata.Event) bool {
	if !st.parsed.HasTime {
		return true
	}
	delta := ev.Start.Sub(st.parsed.Date)
	if delta < 0 {
		delta = -delta
	}
	return delta <= r.window
}

// pick applies the ambiguity policy to a tier's hits: one hit wins, none
// falls through to the next tier, several is ambiguous unless the division
// preference cleanly breaks a same-instant division split.
func (r *Resolver) pick(text string, st *state, hits []Match) (*Match, *stream.Diagnostic) {
	hits = dedupe(hits)
	if len(hits) == 0 {
		return nil, nil
	}
	if !st.parsed.HasTime {
		hits = closestToNow(hits, r.now())
	}
	if len(hits) == 1 {
		r.logger.Debug("resolved",
			logging.String(logging.FieldTier, st.tier),
			logging.String(logging.FieldLeague, hits[0].League.Code),
			logging.String("event_id", hits[0].Event.ID))
		return &hits[0], nil
	}
	if winner, ok := r.breakDivisionTie(hits); ok {
		return winner, nil
	}
	codes := make([]string, 0, len(hits))
	for _, h := range hits {
		codes = append(codes, h.League.Code)
	}
	r.logger.Info("ambiguous match",
		logging.String(logging.FieldTier, st.tier),
		logging.Any("leagues", codes))
	return nil, r.diag(text, st.parsed, st, stream.ReasonAmbiguousMatch)
}

// breakDivisionTie resolves a tie only when every hit starts at the same
// instant and exactly one carries the preferred division.
func (r *Resolver) breakDivisionTie(hits []Match) (*Match, bool) {
	if r.divPref == policy.DivisionNone {
		return nil, false
	}
	for _, h := range hits[1:] {
		if !h.Event.Start.Equal(hits[0].Event.Start) {
			return nil, false
		}
	}
	var winner *Match
	for i := range hits {
		if policy.DivisionPreference(hits[i].Event.Division) == r.divPref {
			if winner != nil {
				return nil, false
			}
			winner = &hits[i]
		}
	}
	return winner, winner != nil
}

func (r *Resolver) diag(text string, parsed label.Parsed, st *state, reason stream.Reason) *stream.Diagnostic {
	return &stream.Diagnostic{
		StreamText:     text,
		Reason:         reason,
		ParsedTeam1:    parsed.Team1,
		ParsedTeam2:    parsed.Team2,
		TierReached:    st.tier,
		LeaguesChecked: st.checked,
	}
}

// closestToNow keeps only the hits nearest the reference instant. An
// in-progress game that started an hour ago competes on equal footing with
// one starting an hour from now.
func closestToNow(hits []Match, now time.Time) []Match {
	if len(hits) <= 1 {
		return hits
	}
	best := time.Duration(-1)
	var out []Match
	for _, h := range hits {
		d := h.Event.Start.Sub(now)
		if d < 0 {
			d = -d
		}
		if best < 0 || d < best {
			best = d
			out = out[:0]
		}
		if d == best {
			out = append(out, h)
		}
	}
	return out
}

func mentionMatches(team sportsdata.Team, mention string) bool {
	if textnorm.ContainsFold(team.Name, mention) || textnorm.ContainsFold(mention, team.Name) {
		return true
	}
	return textnorm.OverlapRatio(team.Name, mention) >= 0.5
}

func filterBySport(leagues []sportsdata.League, sport string) []sportsdata.League {
	var out []sportsdata.League
	for _, lg := range leagues {
		if lg.Sport == sport {
			out = append(out, lg)
		}
	}
	return out
}

func dedupe(hits []Match) []Match {
	seen := make(map[string]bool, len(hits))
	var out []Match
	for _, h := range hits {
		key := h.League.Code + "|" + h.Event.ID
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, h)
	}
	return out
}

func adjacentDay(instant time.Time, window time.Duration) time.Time {
	dayStart := time.Date(instant.Year(), instant.Month(), instant.Day(), 0, 0, 0, 0, instant.Location())
	if instant.Sub(dayStart) < window {
		return dayStart.AddDate(0, 0, -1)
	}
	if dayStart.AddDate(0, 0, 1).Sub(instant) < window {
		return dayStart.AddDate(0, 0, 1)
	}
	return time.Time{}
}
