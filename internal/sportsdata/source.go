package sportsdata

import (
	"context"
	"log/slog"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"lineup/internal/logging"
)

// Source serves event lookups from run-scoped caches, fetching from the
// provider at most once per key regardless of how many concurrent matchers
// request it. Construct one Source per run and share it by reference.
//
// Lookups are scoreboard-first because a scoreboard call covers a whole
// (sport, league, date) while a schedule call covers one team; both return
// identical event shapes, so the ordering is purely a cost optimization.
type Source struct {
	api           API
	lookaheadDays int
	cache         *gocache.Cache
	flight        singleflight.Group
	logger        *slog.Logger
}

// API is the provider surface consumed by Source. *Client implements it.
type API interface {
	Scoreboard(ctx context.Context, league League, day time.Time) ([]Event, error)
	TeamSchedule(ctx context.Context, league League, teamID string, lookaheadDays int) ([]Event, error)
	Teams(ctx context.Context, league League) ([]Team, error)
	TeamInfo(ctx context.Context, league League, teamID string) (TeamInfo, error)
}

// NewSource builds a run-scoped cached source over the provider API.
func NewSource(api API, lookaheadDays int, logger *slog.Logger) *Source {
	return &Source{
		api:           api,
		lookaheadDays: lookaheadDays,
		cache:         gocache.New(gocache.NoExpiration, 0),
		logger:        logging.NewComponentLogger(logger, "sportsdata"),
	}
}

type eventsResult struct {
	events []Event
	err    error
}

type teamsResult struct {
	teams []Team
	err   error
}

// Scoreboard returns the cached scoreboard listing for a league and date.
func (s *Source) Scoreboard(ctx context.Context, league League, day time.Time) ([]Event, error) {
	key := cacheKey("scoreboard", league.Sport, league.Code, day.UTC().Format("20060102"), league.DivisionGroup)
	return s.cachedEvents(ctx, key, func() ([]Event, error) {
		return s.api.Scoreboard(ctx, league, day)
	})
}

// TeamSchedule returns the cached schedule listing for a team.
func (s *Source) TeamSchedule(ctx context.Context, league League, teamID string) ([]Event, error) {
	key := cacheKey("schedule", league.Sport, league.Code, teamID)
	return s.cachedEvents(ctx, key, func() ([]Event, error) {
		return s.api.TeamSchedule(ctx, league, teamID, s.lookaheadDays)
	})
}

// Teams returns the cached team list for a league.
func (s *Source) Teams(ctx context.Context, league League) ([]Team, error) {
	key := cacheKey("teams", league.Sport, league.Code)
	if cached, ok := s.cache.Get(key); ok {
		result := cached.(teamsResult)
		return result.teams, result.err
	}
	value, err, _ := s.flight.Do(key, func() (any, error) {
		teams, err := s.api.Teams(ctx, league)
		s.cache.Set(key, teamsResult{teams: teams, err: err}, gocache.NoExpiration)
		if err != nil {
			s.logger.Warn("teams fetch failed", logging.String(logging.FieldLeague, league.Code), logging.Error(err))
		}
		return teams, err
	})
	if err != nil {
		return nil, err
	}
	return value.([]Team), nil
}

// TeamInfo returns cached supplemental metadata for a team.
func (s *Source) TeamInfo(ctx context.Context, league League, teamID string) (TeamInfo, error) {
	key := cacheKey("teaminfo", league.Sport, league.Code, teamID)
	if cached, ok := s.cache.Get(key); ok {
		return cached.(TeamInfo), nil
	}
	value, err, _ := s.flight.Do(key, func() (any, error) {
		info, err := s.api.TeamInfo(ctx, league, teamID)
		if err != nil {
			return TeamInfo{}, err
		}
		s.cache.Set(key, info, gocache.NoExpiration)
		return info, nil
	})
	if err != nil {
		return TeamInfo{}, err
	}
	return value.(TeamInfo), nil
}

// EventsForTeam returns a team's events on the given date, consulting the
// scoreboard first and falling back to the team schedule when the scoreboard
// has no entry for the team.
func (s *Source) EventsForTeam(ctx context.Context, league League, teamID string, day time.Time) ([]Event, error) {
	board, err := s.Scoreboard(ctx, league, day)
	if err == nil {
		matched := filterByTeam(board, teamID)
		if len(matched) > 0 {
			return matched, nil
		}
	}

	schedule, scheduleErr := s.TeamSchedule(ctx, league, teamID)
	if scheduleErr != nil {
		if err != nil {
			return nil, err
		}
		return nil, scheduleErr
	}
	return filterByTeam(filterByDate(schedule, day), teamID), nil
}

// UpcomingForTeam returns a team's events over the lookahead horizon,
// scoreboard (today) first, schedule fallback.
func (s *Source) UpcomingForTeam(ctx context.Context, league League, teamID string, now time.Time) ([]Event, error) {
	board, err := s.Scoreboard(ctx, league, now)
	if err == nil {
		if matched := filterByTeam(board, teamID); len(matched) > 0 {
			return matched, nil
		}
	}

	schedule, scheduleErr := s.TeamSchedule(ctx, league, teamID)
	if scheduleErr != nil {
		if err != nil {
			return nil, err
		}
		return nil, scheduleErr
	}
	return filterByTeam(schedule, teamID), nil
}

func (s *Source) cachedEvents(ctx context.Context, key string, fetch func() ([]Event, error)) ([]Event, error) {
	if cached, ok := s.cache.Get(key); ok {
		result := cached.(eventsResult)
		return result.events, result.err
	}
	value, err, _ := s.flight.Do(key, func() (any, error) {
		events, err := fetch()
		// Failures are cached too: a provider outage is skipped for the
		// remainder of the run rather than retried per stream.
		s.cache.Set(key, eventsResult{events: events, err: err}, gocache.NoExpiration)
		if err != nil {
			s.logger.Warn("event fetch failed", logging.String("key", key), logging.Error(err))
		}
		return events, err
	})
	if err != nil {
		return nil, err
	}
	return value.([]Event), nil
}

func cacheKey(parts ...string) string {
	return strings.Join(parts, "|")
}

func filterByTeam(events []Event, teamID string) []Event {
	matched := make([]Event, 0, len(events))
	for _, event := range events {
		if event.Involves(teamID) {
			matched = append(matched, event)
		}
	}
	return matched
}

func filterByDate(events []Event, day time.Time) []Event {
	target := day.UTC().Format("20060102")
	matched := make([]Event, 0, len(events))
	for _, event := range events {
		if event.Start.UTC().Format("20060102") == target {
			matched = append(matched, event)
		}
	}
	return matched
}
