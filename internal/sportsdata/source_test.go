package sportsdata_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lineup/internal/services"
	"lineup/internal/sportsdata"
)

type fakeAPI struct {
	mu             sync.Mutex
	scoreboardHits atomic.Int64
	scheduleHits   atomic.Int64
	teamsHits      atomic.Int64
	scoreboard     []sportsdata.Event
	scoreboardErr  error
	schedule       []sportsdata.Event
	teams          []sportsdata.Team
}

func (f *fakeAPI) Scoreboard(ctx context.Context, league sportsdata.League, day time.Time) ([]sportsdata.Event, error) {
	f.scoreboardHits.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scoreboard, f.scoreboardErr
}

func (f *fakeAPI) TeamSchedule(ctx context.Context, league sportsdata.League, teamID string, lookaheadDays int) ([]sportsdata.Event, error) {
	f.scheduleHits.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.schedule, nil
}

func (f *fakeAPI) Teams(ctx context.Context, league sportsdata.League) ([]sportsdata.Team, error) {
	f.teamsHits.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.teams, nil
}

func (f *fakeAPI) TeamInfo(ctx context.Context, league sportsdata.League, teamID string) (sportsdata.TeamInfo, error) {
	return sportsdata.TeamInfo{}, nil
}

func eventBetween(id, home, away string, start time.Time) sportsdata.Event {
	return sportsdata.Event{
		ID:     id,
		League: "nhl",
		Sport:  "hockey",
		Home:   sportsdata.Team{ID: home, Name: "Home " + home},
		Away:   sportsdata.Team{ID: away, Name: "Away " + away},
		Start:  start,
		Status: sportsdata.StatusScheduled,
	}
}

func TestSourceScoreboardFetchesOncePerKey(t *testing.T) {
	t.Parallel()

	day := time.Date(2026, 12, 4, 0, 0, 0, 0, time.UTC)
	api := &fakeAPI{scoreboard: []sportsdata.Event{eventBetween("1", "18", "13", day)}}
	source := sportsdata.NewSource(api, 10, nil)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := source.Scoreboard(context.Background(), nhl, day); err != nil {
				t.Errorf("Scoreboard: %v", err)
			}
		}()
	}
	wg.Wait()

	if hits := api.scoreboardHits.Load(); hits != 1 {
		t.Fatalf("expected exactly 1 provider fetch, got %d", hits)
	}
}

func TestSourceCachesProviderFailureForRun(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{scoreboardErr: services.Wrap(services.ErrProvider, "sportsdata", "scoreboard", "nhl", errors.New("boom"))}
	source := sportsdata.NewSource(api, 10, nil)
	day := time.Now().UTC()

	for range 3 {
		if _, err := source.Scoreboard(context.Background(), nhl, day); !errors.Is(err, services.ErrProvider) {
			t.Fatalf("expected provider error, got %v", err)
		}
	}
	if hits := api.scoreboardHits.Load(); hits != 1 {
		t.Fatalf("failure should be cached for the run, got %d fetches", hits)
	}
}

func TestSourceEventsForTeamFallsBackToSchedule(t *testing.T) {
	t.Parallel()

	day := time.Date(2026, 12, 4, 0, 0, 0, 0, time.UTC)
	gameTime := day.Add(23 * time.Hour)
	api := &fakeAPI{
		scoreboard: []sportsdata.Event{eventBetween("other", "1", "2", gameTime)},
		schedule:   []sportsdata.Event{eventBetween("sched", "18", "13", gameTime)},
	}
	source := sportsdata.NewSource(api, 10, nil)

	events, err := source.EventsForTeam(context.Background(), nhl, "18", day)
	if err != nil {
		t.Fatalf("EventsForTeam: %v", err)
	}
	if len(events) != 1 || events[0].ID != "sched" {
		t.Fatalf("expected schedule fallback event, got %+v", events)
	}
	if api.scheduleHits.Load() != 1 {
		t.Fatalf("expected 1 schedule fetch, got %d", api.scheduleHits.Load())
	}

	// Second identical lookup is fully served from cache.
	if _, err := source.EventsForTeam(context.Background(), nhl, "18", day); err != nil {
		t.Fatalf("EventsForTeam (cached): %v", err)
	}
	if api.scoreboardHits.Load() != 1 || api.scheduleHits.Load() != 1 {
		t.Fatalf("expected cached lookups, got scoreboard=%d schedule=%d",
			api.scoreboardHits.Load(), api.scheduleHits.Load())
	}
}

func TestSourceEventsForTeamPrefersScoreboard(t *testing.T) {
	t.Parallel()

	day := time.Date(2026, 12, 4, 0, 0, 0, 0, time.UTC)
	api := &fakeAPI{
		scoreboard: []sportsdata.Event{eventBetween("board", "18", "13", day.Add(23 * time.Hour))},
		schedule:   []sportsdata.Event{eventBetween("sched", "18", "13", day.Add(23 * time.Hour))},
	}
	source := sportsdata.NewSource(api, 10, nil)

	events, err := source.EventsForTeam(context.Background(), nhl, "18", day)
	if err != nil {
		t.Fatalf("EventsForTeam: %v", err)
	}
	if len(events) != 1 || events[0].ID != "board" {
		t.Fatalf("expected scoreboard event, got %+v", events)
	}
	if api.scheduleHits.Load() != 0 {
		t.Fatal("schedule should not be consulted on scoreboard hit")
	}
}
