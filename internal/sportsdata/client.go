package sportsdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"lineup/internal/config"
	"lineup/internal/services"
)

// HTTPDoer describes the HTTP client used by the provider client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the sports data provider HTTP API.
type Client struct {
	baseURL string
	apiKey  string
	client  HTTPDoer
}

// NewClient constructs a provider client from configuration.
func NewClient(cfg *config.Config) *Client {
	timeout := 15 * time.Second
	if cfg.Provider.RequestTimeout > 0 {
		timeout = time.Duration(cfg.Provider.RequestTimeout) * time.Second
	}
	return &Client{
		baseURL: cfg.Provider.BaseURL,
		apiKey:  cfg.Provider.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// NewClientWithDoer constructs a provider client with an explicit HTTP doer.
func NewClientWithDoer(baseURL, apiKey string, doer HTTPDoer) *Client {
	return &Client{baseURL: baseURL, apiKey: apiKey, client: doer}
}

// LeaguesFromConfig converts the configured league set, preserving order.
func LeaguesFromConfig(cfg *config.Config) []League {
	leagues := make([]League, 0, len(cfg.Leagues))
	for _, lg := range cfg.Leagues {
		leagues = append(leagues, League{
			Code:          lg.Code,
			Sport:         lg.Sport,
			Aliases:       append([]string(nil), lg.Aliases...),
			DivisionGroup: lg.DivisionGroup,
		})
	}
	return leagues
}

type wireTeam struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Abbreviation string `json:"abbreviation"`
}

type wireEvent struct {
	ID        string   `json:"id"`
	Date      string   `json:"date"`
	Status    string   `json:"status"`
	Venue     string   `json:"venue"`
	Broadcast string   `json:"broadcast"`
	Odds      string   `json:"odds"`
	Division  string   `json:"division"`
	Home      wireTeam `json:"home"`
	Away      wireTeam `json:"away"`
}

type eventsResponse struct {
	Events []wireEvent `json:"events"`
}

type teamsResponse struct {
	Teams []wireTeam `json:"teams"`
}

type teamInfoResponse struct {
	Record     string `json:"record"`
	Rank       int    `json:"rank"`
	Conference string `json:"conference"`
}

// Scoreboard lists a league's events for one date. A non-empty division group
// widens the listing for leagues whose default scoreboard is partial.
func (c *Client) Scoreboard(ctx context.Context, league League, day time.Time) ([]Event, error) {
	endpoint := fmt.Sprintf("%s/%s/%s/scoreboard", c.baseURL, league.Sport, league.Code)
	query := url.Values{"dates": {day.UTC().Format("20060102")}}
	if league.DivisionGroup != "" {
		query.Set("groups", league.DivisionGroup)
	}

	var payload eventsResponse
	if err := c.getJSON(ctx, endpoint, query, &payload); err != nil {
		return nil, services.Wrap(providerMarker(err), "sportsdata", "scoreboard", league.Code, err)
	}
	return c.convertEvents(league, payload.Events)
}

// TeamSchedule lists a team's events over the lookahead horizon.
func (c *Client) TeamSchedule(ctx context.Context, league League, teamID string, lookaheadDays int) ([]Event, error) {
	endpoint := fmt.Sprintf("%s/%s/%s/teams/%s/schedule", c.baseURL, league.Sport, league.Code, url.PathEscape(teamID))
	query := url.Values{}
	if lookaheadDays > 0 {
		query.Set("days", fmt.Sprintf("%d", lookaheadDays))
	}

	var payload eventsResponse
	if err := c.getJSON(ctx, endpoint, query, &payload); err != nil {
		return nil, services.Wrap(providerMarker(err), "sportsdata", "team schedule", teamID, err)
	}
	return c.convertEvents(league, payload.Events)
}

// Teams lists a league's teams.
func (c *Client) Teams(ctx context.Context, league League) ([]Team, error) {
	endpoint := fmt.Sprintf("%s/%s/%s/teams", c.baseURL, league.Sport, league.Code)

	var payload teamsResponse
	if err := c.getJSON(ctx, endpoint, nil, &payload); err != nil {
		return nil, services.Wrap(providerMarker(err), "sportsdata", "teams", league.Code, err)
	}
	teams := make([]Team, 0, len(payload.Teams))
	for _, team := range payload.Teams {
		teams = append(teams, Team{ID: team.ID, Name: team.Name, Abbreviation: team.Abbreviation})
	}
	return teams, nil
}

// TeamInfo fetches supplemental team metadata (record, rank, conference).
func (c *Client) TeamInfo(ctx context.Context, league League, teamID string) (TeamInfo, error) {
	endpoint := fmt.Sprintf("%s/%s/%s/teams/%s", c.baseURL, league.Sport, league.Code, url.PathEscape(teamID))

	var payload teamInfoResponse
	if err := c.getJSON(ctx, endpoint, nil, &payload); err != nil {
		return TeamInfo{}, services.Wrap(providerMarker(err), "sportsdata", "team info", teamID, err)
	}
	return TeamInfo{Record: payload.Record, Rank: payload.Rank, Conference: payload.Conference}, nil
}

func (c *Client) convertEvents(league League, wire []wireEvent) ([]Event, error) {
	events := make([]Event, 0, len(wire))
	for _, we := range wire {
		start, err := time.Parse(time.RFC3339, we.Date)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "sportsdata", "parse event date", we.Date, err)
		}
		events = append(events, Event{
			ID:        we.ID,
			League:    league.Code,
			Sport:     league.Sport,
			Home:      Team{ID: we.Home.ID, Name: we.Home.Name, Abbreviation: we.Home.Abbreviation},
			Away:      Team{ID: we.Away.ID, Name: we.Away.Name, Abbreviation: we.Away.Abbreviation},
			Start:     start.UTC(),
			Status:    ParseEventStatus(we.Status),
			Venue:     we.Venue,
			Broadcast: we.Broadcast,
			Odds:      we.Odds,
			Division:  we.Division,
		})
	}
	return events, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, query url.Values, out any) error {
	target := endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return services.ErrNotFound
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("provider returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func providerMarker(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return services.ErrTimeout
	case errors.Is(err, services.ErrNotFound):
		return services.ErrNotFound
	default:
		return services.ErrProvider
	}
}
