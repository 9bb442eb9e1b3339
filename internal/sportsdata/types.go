package sportsdata

import (
	"strings"
	"time"
)

// EventStatus is the lifecycle state of a sporting event.
type EventStatus string

const (
	StatusScheduled  EventStatus = "scheduled"
	StatusInProgress EventStatus = "in_progress"
	StatusFinal      EventStatus = "final"
	StatusPostponed  EventStatus = "postponed"
)

// ParseEventStatus converts a provider status string into a known EventStatus.
// Unknown values map to scheduled so an odd provider value never drops an event.
func ParseEventStatus(value string) EventStatus {
	switch EventStatus(strings.ToLower(strings.TrimSpace(value))) {
	case StatusInProgress:
		return StatusInProgress
	case StatusFinal:
		return StatusFinal
	case StatusPostponed:
		return StatusPostponed
	default:
		return StatusScheduled
	}
}

// League identifies one enabled league and how to query it.
type League struct {
	Code    string
	Sport   string
	Aliases []string
	// DivisionGroup widens scoreboard queries for leagues whose default
	// scoreboard omits most games (college leagues).
	DivisionGroup string
}

// Team is a provider team identity.
type Team struct {
	ID           string
	Name         string
	Abbreviation string
}

// Event is one sporting event. Scoreboard and schedule queries both return
// this shape.
type Event struct {
	ID        string
	League    string
	Sport     string
	Home      Team
	Away      Team
	Start     time.Time
	Status    EventStatus
	Venue     string
	Broadcast string
	Odds      string
	// Division tags events in split-division leagues ("mens"/"womens").
	Division string
}

// Involves reports whether a team plays in the event.
func (e Event) Involves(teamID string) bool {
	return e.Home.ID == teamID || e.Away.ID == teamID
}

// Opponent returns the other side of the event for a given team.
func (e Event) Opponent(teamID string) (Team, bool) {
	switch teamID {
	case e.Home.ID:
		return e.Away, true
	case e.Away.ID:
		return e.Home, true
	}
	return Team{}, false
}

// TeamInfo is supplemental team metadata.
type TeamInfo struct {
	Record     string
	Rank       int
	Conference string
}
