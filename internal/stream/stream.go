// Package stream defines the input descriptor for catalog stream labels and
// the closed set of skip reason codes shared by the resolution pipeline.
package stream

import "strings"

// Descriptor is one input label from the external media catalog.
type Descriptor struct {
	// ID is the external stream identifier.
	ID string
	// Text is the raw label.
	Text string
	// GroupID is the source stream group.
	GroupID int64
}

// Reason is a stable, enumerable code explaining why a stream did not yield
// a channel. These codes feed the diagnostics output and automated tests;
// never rename existing values.
type Reason string

const (
	// ReasonNoGameIndicator is returned when no matchup separator is present.
	ReasonNoGameIndicator Reason = "NO_GAME_INDICATOR"
	// ReasonUnsupportedSport is returned when the label names a sport the
	// catalog does not cover.
	ReasonUnsupportedSport Reason = "UNSUPPORTED_SPORT"
	// ReasonNonMatchupContent is returned for studio shows, pre/post-game
	// shows, and similar configured patterns.
	ReasonNonMatchupContent Reason = "NON_MATCHUP_CONTENT"
	// ReasonTeamsNotParsed is returned when no team mentions were extractable.
	ReasonTeamsNotParsed Reason = "TEAMS_NOT_PARSED"
	// ReasonNoLeagueDetected is returned when the reverse index has no league
	// for the mention pair.
	ReasonNoLeagueDetected Reason = "NO_LEAGUE_DETECTED"
	// ReasonNoGameFound is returned when all disambiguation tiers exhausted
	// without a match.
	ReasonNoGameFound Reason = "NO_GAME_FOUND"
	// ReasonAmbiguousMatch is returned when a tier produced two or more
	// equally valid matches. The system never guesses.
	ReasonAmbiguousMatch Reason = "AMBIGUOUS_MATCH"
	// ReasonProviderUnavailable is returned when the data provider timed out
	// or errored; the stream is eligible again next run.
	ReasonProviderUnavailable Reason = "PROVIDER_UNAVAILABLE"
	// ReasonIgnoredByRule is returned when an exception keyword with ignore
	// behavior dropped the stream. This is policy, not a resolution failure.
	ReasonIgnoredByRule Reason = "IGNORED_BY_RULE"
	// ReasonDuplicateEvent is returned when the group's ignore mode dropped a
	// later stream for an event that already has a channel.
	ReasonDuplicateEvent Reason = "DUPLICATE_EVENT"
	// ReasonChildNoParentChannel is returned when a child-group stream matched
	// an event with no parent-group channel; child groups never create.
	ReasonChildNoParentChannel Reason = "CHILD_NO_PARENT_CHANNEL"
)

// Diagnostic records one stream that did not yield a channel.
type Diagnostic struct {
	StreamID       string
	StreamText     string
	Reason         Reason
	ParsedTeam1    string
	ParsedTeam2    string
	TierReached    string
	LeaguesChecked []string
}

// LeaguesCheckedString renders the league list for storage and display.
func (d Diagnostic) LeaguesCheckedString() string {
	return strings.Join(d.LeaguesChecked, ",")
}
