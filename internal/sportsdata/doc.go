// Package sportsdata talks to the external sports data provider and serves
// event lookups through run-scoped caches.
//
// Client is the raw HTTP surface: scoreboard by (sport, league, date), team
// schedule, team list, and team info. Source wraps an API with a compute-once
// cache per key so concurrent matchers issue exactly one fetch, and provides
// the scoreboard-first, schedule-fallback lookup order the resolver relies on.
package sportsdata
