package testsupport

import (
	"path/filepath"
	"testing"

	"lineup/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a validated config seeded with unique temp directories
// per test. It defaults a single NBA league and one consolidate group;
// options override before validation.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Provider.BaseURL = "http://provider.test"
	cfgVal.ChannelManager.BaseURL = "http://chanman.test"
	cfgVal.Leagues = []config.League{{Code: "nba", Sport: "basketball"}}
	cfgVal.Groups = []config.Group{{ID: 1, Name: "Sports", Mode: "consolidate"}}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.Validate(); err != nil {
		t.Fatalf("validate test config: %v", err)
	}
	return builder.cfg
}

// WithLeagues replaces the configured league set.
func WithLeagues(leagues ...config.League) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Leagues = leagues
	}
}

// WithGroups replaces the configured stream groups.
func WithGroups(groups ...config.Group) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Groups = groups
	}
}

// WithDivisionPreference sets the division tie-break preference.
func WithDivisionPreference(preference string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Matching.DivisionPreference = preference
	}
}
