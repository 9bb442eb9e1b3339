package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"lineup/internal/policy"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Provider contains configuration for the sports data provider API.
type Provider struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	RequestTimeout int    `toml:"request_timeout"`
	LookaheadDays  int    `toml:"lookahead_days"`
}

// ChannelManager contains configuration for the external channel system.
type ChannelManager struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	RequestTimeout int    `toml:"request_timeout"`
	MarkerPrefix   string `toml:"marker_prefix"`
	NumberStart    int    `toml:"number_start"`
}

// Matching contains configuration for stream-to-event resolution.
type Matching struct {
	EventWindowMinutes int    `toml:"event_window_minutes"`
	Workers            int    `toml:"workers"`
	DivisionPreference string `toml:"division_preference"`
}

// Lifecycle contains configuration for channel retention.
type Lifecycle struct {
	DeleteAfterHours int `toml:"delete_after_hours"`
}

// Reconcile contains the per-category fix policy for reconciliation findings.
// Each value is "fix" or "report".
type Reconcile struct {
	OrphanInternal string `toml:"orphan_internal"`
	OrphanExternal string `toml:"orphan_external"`
	Duplicate      string `toml:"duplicate"`
	Drift          string `toml:"drift"`
}

// League describes one enabled league.
type League struct {
	Code          string   `toml:"code"`
	Sport         string   `toml:"sport"`
	Aliases       []string `toml:"aliases"`
	DivisionGroup string   `toml:"division_group"`
}

// Keyword maps keyword variants to a handling behavior. The first variant is
// the canonical keyword.
type Keyword struct {
	Variants []string `toml:"variants"`
	Behavior string   `toml:"behavior"`
}

// Group describes one stream group. A group with parent != 0 is a child group:
// it inherits its parent's keyword rules and never creates channels itself.
type Group struct {
	ID       int64     `toml:"id"`
	Name     string    `toml:"name"`
	Mode     string    `toml:"mode"`
	Parent   int64     `toml:"parent"`
	Keywords []Keyword `toml:"keyword"`
}

// Prefilter contains patterns for rejecting non-matchup stream labels.
type Prefilter struct {
	SkipPatterns      []string `toml:"skip_patterns"`
	UnsupportedSports []string `toml:"unsupported_sports"`
}

// Config encapsulates all configuration values for lineup.
//
// Configuration sections by subsystem:
//   - Paths: data directory (registry database, run lock) and log directory
//   - Logging: log format and level
//   - Provider: sports data provider connection and lookahead horizon
//   - ChannelManager: external channel system connection and channel numbering
//   - Matching: resolution window, worker count, division tie-break
//   - Lifecycle: channel retention after event start
//   - Reconcile: per-category fix policy
//   - Leagues: enabled league set
//   - Groups: stream groups with duplicate-handling modes and keyword rules
//   - Prefilter: non-matchup content patterns
type Config struct {
	Paths          Paths          `toml:"paths"`
	Logging        Logging        `toml:"logging"`
	Provider       Provider       `toml:"provider"`
	ChannelManager ChannelManager `toml:"channel_manager"`
	Matching       Matching       `toml:"matching"`
	Lifecycle      Lifecycle      `toml:"lifecycle"`
	Reconcile      Reconcile      `toml:"reconcile"`
	Leagues        []League       `toml:"league"`
	Groups         []Group        `toml:"group"`
	Prefilter      Prefilter      `toml:"prefilter"`

	groups             *policy.GroupSet
	divisionPreference policy.DivisionPreference
	fixActions         map[string]policy.FixAction
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/lineup/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and all behavior strings validated into
// their closed policy types.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("lineup.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the data and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// GroupSet returns the validated stream groups. Only valid after Validate.
func (c *Config) GroupSet() *policy.GroupSet {
	return c.groups
}

// DivisionPreference returns the validated division tie-break preference.
func (c *Config) DivisionPreference() policy.DivisionPreference {
	return c.divisionPreference
}

// FixActionFor returns the validated fix action for a reconciliation category.
// Unknown categories default to report-only.
func (c *Config) FixActionFor(category string) policy.FixAction {
	if action, ok := c.fixActions[category]; ok {
		return action
	}
	return policy.FixActionReport
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
