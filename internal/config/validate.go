package config

import (
	"errors"
	"fmt"
	"regexp"

	"lineup/internal/policy"
)

// Validate ensures the configuration is usable and converts string-typed
// behavior fields into their closed policy types.
func (c *Config) Validate() error {
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateProvider(); err != nil {
		return err
	}
	if err := c.validateChannelManager(); err != nil {
		return err
	}
	if err := c.validateMatching(); err != nil {
		return err
	}
	if err := c.validateLeagues(); err != nil {
		return err
	}
	if err := c.validateGroups(); err != nil {
		return err
	}
	if err := c.validateReconcile(); err != nil {
		return err
	}
	if err := c.validatePrefilter(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}

func (c *Config) validateProvider() error {
	if c.Provider.BaseURL == "" {
		return errors.New("provider.base_url must be set")
	}
	return nil
}

func (c *Config) validateChannelManager() error {
	if c.ChannelManager.BaseURL == "" {
		return errors.New("channel_manager.base_url must be set")
	}
	if c.ChannelManager.MarkerPrefix == "" {
		return errors.New("channel_manager.marker_prefix must be set")
	}
	return nil
}

func (c *Config) validateMatching() error {
	if c.Matching.EventWindowMinutes <= 0 {
		return errors.New("matching.event_window_minutes must be positive")
	}
	if c.Matching.Workers <= 0 {
		return errors.New("matching.workers must be positive")
	}
	preference, ok := policy.ParseDivisionPreference(c.Matching.DivisionPreference)
	if !ok {
		return fmt.Errorf("matching.division_preference: unsupported value %q", c.Matching.DivisionPreference)
	}
	c.divisionPreference = preference
	return nil
}

func (c *Config) validateLeagues() error {
	if len(c.Leagues) == 0 {
		return errors.New("at least one [[league]] must be configured")
	}
	seen := make(map[string]struct{}, len(c.Leagues))
	for _, league := range c.Leagues {
		if league.Code == "" {
			return errors.New("league.code must be set")
		}
		if league.Sport == "" {
			return fmt.Errorf("league %q: sport must be set", league.Code)
		}
		if _, ok := seen[league.Code]; ok {
			return fmt.Errorf("league %q configured twice", league.Code)
		}
		seen[league.Code] = struct{}{}
	}
	return nil
}

func (c *Config) validateGroups() error {
	if len(c.Groups) == 0 {
		return errors.New("at least one [[group]] must be configured")
	}

	validated := make([]policy.Group, 0, len(c.Groups))
	ids := make(map[int64]struct{}, len(c.Groups))
	for _, group := range c.Groups {
		if group.ID <= 0 {
			return fmt.Errorf("group %q: id must be positive", group.Name)
		}
		if _, ok := ids[group.ID]; ok {
			return fmt.Errorf("group id %d configured twice", group.ID)
		}
		ids[group.ID] = struct{}{}

		mode, ok := policy.ParseMode(group.Mode)
		if !ok {
			return fmt.Errorf("group %d: unsupported mode %q", group.ID, group.Mode)
		}

		if group.Parent != 0 && len(group.Keywords) > 0 {
			return fmt.Errorf("group %d: child groups cannot own keyword rules", group.ID)
		}

		rules := make([]policy.KeywordRule, 0, len(group.Keywords))
		for _, keyword := range group.Keywords {
			if len(keyword.Variants) == 0 {
				return fmt.Errorf("group %d: keyword rule with no variants", group.ID)
			}
			behavior, ok := policy.ParseBehavior(keyword.Behavior)
			if !ok {
				return fmt.Errorf("group %d: unsupported keyword behavior %q", group.ID, keyword.Behavior)
			}
			rules = append(rules, policy.KeywordRule{
				Variants: append([]string(nil), keyword.Variants...),
				Behavior: behavior,
			})
		}

		validated = append(validated, policy.Group{
			ID:       group.ID,
			Name:     group.Name,
			Mode:     mode,
			ParentID: group.Parent,
			Keywords: rules,
		})
	}

	for _, group := range validated {
		if group.ParentID == 0 {
			continue
		}
		if _, ok := ids[group.ParentID]; !ok {
			return fmt.Errorf("group %d: parent %d does not exist", group.ID, group.ParentID)
		}
		if group.ParentID == group.ID {
			return fmt.Errorf("group %d: cannot be its own parent", group.ID)
		}
	}

	c.groups = policy.NewGroupSet(validated)
	return nil
}

func (c *Config) validateReconcile() error {
	actions := map[string]string{
		"orphan_internal": c.Reconcile.OrphanInternal,
		"orphan_external": c.Reconcile.OrphanExternal,
		"duplicate":       c.Reconcile.Duplicate,
		"drift":           c.Reconcile.Drift,
	}
	c.fixActions = make(map[string]policy.FixAction, len(actions))
	for category, value := range actions {
		action, ok := policy.ParseFixAction(value)
		if !ok {
			return fmt.Errorf("reconcile.%s: unsupported value %q", category, value)
		}
		c.fixActions[category] = action
	}
	return nil
}

func (c *Config) validatePrefilter() error {
	for _, pattern := range c.Prefilter.SkipPatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("prefilter.skip_patterns: invalid pattern %q: %w", pattern, err)
		}
	}
	return nil
}
