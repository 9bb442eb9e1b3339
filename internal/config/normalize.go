package config

import (
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeLogging()
	c.normalizeProvider()
	c.normalizeChannelManager()
	c.normalizeLeagues()
	c.normalizeGroups()
	return nil
}

func (c *Config) normalizePaths() error {
	dataDir, err := expandPath(c.Paths.DataDir)
	if err != nil {
		return err
	}
	logDir, err := expandPath(c.Paths.LogDir)
	if err != nil {
		return err
	}
	c.Paths.DataDir = dataDir
	c.Paths.LogDir = logDir
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizeProvider() {
	c.Provider.BaseURL = strings.TrimRight(strings.TrimSpace(c.Provider.BaseURL), "/")
	c.Provider.APIKey = strings.TrimSpace(firstNonEmpty(os.Getenv("LINEUP_PROVIDER_API_KEY"), c.Provider.APIKey))
	if c.Provider.RequestTimeout <= 0 {
		c.Provider.RequestTimeout = defaultProviderTimeout
	}
	if c.Provider.LookaheadDays <= 0 {
		c.Provider.LookaheadDays = defaultLookaheadDays
	}
}

func (c *Config) normalizeChannelManager() {
	c.ChannelManager.BaseURL = strings.TrimRight(strings.TrimSpace(c.ChannelManager.BaseURL), "/")
	c.ChannelManager.APIKey = strings.TrimSpace(firstNonEmpty(os.Getenv("LINEUP_MANAGER_API_KEY"), c.ChannelManager.APIKey))
	c.ChannelManager.MarkerPrefix = strings.TrimSpace(c.ChannelManager.MarkerPrefix)
	if c.ChannelManager.MarkerPrefix == "" {
		c.ChannelManager.MarkerPrefix = defaultMarkerPrefix
	}
	if c.ChannelManager.RequestTimeout <= 0 {
		c.ChannelManager.RequestTimeout = defaultManagerTimeout
	}
	if c.ChannelManager.NumberStart <= 0 {
		c.ChannelManager.NumberStart = defaultChannelNumberStart
	}
}

func (c *Config) normalizeLeagues() {
	for i := range c.Leagues {
		league := &c.Leagues[i]
		league.Code = strings.ToLower(strings.TrimSpace(league.Code))
		league.Sport = strings.ToLower(strings.TrimSpace(league.Sport))
		league.DivisionGroup = strings.TrimSpace(league.DivisionGroup)
		aliases := league.Aliases[:0]
		for _, alias := range league.Aliases {
			if trimmed := strings.TrimSpace(alias); trimmed != "" {
				aliases = append(aliases, trimmed)
			}
		}
		league.Aliases = aliases
	}
}

func (c *Config) normalizeGroups() {
	for i := range c.Groups {
		group := &c.Groups[i]
		group.Name = strings.TrimSpace(group.Name)
		group.Mode = strings.ToLower(strings.TrimSpace(group.Mode))
		for j := range group.Keywords {
			keyword := &group.Keywords[j]
			variants := keyword.Variants[:0]
			for _, variant := range keyword.Variants {
				if trimmed := strings.TrimSpace(variant); trimmed != "" {
					variants = append(variants, trimmed)
				}
			}
			keyword.Variants = variants
			keyword.Behavior = strings.ToLower(strings.TrimSpace(keyword.Behavior))
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
