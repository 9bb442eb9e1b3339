package config

const (
	defaultDataDir              = "~/.local/share/lineup"
	defaultLogDir               = "~/.local/share/lineup/logs"
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultProviderBaseURL      = "https://site.api.sportsdata.example/v2/sports"
	defaultProviderTimeout      = 15
	defaultLookaheadDays        = 10
	defaultManagerTimeout       = 15
	defaultMarkerPrefix         = "lineup-event-"
	defaultChannelNumberStart   = 8000
	defaultEventWindowMinutes   = 30
	defaultMatchingWorkers      = 8
	defaultDeleteAfterHours     = 6
	defaultReconcileFixAction   = "fix"
	defaultReconcileDriftAction = "fix"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Provider: Provider{
			BaseURL:        defaultProviderBaseURL,
			RequestTimeout: defaultProviderTimeout,
			LookaheadDays:  defaultLookaheadDays,
		},
		ChannelManager: ChannelManager{
			RequestTimeout: defaultManagerTimeout,
			MarkerPrefix:   defaultMarkerPrefix,
			NumberStart:    defaultChannelNumberStart,
		},
		Matching: Matching{
			EventWindowMinutes: defaultEventWindowMinutes,
			Workers:            defaultMatchingWorkers,
		},
		Lifecycle: Lifecycle{
			DeleteAfterHours: defaultDeleteAfterHours,
		},
		Reconcile: Reconcile{
			OrphanInternal: defaultReconcileFixAction,
			OrphanExternal: defaultReconcileFixAction,
			Duplicate:      defaultReconcileFixAction,
			Drift:          defaultReconcileDriftAction,
		},
		Prefilter: Prefilter{
			SkipPatterns: []string{
				`(?i)\b(pre|post)[- ]?game\b`,
				`(?i)\bstudio\b`,
				`(?i)\bhighlights?\b`,
				`(?i)\bclassic\b`,
				`(?i)\breplay\b`,
			},
			UnsupportedSports: []string{"cricket", "darts", "snooker"},
		},
	}
}
