package schema

import "errors"

// ServiceConfig defines defaults and limits for the session coordinator.
type ServiceConfig struct {
	// DefaultSource is the audio source used when a start names none.
	DefaultSource string
	// SummaryThreshold is the number of completed fragments per summary.
	SummaryThreshold int
	// WindowCapacity bounds the summarization window.
	WindowCapacity int
	// TranscriptMaxFragments bounds the session transcript log. Zero keeps all.
	TranscriptMaxFragments int
}

const (
	// DefaultSummaryThreshold summarizes after every completed fragment.
	DefaultSummaryThreshold = 1
	// DefaultWindowCapacity is the summarization window size.
	DefaultWindowCapacity = 10
	// DefaultSource reads Ogg/Opus audio from stdin.
	DefaultSource = "-"
)

// NormalizeServiceConfig applies defaults and validates the config.
func NormalizeServiceConfig(cfg ServiceConfig) (ServiceConfig, error) {
	if cfg.DefaultSource == "" {
		cfg.DefaultSource = DefaultSource
	}
	if cfg.SummaryThreshold == 0 {
		cfg.SummaryThreshold = DefaultSummaryThreshold
	}
	if cfg.WindowCapacity == 0 {
		cfg.WindowCapacity = DefaultWindowCapacity
	}
	if cfg.SummaryThreshold < 0 {
		return ServiceConfig{}, errors.New("summary threshold must be positive")
	}
	if cfg.WindowCapacity < 0 {
		return ServiceConfig{}, errors.New("window capacity must be positive")
	}
	if cfg.TranscriptMaxFragments < 0 {
		return ServiceConfig{}, errors.New("transcript max fragments must not be negative")
	}
	return cfg, nil
}

// SettingOpenAIAPIKey is the persisted settings key holding the user's API key.
const SettingOpenAIAPIKey = "openaiApiKey"
