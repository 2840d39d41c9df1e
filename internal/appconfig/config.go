package appconfig

import (
	"os"
	"path/filepath"

	"pkt.systems/signally/internal/credential"
	"pkt.systems/signally/internal/realtime"
	"pkt.systems/signally/internal/summarizer"
	"pkt.systems/signally/internal/tokenproxy"
	"pkt.systems/signally/internal/window"
	"pkt.systems/signally/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int              `mapstructure:"config_version" yaml:"config_version"`
	StateDir      string           `mapstructure:"state_dir" yaml:"state_dir"`
	HTTP          HTTPConfig       `mapstructure:"http" yaml:"http"`
	Proxy         ProxyConfig      `mapstructure:"proxy" yaml:"proxy"`
	Credential    CredentialConfig `mapstructure:"credential" yaml:"credential"`
	Realtime      RealtimeConfig   `mapstructure:"realtime" yaml:"realtime"`
	Session       SessionConfig    `mapstructure:"session" yaml:"session"`
	Summary       SummaryConfig    `mapstructure:"summary" yaml:"summary"`
	Settings      SettingsConfig   `mapstructure:"settings" yaml:"settings"`
	Window        WindowConfig     `mapstructure:"window" yaml:"window"`
	Metrics       MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// HTTPConfig configures the coordinator API server.
type HTTPConfig struct {
	Addr             string `mapstructure:"addr" yaml:"addr"`
	BaseURL          string `mapstructure:"base_url" yaml:"base_url"`
	BasePath         string `mapstructure:"base_path" yaml:"base_path"`
	HeartbeatSeconds int    `mapstructure:"heartbeat_seconds" yaml:"heartbeat_seconds"`
}

// ProxyConfig configures the token proxy. The upstream key comes from
// OPENAI_API_KEY and is never written to the config file.
type ProxyConfig struct {
	Addr          string `mapstructure:"addr" yaml:"addr"`
	UpstreamURL   string `mapstructure:"upstream_url" yaml:"upstream_url"`
	AllowOrigin   string `mapstructure:"allow_origin" yaml:"allow_origin"`
	ClientKeyHash string `mapstructure:"client_key_hash" yaml:"client_key_hash"`
}

// CredentialConfig configures how the coordinator reaches the token proxy.
type CredentialConfig struct {
	TokenURL  string `mapstructure:"token_url" yaml:"token_url"`
	ClientKey string `mapstructure:"client_key" yaml:"client_key"`
}

// RealtimeConfig configures the realtime transcription connection.
type RealtimeConfig struct {
	CallsURL     string   `mapstructure:"calls_url" yaml:"calls_url"`
	ChannelLabel string   `mapstructure:"channel_label" yaml:"channel_label"`
	ICEServers   []string `mapstructure:"ice_servers" yaml:"ice_servers"`
	// PlaybackPath records remote audio to an Ogg file when set.
	PlaybackPath string `mapstructure:"playback_path" yaml:"playback_path"`
}

// SessionConfig controls coordinator behavior.
type SessionConfig struct {
	DefaultSource          string `mapstructure:"default_source" yaml:"default_source"`
	TranscriptMaxFragments int    `mapstructure:"transcript_max_fragments" yaml:"transcript_max_fragments"`
	SurfaceBuffer          int    `mapstructure:"surface_buffer" yaml:"surface_buffer"`
}

// SummaryConfig controls the summarization engine.
type SummaryConfig struct {
	BaseURL            string `mapstructure:"base_url" yaml:"base_url"`
	Model              string `mapstructure:"model" yaml:"model"`
	ReasoningEffort    string `mapstructure:"reasoning_effort" yaml:"reasoning_effort"`
	Threshold          int    `mapstructure:"threshold" yaml:"threshold"`
	WindowCapacity     int    `mapstructure:"window_capacity" yaml:"window_capacity"`
	MaxPayloadBytes    int    `mapstructure:"max_payload_bytes" yaml:"max_payload_bytes"`
	TruncateTo         int    `mapstructure:"truncate_to" yaml:"truncate_to"`
	MaxTruncateRetries int    `mapstructure:"max_truncate_retries" yaml:"max_truncate_retries"`
	HistoryContext     int    `mapstructure:"history_context" yaml:"history_context"`
}

// SettingsConfig controls the persisted settings document.
type SettingsConfig struct {
	// KeyStorePath enables sealing the document at rest. Empty stores it in
	// clear text.
	KeyStorePath string `mapstructure:"key_store_path" yaml:"key_store_path"`
}

// WindowConfig controls the detached popup window.
type WindowConfig struct {
	URL      string `mapstructure:"url" yaml:"url"`
	ExecPath string `mapstructure:"exec_path" yaml:"exec_path"`
	Width    int    `mapstructure:"width" yaml:"width"`
	Height   int    `mapstructure:"height" yaml:"height"`
	Headless bool   `mapstructure:"headless" yaml:"headless"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      filepath.Join(home, ".signally", "state"),
		HTTP: HTTPConfig{
			Addr:             "127.0.0.1:27490",
			BaseURL:          "",
			BasePath:         "",
			HeartbeatSeconds: 15,
		},
		Proxy: ProxyConfig{
			Addr:          tokenproxy.DefaultAddr,
			UpstreamURL:   tokenproxy.DefaultUpstreamURL,
			AllowOrigin:   tokenproxy.DefaultAllowOrigin,
			ClientKeyHash: "",
		},
		Credential: CredentialConfig{
			TokenURL:  credential.DefaultTokenURL,
			ClientKey: "",
		},
		Realtime: RealtimeConfig{
			CallsURL:     realtime.DefaultCallsURL,
			ChannelLabel: realtime.DefaultChannelLabel,
			ICEServers:   []string{"stun:stun.l.google.com:19302"},
			PlaybackPath: "",
		},
		Session: SessionConfig{
			DefaultSource:          schema.DefaultSource,
			TranscriptMaxFragments: 0,
			SurfaceBuffer:          256,
		},
		Summary: SummaryConfig{
			BaseURL:            summarizer.DefaultBaseURL,
			Model:              summarizer.DefaultModel,
			ReasoningEffort:    summarizer.DefaultReasoningEffort,
			Threshold:          schema.DefaultSummaryThreshold,
			WindowCapacity:     schema.DefaultWindowCapacity,
			MaxPayloadBytes:    summarizer.DefaultMaxPayloadBytes,
			TruncateTo:         summarizer.DefaultTruncateTo,
			MaxTruncateRetries: summarizer.DefaultMaxTruncateRetries,
			HistoryContext:     summarizer.DefaultHistoryContext,
		},
		Settings: SettingsConfig{
			KeyStorePath: filepath.Join(home, ".signally", "state", "keys.pb"),
		},
		Window: WindowConfig{
			URL:      "",
			ExecPath: "",
			Width:    window.DefaultWidth,
			Height:   window.DefaultHeight,
			Headless: false,
		},
		Metrics: MetricsConfig{
			Namespace: "signally",
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".signally", "config.yaml"), nil
}

// ServiceConfig returns the coordinator config.
func (c Config) ServiceConfig() schema.ServiceConfig {
	return schema.ServiceConfig{
		DefaultSource:          c.Session.DefaultSource,
		SummaryThreshold:       c.Summary.Threshold,
		WindowCapacity:         c.Summary.WindowCapacity,
		TranscriptMaxFragments: c.Session.TranscriptMaxFragments,
	}
}

// SummarizerConfig returns the engine config. A max_truncate_retries of 0
// disables the retry.
func (c Config) SummarizerConfig() summarizer.Config {
	retries := c.Summary.MaxTruncateRetries
	if retries == 0 {
		retries = summarizer.NoTruncateRetry
	}
	return summarizer.Config{
		Model:              c.Summary.Model,
		ReasoningEffort:    c.Summary.ReasoningEffort,
		Threshold:          c.Summary.Threshold,
		WindowCapacity:     c.Summary.WindowCapacity,
		MaxPayloadBytes:    c.Summary.MaxPayloadBytes,
		TruncateTo:         c.Summary.TruncateTo,
		MaxTruncateRetries: retries,
		HistoryContext:     c.Summary.HistoryContext,
	}
}

// WindowURL returns the popup page URL. An empty window.url uses the API
// root.
func (c Config) WindowURL() string {
	if c.Window.URL != "" {
		return c.Window.URL
	}
	return c.APIURL()
}

// APIURL returns the coordinator API root, derived from http.addr and
// http.base_path when http.base_url is empty.
func (c Config) APIURL() string {
	if c.HTTP.BaseURL != "" {
		return c.HTTP.BaseURL
	}
	addr := c.HTTP.Addr
	if len(addr) > 0 && addr[0] == ':' {
		addr = "127.0.0.1" + addr
	}
	path := c.HTTP.BasePath
	if path == "" {
		path = "/"
	} else if path[len(path)-1] != '/' {
		path += "/"
	}
	if path[0] != '/' {
		path = "/" + path
	}
	return "http://" + addr + path
}
