package appconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("state_dir", cfg.StateDir)
	v.SetDefault("http.addr", cfg.HTTP.Addr)
	v.SetDefault("http.base_url", cfg.HTTP.BaseURL)
	v.SetDefault("http.base_path", cfg.HTTP.BasePath)
	v.SetDefault("http.heartbeat_seconds", cfg.HTTP.HeartbeatSeconds)
	v.SetDefault("proxy.addr", cfg.Proxy.Addr)
	v.SetDefault("proxy.upstream_url", cfg.Proxy.UpstreamURL)
	v.SetDefault("proxy.allow_origin", cfg.Proxy.AllowOrigin)
	v.SetDefault("proxy.client_key_hash", cfg.Proxy.ClientKeyHash)
	v.SetDefault("credential.token_url", cfg.Credential.TokenURL)
	v.SetDefault("credential.client_key", cfg.Credential.ClientKey)
	v.SetDefault("realtime.calls_url", cfg.Realtime.CallsURL)
	v.SetDefault("realtime.channel_label", cfg.Realtime.ChannelLabel)
	v.SetDefault("realtime.ice_servers", cfg.Realtime.ICEServers)
	v.SetDefault("realtime.playback_path", cfg.Realtime.PlaybackPath)
	v.SetDefault("session.default_source", cfg.Session.DefaultSource)
	v.SetDefault("session.transcript_max_fragments", cfg.Session.TranscriptMaxFragments)
	v.SetDefault("session.surface_buffer", cfg.Session.SurfaceBuffer)
	v.SetDefault("summary.base_url", cfg.Summary.BaseURL)
	v.SetDefault("summary.model", cfg.Summary.Model)
	v.SetDefault("summary.reasoning_effort", cfg.Summary.ReasoningEffort)
	v.SetDefault("summary.threshold", cfg.Summary.Threshold)
	v.SetDefault("summary.window_capacity", cfg.Summary.WindowCapacity)
	v.SetDefault("summary.max_payload_bytes", cfg.Summary.MaxPayloadBytes)
	v.SetDefault("summary.truncate_to", cfg.Summary.TruncateTo)
	v.SetDefault("summary.max_truncate_retries", cfg.Summary.MaxTruncateRetries)
	v.SetDefault("summary.history_context", cfg.Summary.HistoryContext)
	v.SetDefault("settings.key_store_path", cfg.Settings.KeyStorePath)
	v.SetDefault("window.url", cfg.Window.URL)
	v.SetDefault("window.exec_path", cfg.Window.ExecPath)
	v.SetDefault("window.width", cfg.Window.Width)
	v.SetDefault("window.height", cfg.Window.Height)
	v.SetDefault("window.headless", cfg.Window.Headless)
	v.SetDefault("metrics.namespace", cfg.Metrics.Namespace)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.InConfig("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
		if v.IsSet("proxy.upstream_key") || v.IsSet("proxy.api_key") {
			return Config{}, fmt.Errorf("the upstream API key must come from OPENAI_API_KEY, not the config file")
		}
		if !v.InConfig("state_dir") {
			return Config{}, fmt.Errorf("state_dir is required for config_version %d", CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validateHTTPConfig(cfg.HTTP); err != nil {
		return Config{}, err
	}
	if err := validateURL("credential.token_url", cfg.Credential.TokenURL); err != nil {
		return Config{}, err
	}
	if err := validateSummaryConfig(cfg.Summary); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateHTTPConfig(cfg HTTPConfig) error {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL != "" {
		if err := validateURL("http.base_url", baseURL); err != nil {
			return err
		}
	}
	basePath := strings.TrimSpace(cfg.BasePath)
	if basePath != "" {
		if strings.Contains(basePath, "://") {
			return fmt.Errorf("http.base_path must be a path prefix, not a URL")
		}
		if strings.ContainsAny(basePath, "?#") {
			return fmt.Errorf("http.base_path must not include query or fragment")
		}
	}
	return nil
}

func validateURL(key, value string) error {
	parsed, err := url.Parse(strings.TrimSpace(value))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("%s must include scheme and host (e.g. https://example.com)", key)
	}
	return nil
}

func validateSummaryConfig(cfg SummaryConfig) error {
	if cfg.Threshold <= 0 {
		return fmt.Errorf("summary.threshold must be positive")
	}
	if cfg.WindowCapacity <= 0 {
		return fmt.Errorf("summary.window_capacity must be positive")
	}
	if cfg.TruncateTo <= 0 || cfg.TruncateTo > cfg.WindowCapacity {
		return fmt.Errorf("summary.truncate_to must be between 1 and summary.window_capacity")
	}
	if cfg.MaxTruncateRetries < 0 {
		return fmt.Errorf("summary.max_truncate_retries must not be negative")
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.StateDir = expandEnv(cfg.StateDir)
	cfg.Settings.KeyStorePath = expandEnv(cfg.Settings.KeyStorePath)
	cfg.Realtime.PlaybackPath = expandEnv(cfg.Realtime.PlaybackPath)
	cfg.Window.ExecPath = expandEnv(cfg.Window.ExecPath)
	cfg.Credential.ClientKey = expandEnv(cfg.Credential.ClientKey)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
