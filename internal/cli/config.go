package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config holds the runtime configuration for the viewer. It can be
// populated from CLI flags, config files, or both.
type Config struct {
	// Comment field for user documentation (ignored by the application)
	Comment string `json:"comment,omitempty"`

	// Telemetry sources
	Dir        string `json:"dir,omitempty"`         // directory of exported .jsonl files
	OtelConfig string `json:"otel_config,omitempty"` // otel-collector config to derive dirs from
	UseNotify  bool   `json:"use_notify,omitempty"`  // maintain the file listing from fs events

	// Polling and reading
	PollingIntervalMs int   `json:"polling_interval_ms,omitempty"`
	ChunkSizeBytes    int64 `json:"chunk_size_bytes,omitempty"`
	MaxFileSizeBytes  int64 `json:"max_file_size_bytes,omitempty"`

	// Retention
	MaxDataPoints int `json:"max_data_points,omitempty"` // per metric series
	MaxTraces     int `json:"max_traces,omitempty"`

	// Display
	TimeRange string `json:"time_range,omitempty"` // 5m, 15m, 1h, 6h, 24h

	// Web UI configuration
	WebHost string `json:"web_host,omitempty"`
	WebPort int    `json:"web_port,omitempty"` // 0 disables the web UI

	// Optional OTLP gRPC ingest
	OTLPEnabled bool   `json:"otlp_enabled,omitempty"`
	OTLPHost    string `json:"otlp_host,omitempty"`
	OTLPPort    int    `json:"otlp_port,omitempty"` // 0 means ephemeral

	// Persisted preferences database; empty uses the default path
	SettingsPath string `json:"settings_path,omitempty"`

	// Logging configuration
	Verbose bool `json:"verbose,omitempty"`
}

// DefaultConfig returns a Config with the defaults the viewer ships
// with: 2s polling, 5MiB chunks, 100MiB size warning, 1000 points per
// series, 1000 traces, a rolling 1h window, and no network listeners.
func DefaultConfig() *Config {
	return &Config{
		PollingIntervalMs: 2000,
		ChunkSizeBytes:    5 * 1024 * 1024,
		MaxFileSizeBytes:  100 * 1024 * 1024,
		MaxDataPoints:     1000,
		MaxTraces:         1000,
		TimeRange:         "1h",
		WebHost:           "127.0.0.1",
		WebPort:           0,
		OTLPHost:          "127.0.0.1",
		OTLPPort:          0,
		Verbose:           false,
	}
}

// LoadConfigFromFile loads configuration from a JSON file.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return &config, nil
}

// FindProjectConfig searches for a .otlp-tail.json config file. It
// starts in the current directory and walks up, stopping at a .git
// directory (project root) or the filesystem root.
func FindProjectConfig() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}

	for {
		configPath := filepath.Join(dir, ".otlp-tail.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}

		// Repo root without a config ends the search.
		gitPath := filepath.Join(dir, ".git")
		if _, err := os.Stat(gitPath); err == nil {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", os.ErrNotExist
}

// GlobalConfigPath returns ~/.config/otlp-tail/config.json.
func GlobalConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "otlp-tail", "config.json")
}

// DefaultSettingsPath returns ~/.config/otlp-tail/settings.db.
func DefaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "otlp-tail", "settings.db")
}

// MergeConfigs merges two configs with the overlay taking precedence.
// Zero-valued overlay fields leave the base value in place.
func MergeConfigs(base, overlay *Config) *Config {
	if base == nil {
		base = &Config{}
	}
	if overlay == nil {
		return base
	}

	merged := *base

	if overlay.Dir != "" {
		merged.Dir = overlay.Dir
	}
	if overlay.OtelConfig != "" {
		merged.OtelConfig = overlay.OtelConfig
	}
	if overlay.UseNotify {
		merged.UseNotify = overlay.UseNotify
	}

	if overlay.PollingIntervalMs > 0 {
		merged.PollingIntervalMs = overlay.PollingIntervalMs
	}
	if overlay.ChunkSizeBytes > 0 {
		merged.ChunkSizeBytes = overlay.ChunkSizeBytes
	}
	if overlay.MaxFileSizeBytes > 0 {
		merged.MaxFileSizeBytes = overlay.MaxFileSizeBytes
	}

	if overlay.MaxDataPoints > 0 {
		merged.MaxDataPoints = overlay.MaxDataPoints
	}
	if overlay.MaxTraces > 0 {
		merged.MaxTraces = overlay.MaxTraces
	}

	if overlay.TimeRange != "" {
		merged.TimeRange = overlay.TimeRange
	}

	if overlay.WebHost != "" {
		merged.WebHost = overlay.WebHost
	}
	if overlay.WebPort > 0 {
		merged.WebPort = overlay.WebPort
	}

	if overlay.OTLPEnabled {
		merged.OTLPEnabled = overlay.OTLPEnabled
	}
	if overlay.OTLPHost != "" {
		merged.OTLPHost = overlay.OTLPHost
	}
	if overlay.OTLPPort > 0 {
		merged.OTLPPort = overlay.OTLPPort
	}

	if overlay.SettingsPath != "" {
		merged.SettingsPath = overlay.SettingsPath
	}
	if overlay.Verbose {
		merged.Verbose = overlay.Verbose
	}

	return &merged
}

// LoadEffectiveConfig loads the effective configuration by merging:
// 1. Built-in defaults
// 2. Global config file (if exists)
// 3. Project config file (if exists and no explicit path)
// 4. Explicit config file (if specified via configPath)
// Later sources override earlier ones.
func LoadEffectiveConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	globalPath := GlobalConfigPath()
	if globalPath != "" {
		if globalCfg, err := LoadConfigFromFile(globalPath); err == nil {
			config = MergeConfigs(config, globalCfg)
		}
		// The global config is optional; errors are ignored.
	}

	if configPath == "" {
		if projectPath, err := FindProjectConfig(); err == nil {
			projectCfg, err := LoadConfigFromFile(projectPath)
			if err != nil {
				return nil, fmt.Errorf("failed to load project config: %w", err)
			}
			config = MergeConfigs(config, projectCfg)
		}
	} else {
		explicitCfg, err := LoadConfigFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		config = MergeConfigs(config, explicitCfg)
	}

	return config, nil
}
