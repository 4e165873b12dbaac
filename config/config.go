package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	TelegramToken     string `yaml:"telegram_token"`
	TwitterAPIKey     string `yaml:"twitter_api_key"`
	OpenRouterAPIKey  string `yaml:"openrouter_api_key"`
	OpenRouterModel   string `yaml:"openrouter_model"`
	TrackedUsername   string `yaml:"tracked_username"`
	AdminUsername     string `yaml:"admin_username"`
	StreamURL         string `yaml:"stream_url"`
	PingIntervalSecs  int    `yaml:"ping_interval_secs"`
	PongTimeoutSecs   int    `yaml:"pong_timeout_secs"`
	ReconnectDelaySec int    `yaml:"reconnect_delay_secs"`
	BatchCap          int    `yaml:"batch_cap"`
	NotifyDelaySecs   int    `yaml:"notify_delay_secs"`
	FetchTimeoutSecs  int    `yaml:"fetch_timeout_secs"`
	DBPath            string `yaml:"db_path"`
	MetricsAddr       string `yaml:"metrics_addr"`
	LogLevel          string `yaml:"log_level"`
}

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	applyDefaults(cfg)
	applyEnvironmentOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// GetConfigPath returns the config file path from environment or default.
func GetConfigPath() string {
	if path := os.Getenv("LSF_CONFIG"); path != "" {
		return path
	}
	return "./config.yaml"
}

func applyDefaults(cfg *Config) {
	if cfg.OpenRouterModel == "" {
		cfg.OpenRouterModel = "google/gemini-2.5-flash"
	}
	if cfg.StreamURL == "" {
		cfg.StreamURL = "wss://ws.twitterapi.io/twitter/tweet/websocket"
	}
	if cfg.PingIntervalSecs == 0 {
		cfg.PingIntervalSecs = 60
	}
	if cfg.PongTimeoutSecs == 0 {
		cfg.PongTimeoutSecs = 30
	}
	if cfg.ReconnectDelaySec == 0 {
		cfg.ReconnectDelaySec = 90
	}
	if cfg.BatchCap == 0 {
		cfg.BatchCap = 30
	}
	if cfg.NotifyDelaySecs == 0 {
		cfg.NotifyDelaySecs = 1
	}
	if cfg.FetchTimeoutSecs == 0 {
		cfg.FetchTimeoutSecs = 30
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./social-filter.db"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

func applyEnvironmentOverrides(cfg *Config) {
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		cfg.TelegramToken = token
	}
	if key := os.Getenv("TWITTERAPIIO_KEY"); key != "" {
		cfg.TwitterAPIKey = key
	}
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		cfg.OpenRouterAPIKey = key
	}
	if dbPath := os.Getenv("LSF_DB"); dbPath != "" {
		cfg.DBPath = dbPath
	}
}

func validate(cfg *Config) error {
	if cfg.TelegramToken == "" {
		return fmt.Errorf("telegram_token is required")
	}
	if cfg.TwitterAPIKey == "" {
		return fmt.Errorf("twitter_api_key is required")
	}
	if cfg.OpenRouterAPIKey == "" {
		return fmt.Errorf("openrouter_api_key is required")
	}
	if cfg.TrackedUsername == "" {
		return fmt.Errorf("tracked_username is required")
	}
	if cfg.AdminUsername == "" {
		return fmt.Errorf("admin_username is required")
	}
	// A pong timeout at or beyond the ping interval cannot detect a missed
	// acknowledgment before the next probe is already due.
	if cfg.PongTimeoutSecs >= cfg.PingIntervalSecs {
		return fmt.Errorf("pong_timeout_secs (%d) must be shorter than ping_interval_secs (%d)",
			cfg.PongTimeoutSecs, cfg.PingIntervalSecs)
	}
	return nil
}
