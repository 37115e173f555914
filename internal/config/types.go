package config

import "time"

// Config represents the complete gaiaboard configuration.
type Config struct {
	Service     ServiceConfig     `yaml:"service"`
	Database    DatabaseConfig    `yaml:"database"`
	Webhook     WebhookConfig     `yaml:"webhook"`
	API         APIConfig         `yaml:"api,omitempty"`
	Leaderboard LeaderboardConfig `yaml:"leaderboard,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	DataDir   string `yaml:"data_dir"`
}

// DatabaseConfig defines SQLite storage settings.
type DatabaseConfig struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// WebhookConfig defines the GitHub webhook listener.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	// Secret is the shared HMAC secret. When empty every delivery is
	// rejected unless AllowUnsigned is set explicitly.
	Secret        string `yaml:"secret"`
	AllowUnsigned bool   `yaml:"allow_unsigned"`
	MaxBodyBytes  int64  `yaml:"max_body_bytes"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Listen      string        `yaml:"listen"`
	CORSOrigins []string      `yaml:"cors_origins,omitempty"`
	Auth        APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// LeaderboardConfig defines materialization settings.
type LeaderboardConfig struct {
	Levels         []int         `yaml:"levels"`
	Splits         []string      `yaml:"splits"`
	RefreshOnStart bool          `yaml:"refresh_on_start"`
	// RefreshInterval re-runs a full refresh periodically. Zero disables it;
	// the pipeline already refreshes after every stored submission.
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "gaiaboard",
			LogLevel:  "info",
			LogFormat: "json",
			DataDir:   "./data",
		},
		Database: DatabaseConfig{
			Path:        "./data/gaiaboard.db",
			BusyTimeout: 5 * time.Second,
		},
		Webhook: WebhookConfig{
			Enabled:      true,
			Listen:       "127.0.0.1:9000",
			MaxBodyBytes: 1 << 20,
		},
		API: APIConfig{
			Enabled: true,
			Listen:  "127.0.0.1:8080",
		},
		Leaderboard: LeaderboardConfig{
			Levels:         []int{1, 2, 3},
			Splits:         []string{"validation", "test"},
			RefreshOnStart: true,
		},
	}
}
