package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file.
// A directory path is accepted and resolves to config.yaml inside it.
func Load(configPath string) (*Config, error) {
	// Resolve to absolute path for consistent relative path resolution
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	// Apply environment variable interpolation before parsing
	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults merges default values into config where not explicitly set.
func applyDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.Service.DataDir == "" {
		cfg.Service.DataDir = defaults.Service.DataDir
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = filepath.Join(cfg.Service.DataDir, "gaiaboard.db")
	}
	if cfg.Database.BusyTimeout == 0 {
		cfg.Database.BusyTimeout = defaults.Database.BusyTimeout
	}

	if cfg.Webhook.Listen == "" {
		cfg.Webhook.Listen = defaults.Webhook.Listen
	}
	if cfg.Webhook.MaxBodyBytes == 0 {
		cfg.Webhook.MaxBodyBytes = defaults.Webhook.MaxBodyBytes
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}

	if len(cfg.Leaderboard.Levels) == 0 {
		cfg.Leaderboard.Levels = defaults.Leaderboard.Levels
	}
	if len(cfg.Leaderboard.Splits) == 0 {
		cfg.Leaderboard.Splits = defaults.Leaderboard.Splits
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]

		if value, exists := os.LookupEnv(varName); exists {
			return value
		}

		// If not found, leave the placeholder (will fail validation if required)
		return match
	})
}

var validScopes = map[string]bool{"read": true, "submit": true, "admin": true}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}

	if cfg.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if cfg.Database.BusyTimeout <= 0 {
		return fmt.Errorf("database.busy_timeout must be positive")
	}

	if cfg.Webhook.Enabled {
		if cfg.Webhook.Listen == "" {
			return fmt.Errorf("webhook.listen is required when the webhook listener is enabled")
		}
		if cfg.Webhook.MaxBodyBytes <= 0 {
			return fmt.Errorf("webhook.max_body_bytes must be positive")
		}
		// Check for unresolved env vars (security: no secrets leaked in logs)
		if envVarPattern.MatchString(cfg.Webhook.Secret) {
			matches := envVarPattern.FindStringSubmatch(cfg.Webhook.Secret)
			if len(matches) > 1 {
				return fmt.Errorf("webhook.secret: environment variable ${%s} is not set", matches[1])
			}
			return fmt.Errorf("webhook.secret: unresolved environment variable")
		}
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when the API server is enabled")
		}
		for i, tok := range cfg.API.Auth.Tokens {
			if tok.Token == "" {
				return fmt.Errorf("api.auth.tokens[%d].token is required", i)
			}
			if envVarPattern.MatchString(tok.Token) {
				matches := envVarPattern.FindStringSubmatch(tok.Token)
				if len(matches) > 1 {
					return fmt.Errorf("api.auth.tokens[%d].token: environment variable ${%s} is not set", i, matches[1])
				}
				return fmt.Errorf("api.auth.tokens[%d].token: unresolved environment variable", i)
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("api.auth.tokens[%d].scopes must be non-empty", i)
			}
			for _, scope := range tok.Scopes {
				if !validScopes[scope] {
					return fmt.Errorf("api.auth.tokens[%d]: unknown scope %q (valid: read, submit, admin)", i, scope)
				}
			}
		}
	}

	for _, level := range cfg.Leaderboard.Levels {
		if level < 1 || level > 3 {
			return fmt.Errorf("leaderboard.levels: level must be between 1 and 3 (got %d)", level)
		}
	}
	for _, split := range cfg.Leaderboard.Splits {
		if split == "" {
			return fmt.Errorf("leaderboard.splits must not contain empty values")
		}
	}
	if cfg.Leaderboard.RefreshInterval < 0 {
		return fmt.Errorf("leaderboard.refresh_interval must not be negative")
	}

	return nil
}
