package bridge

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"cabana/internal/session"
)

// Config represents the complete bridge configuration
type Config struct {
	Panel    PanelConfig    `yaml:"panel"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
	Security SecurityConfig `yaml:"security"`
}

// PanelConfig contains the panel connection settings
type PanelConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	CommandPacing    string `yaml:"command_pacing"`
	DiscoveryPacing  string `yaml:"discovery_pacing"`
	DialTimeout      string `yaml:"dial_timeout"`
	HeartbeatTimeout string `yaml:"heartbeat_timeout"`
	ReconnectSpacing string `yaml:"reconnect_spacing"`

	RateLimit  int    `yaml:"rate_limit"`
	RateWindow string `yaml:"rate_window"`

	BreakerThreshold    int    `yaml:"breaker_threshold"`
	BreakerResetTimeout string `yaml:"breaker_reset_timeout"`

	DeadLetterSize      int    `yaml:"dead_letter_size"`
	DeadLetterRetention string `yaml:"dead_letter_retention"`
}

// APIConfig contains HTTP diagnostics API settings
type APIConfig struct {
	Address string `yaml:"address"`
	Timeout string `yaml:"timeout"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SecurityConfig contains API security settings
type SecurityConfig struct {
	AuthRequired bool       `yaml:"auth_required"`
	JWT          JWTConfig  `yaml:"jwt"`
	Operator     Credential `yaml:"operator"`
}

// JWTConfig contains JWT token settings
type JWTConfig struct {
	SecretKey   string `yaml:"secret_key"`
	Issuer      string `yaml:"issuer"`
	ExpiryHours int    `yaml:"expiry_hours"`
}

// Credential is the single operator account allowed to use the mutating
// API endpoints when auth is required
type Credential struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.setDefaults()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(config *Config, filepath string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filepath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// NewDefaultConfig creates a default configuration
func NewDefaultConfig() *Config {
	config := &Config{
		Panel: PanelConfig{
			Port: 6681,
		},
		API: APIConfig{
			Address: ":8081",
		},
	}
	config.setDefaults()
	return config
}

// setDefaults ensures all required fields have default values
func (c *Config) setDefaults() {
	if c.Panel.Port == 0 {
		c.Panel.Port = 6681
	}
	if c.Panel.CommandPacing == "" {
		c.Panel.CommandPacing = "250ms"
	}
	if c.Panel.DiscoveryPacing == "" {
		c.Panel.DiscoveryPacing = "100ms"
	}
	if c.Panel.DialTimeout == "" {
		c.Panel.DialTimeout = "10s"
	}
	if c.Panel.HeartbeatTimeout == "" {
		c.Panel.HeartbeatTimeout = "4h"
	}
	if c.Panel.ReconnectSpacing == "" {
		c.Panel.ReconnectSpacing = "30s"
	}
	if c.Panel.RateLimit == 0 {
		c.Panel.RateLimit = 30
	}
	if c.Panel.RateWindow == "" {
		c.Panel.RateWindow = "1m"
	}
	if c.Panel.BreakerThreshold == 0 {
		c.Panel.BreakerThreshold = 5
	}
	if c.Panel.BreakerResetTimeout == "" {
		c.Panel.BreakerResetTimeout = "60s"
	}
	if c.Panel.DeadLetterSize == 0 {
		c.Panel.DeadLetterSize = 100
	}
	if c.Panel.DeadLetterRetention == "" {
		c.Panel.DeadLetterRetention = "24h"
	}

	if c.API.Address == "" {
		c.API.Address = ":8081"
	}
	if c.API.Timeout == "" {
		c.API.Timeout = "15s"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Security.JWT.Issuer == "" {
		c.Security.JWT.Issuer = "cabana-bridge"
	}
	if c.Security.JWT.ExpiryHours == 0 {
		c.Security.JWT.ExpiryHours = 24
	}
}

// validate checks if the configuration values are valid
func (c *Config) validate() error {
	if c.Panel.Host == "" {
		return fmt.Errorf("panel host is required")
	}
	if c.Panel.Port <= 0 || c.Panel.Port > 65535 {
		return fmt.Errorf("panel port must be between 1 and 65535")
	}

	durations := map[string]string{
		"command_pacing":        c.Panel.CommandPacing,
		"discovery_pacing":      c.Panel.DiscoveryPacing,
		"dial_timeout":          c.Panel.DialTimeout,
		"heartbeat_timeout":     c.Panel.HeartbeatTimeout,
		"reconnect_spacing":     c.Panel.ReconnectSpacing,
		"rate_window":           c.Panel.RateWindow,
		"breaker_reset_timeout": c.Panel.BreakerResetTimeout,
		"dead_letter_retention": c.Panel.DeadLetterRetention,
		"api timeout":           c.API.Timeout,
	}
	for name, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s format: %w", name, err)
		}
	}

	validLevels := []string{"debug", "info", "warn", "error", "fatal", "panic"}
	levelValid := false
	for _, level := range validLevels {
		if c.Logging.Level == level {
			levelValid = true
			break
		}
	}
	if !levelValid {
		return fmt.Errorf("invalid logging level: %s (must be one of: %v)", c.Logging.Level, validLevels)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("logging format must be 'json' or 'text'")
	}

	if c.Security.AuthRequired {
		if c.Security.JWT.SecretKey == "" {
			return fmt.Errorf("JWT secret_key is required when auth is enabled")
		}
		if len(c.Security.JWT.SecretKey) < 32 {
			return fmt.Errorf("JWT secret_key must be at least 32 characters long for security")
		}
		if c.Security.Operator.Username == "" || c.Security.Operator.PasswordHash == "" {
			return fmt.Errorf("operator credentials are required when auth is enabled")
		}
		if c.Security.JWT.ExpiryHours <= 0 {
			return fmt.Errorf("JWT expiry_hours must be greater than 0")
		}
	}

	return nil
}

// PanelAddress returns the panel's host:port
func (c *Config) PanelAddress() string {
	return fmt.Sprintf("%s:%d", c.Panel.Host, c.Panel.Port)
}

// SessionConfig maps the panel settings onto a session configuration
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		Address:             c.PanelAddress(),
		DialTimeout:         mustDuration(c.Panel.DialTimeout),
		CommandPacing:       mustDuration(c.Panel.CommandPacing),
		DiscoveryPacing:     mustDuration(c.Panel.DiscoveryPacing),
		RateLimit:           c.Panel.RateLimit,
		RateWindow:          mustDuration(c.Panel.RateWindow),
		BreakerThreshold:    c.Panel.BreakerThreshold,
		BreakerResetTimeout: mustDuration(c.Panel.BreakerResetTimeout),
		DeadLetterSize:      c.Panel.DeadLetterSize,
		DeadLetterRetention: mustDuration(c.Panel.DeadLetterRetention),
		HeartbeatTimeout:    mustDuration(c.Panel.HeartbeatTimeout),
		ReconnectSpacing:    mustDuration(c.Panel.ReconnectSpacing),
	}
}

// GetAPITimeout returns the API timeout as a time.Duration
func (c *Config) GetAPITimeout() time.Duration {
	return mustDuration(c.API.Timeout)
}

// mustDuration parses a duration already checked by validate
func mustDuration(value string) time.Duration {
	duration, _ := time.ParseDuration(value)
	return duration
}
