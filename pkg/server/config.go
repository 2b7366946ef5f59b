package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server   ServerSection   `toml:"server"`
	Limits   LimitsSection   `toml:"limits"`
	Presence PresenceSection `toml:"presence"`
	Auth     AuthSection     `toml:"auth"`
}

type ServerSection struct {
	HTTPPort     int    `toml:"http_port"`
	DatabasePath string `toml:"database_path"`
}

type LimitsSection struct {
	MaxMessageLength    int `toml:"max_message_length"`
	WriteTimeoutSeconds int `toml:"write_timeout_seconds"`
}

type PresenceSection struct {
	RedisAddr      string `toml:"redis_addr"`
	RedisPassword  string `toml:"redis_password"`
	RedisDB        int    `toml:"redis_db"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type AuthSection struct {
	TokenSecret   string `toml:"token_secret"`
	TokenTTLHours int    `toml:"token_ttl_hours"`
}

// ServerConfig holds the resolved runtime configuration.
type ServerConfig struct {
	HTTPPort         int
	MaxMessageLength int
	WriteTimeout     time.Duration
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	PresenceTimeout  time.Duration
	TokenSecret      string
	TokenTTL         time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:         8090,
		MaxMessageLength: 4096,
		WriteTimeout:     10 * time.Second,
		RedisAddr:        "localhost:6379",
		PresenceTimeout:  3 * time.Second,
		TokenSecret:      "change-me",
		TokenTTL:         72 * time.Hour,
	}
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: ServerSection{
			HTTPPort:     8090,
			DatabasePath: "~/.huddle/huddle.db",
		},
		Limits: LimitsSection{
			MaxMessageLength:    4096,
			WriteTimeoutSeconds: 10,
		},
		Presence: PresenceSection{
			RedisAddr:      "localhost:6379",
			TimeoutSeconds: 3,
		},
		Auth: AuthSection{
			TokenSecret:   "change-me",
			TokenTTLHours: 72,
		},
	}
}

// LoadConfig loads configuration from a TOML file, creates default if not found
func LoadConfig(path string) (TOMLConfig, error) {
	expanded, err := expandHome(path)
	if err != nil {
		return TOMLConfig{}, err
	}

	if _, err := os.Stat(expanded); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		if err := writeDefaultConfig(expanded, config); err != nil {
			// If we can't write, just return defaults without error
			// (might be a permissions issue, but we can still run)
			return config, nil
		}
		return config, nil
	}

	var config TOMLConfig
	if _, err := toml.DecodeFile(expanded, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

// writeDefaultConfig writes the default config to a file
func writeDefaultConfig(path string, config TOMLConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	header := `# Huddle Server Configuration
# This file was auto-generated with default values
# Edit as needed and restart the server for changes to take effect

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ToServerConfig converts TOMLConfig to ServerConfig
func (c *TOMLConfig) ToServerConfig() ServerConfig {
	cfg := DefaultConfig()

	if c.Server.HTTPPort != 0 {
		cfg.HTTPPort = c.Server.HTTPPort
	}
	if c.Limits.MaxMessageLength != 0 {
		cfg.MaxMessageLength = c.Limits.MaxMessageLength
	}
	if c.Limits.WriteTimeoutSeconds != 0 {
		cfg.WriteTimeout = time.Duration(c.Limits.WriteTimeoutSeconds) * time.Second
	}
	if strings.TrimSpace(c.Presence.RedisAddr) != "" {
		cfg.RedisAddr = c.Presence.RedisAddr
	}
	cfg.RedisPassword = c.Presence.RedisPassword
	cfg.RedisDB = c.Presence.RedisDB
	if c.Presence.TimeoutSeconds != 0 {
		cfg.PresenceTimeout = time.Duration(c.Presence.TimeoutSeconds) * time.Second
	}
	if strings.TrimSpace(c.Auth.TokenSecret) != "" {
		cfg.TokenSecret = c.Auth.TokenSecret
	}
	if c.Auth.TokenTTLHours != 0 {
		cfg.TokenTTL = time.Duration(c.Auth.TokenTTLHours) * time.Hour
	}

	return cfg
}

// GetDatabasePath returns the database path with ~ expanded
func (c *TOMLConfig) GetDatabasePath() (string, error) {
	return expandHome(c.Server.DatabasePath)
}

func expandHome(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(homeDir, path[2:]), nil
	}
	return path, nil
}
