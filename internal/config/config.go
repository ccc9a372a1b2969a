// Package config handles loading and managing mailpane configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the mailpane configuration.
type Config struct {
	Data    DataConfig   `toml:"data"`
	OAuth   OAuthConfig  `toml:"oauth"`
	Sync    SyncConfig   `toml:"sync"`
	Push    PushConfig   `toml:"push"`
	Server  ServerConfig `toml:"server"`
	Account string       `toml:"account"` // Gmail account email

	// Computed paths (not from config file)
	HomeDir string `toml:"-"`
}

// DataConfig holds data storage configuration.
type DataConfig struct {
	DataDir string `toml:"data_dir"`
}

// OAuthConfig holds OAuth configuration.
type OAuthConfig struct {
	ClientSecrets string `toml:"client_secrets"`
}

// SyncConfig holds sync-related configuration.
type SyncConfig struct {
	RateLimitQPS int `toml:"rate_limit_qps"` // Gmail API QPS (default: 5)
	PageSize     int `toml:"page_size"`      // List page size (default: 20)
}

// PushConfig holds push-notification configuration.
type PushConfig struct {
	Topic string `toml:"topic"` // Pub/Sub topic for mailbox watch; empty disables push
}

// ServerConfig holds HTTP API server configuration.
type ServerConfig struct {
	BindAddr        string   `toml:"bind_addr"`        // Bind address (default: 127.0.0.1)
	APIPort         int      `toml:"api_port"`         // HTTP server port (default: 8080)
	APIKey          string   `toml:"api_key"`          // API authentication key
	CORSOrigins     []string `toml:"cors_origins"`     // Allowed CORS origins; empty disables CORS
	CORSCredentials bool     `toml:"cors_credentials"` // Allow credentialed CORS requests
	CORSMaxAge      int      `toml:"cors_max_age"`     // Preflight cache seconds
}

// DefaultHome returns the default mailpane home directory.
// Respects the MAILPANE_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("MAILPANE_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mailpane"
	}
	return filepath.Join(home, ".mailpane")
}

// Load reads the configuration from the specified file.
// If path is empty, uses the default location (~/.mailpane/config.toml).
func Load(path string) (*Config, error) {
	homeDir := DefaultHome()

	if path == "" {
		path = filepath.Join(homeDir, "config.toml")
	}

	cfg := &Config{
		HomeDir: homeDir,
		// Defaults
		Data: DataConfig{
			DataDir: homeDir,
		},
		Sync: SyncConfig{
			RateLimitQPS: 5,
			PageSize:     20,
		},
		Server: ServerConfig{
			BindAddr: "127.0.0.1",
			APIPort:  8080,
		},
	}

	// Config file is optional - use defaults if not present
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// Expand ~ in paths
	cfg.Data.DataDir = expandPath(cfg.Data.DataDir)
	cfg.OAuth.ClientSecrets = expandPath(cfg.OAuth.ClientSecrets)

	if cfg.Sync.PageSize < 1 {
		cfg.Sync.PageSize = 20
	}
	if cfg.Sync.RateLimitQPS < 1 {
		cfg.Sync.RateLimitQPS = 5
	}

	return cfg, nil
}

// DatabasePath returns the path to the SQLite cache database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Data.DataDir, "mailpane.db")
}

// TokensDir returns the path to the OAuth tokens directory.
func (c *Config) TokensDir() string {
	return filepath.Join(c.Data.DataDir, "tokens")
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
