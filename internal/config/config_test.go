package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("MAILPANE_HOME", tmpDir)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.APIPort != 8080 {
		t.Errorf("Server.APIPort = %d, want 8080", cfg.Server.APIPort)
	}
	if cfg.Server.BindAddr != "127.0.0.1" {
		t.Errorf("Server.BindAddr = %q, want loopback", cfg.Server.BindAddr)
	}
	if cfg.Sync.RateLimitQPS != 5 {
		t.Errorf("Sync.RateLimitQPS = %d, want 5", cfg.Sync.RateLimitQPS)
	}
	if cfg.Sync.PageSize != 20 {
		t.Errorf("Sync.PageSize = %d, want 20", cfg.Sync.PageSize)
	}
	if cfg.Push.Topic != "" {
		t.Errorf("Push.Topic = %q, want empty (push disabled)", cfg.Push.Topic)
	}
	if cfg.Data.DataDir != tmpDir {
		t.Errorf("Data.DataDir = %q, want %q", cfg.Data.DataDir, tmpDir)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("MAILPANE_HOME", tmpDir)

	configContent := `
account = "me@gmail.com"

[server]
api_port = 9090
api_key = "test-secret-key"
cors_origins = ["http://localhost:3000"]

[sync]
rate_limit_qps = 2
page_size = 50

[push]
topic = "projects/p/topics/mail"
`
	configPath := filepath.Join(tmpDir, "config.toml")
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Account != "me@gmail.com" {
		t.Errorf("Account = %q", cfg.Account)
	}
	if cfg.Server.APIPort != 9090 || cfg.Server.APIKey != "test-secret-key" {
		t.Errorf("server config = %+v", cfg.Server)
	}
	if len(cfg.Server.CORSOrigins) != 1 {
		t.Errorf("CORSOrigins = %v", cfg.Server.CORSOrigins)
	}
	if cfg.Sync.RateLimitQPS != 2 || cfg.Sync.PageSize != 50 {
		t.Errorf("sync config = %+v", cfg.Sync)
	}
	if cfg.Push.Topic != "projects/p/topics/mail" {
		t.Errorf("Push.Topic = %q", cfg.Push.Topic)
	}
}

func TestMissingFileUsesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("MAILPANE_HOME", tmpDir)

	cfg, err := Load(filepath.Join(tmpDir, "missing.toml"))
	if err != nil {
		t.Fatalf("Load() with missing file should use defaults, got %v", err)
	}
	if cfg.Server.APIPort != 8080 {
		t.Errorf("Server.APIPort = %d, want default", cfg.Server.APIPort)
	}
}

func TestInvalidTOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")
	if err := os.WriteFile(configPath, []byte("not [valid toml"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("Load() should reject invalid TOML")
	}
}

func TestDatabasePath(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("MAILPANE_HOME", tmpDir)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.DatabasePath(); got != filepath.Join(tmpDir, "mailpane.db") {
		t.Errorf("DatabasePath() = %q", got)
	}
	if got := cfg.TokensDir(); got != filepath.Join(tmpDir, "tokens") {
		t.Errorf("TokensDir() = %q", got)
	}
}
