package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv(EnvGoogleAPIKey, "key-from-env")
	t.Setenv(EnvSearchEngineID, "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BasicConfig.ServerAddress != DefaultServerAddress {
		t.Fatalf("unexpected address %q", cfg.BasicConfig.ServerAddress)
	}
	if got := cfg.Gemini(); got.APIKey != "key-from-env" || got.Model != DefaultModel {
		t.Fatalf("unexpected gemini config: %+v", got)
	}
	if cfg.Search.GoogleAPIKey != "key-from-env" {
		t.Fatalf("search key should fall back to the gemini key")
	}
	if cfg.MaxUploadBytes() != DefaultMaxUploadMB<<20 {
		t.Fatalf("unexpected upload limit %d", cfg.MaxUploadBytes())
	}
	if cfg.BasicConfig.MaxWorkers < cfg.BasicConfig.MinWorkers {
		t.Fatalf("max workers below min workers: %+v", cfg.BasicConfig)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadExplicitMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for explicit missing config")
	}
}

func TestLoadFileAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"basic_config": {"server_address": ":9000", "max_upload_mb": 5, "min_workers": 3, "max_workers": 1, "history_db": "SQLite3"},
		"providers": {"gemini": {"api_key": "file-key", "model": "gemini-test"}},
		"databases": {"sqlite3": {"dsn": "history.db"}}
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(EnvGoogleAPIKey, "env-key")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Gemini().APIKey != "file-key" {
		t.Fatalf("file key should win over env, got %q", cfg.Gemini().APIKey)
	}
	if cfg.Gemini().Model != "gemini-test" {
		t.Fatalf("unexpected model %q", cfg.Gemini().Model)
	}
	if cfg.BasicConfig.MaxWorkers != 3 {
		t.Fatalf("max workers should be raised to min workers, got %d", cfg.BasicConfig.MaxWorkers)
	}
	if cfg.BasicConfig.HistoryDB != "sqlite3" {
		t.Fatalf("history db not normalized: %q", cfg.BasicConfig.HistoryDB)
	}
	if want := filepath.Join(dir, "history.db"); cfg.Databases["sqlite3"].DSN != want {
		t.Fatalf("relative dsn not resolved: %q", cfg.Databases["sqlite3"].DSN)
	}
	if cfg.MaxUploadBytes() != 5<<20 {
		t.Fatalf("unexpected upload limit %d", cfg.MaxUploadBytes())
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.Validate(); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}

	cfg.Providers[DefaultProvider] = ProviderConfig{APIKey: "k"}
	cfg.BasicConfig.HistoryDB = "postgres"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unsupported history_db error")
	}
}
