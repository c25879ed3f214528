package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// clearEnv isolates a test from overrides set in the developer's shell.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"STARDUST_SECRET", "SECRET_PASSWORD", "ALLOWED_ORIGIN", "STARDUST_STORAGE_DRIVER"} {
		t.Setenv(key, "")
	}
	t.Setenv("STARDUST_PATH", "/tmp/stardust-test")
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_SECRET", "s3cret")

	path := writeConfig(t, "config.jsonc", `{
	// This is a JSONC comment
	"gateway": {
		"host": "0.0.0.0",
		"port": 9999,
		"shutdown_timeout": "2s",
	},
	"auth": {"secret": "${{ .Env.TEST_SECRET }}"},
	"cors": {"allowed_origins": ["https://app.example.org", ".c.websim.com"]},
	"storage": {"driver": "bolt"},
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Gateway.Host != "0.0.0.0" {
		t.Errorf("expected host 0.0.0.0, got %s", cfg.Gateway.Host)
	}
	if cfg.Gateway.Port != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.Gateway.Port)
	}
	if cfg.Gateway.ShutdownTimeout.Duration() != 2*time.Second {
		t.Errorf("expected shutdown_timeout 2s, got %v", cfg.Gateway.ShutdownTimeout.Duration())
	}
	if cfg.Auth.Secret != "s3cret" {
		t.Errorf("expected templated secret, got %q", cfg.Auth.Secret)
	}
	if len(cfg.CORS.AllowedOrigins) != 2 || cfg.CORS.AllowedOrigins[1] != ".c.websim.com" {
		t.Errorf("unexpected allowed_origins %v", cfg.CORS.AllowedOrigins)
	}
	if cfg.Storage.Path != "/tmp/stardust-test/stardust.bolt" {
		t.Errorf("expected bolt default path, got %s", cfg.Storage.Path)
	}
}

func TestLoad_Formats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"yaml", "config.yaml", "gateway:\n  port: 9001\ncors:\n  allowed_origins:\n    - .example.com\nbackup:\n  keep: 3\n"},
		{"yml", "config.yml", "gateway:\n  port: 9001\ncors:\n  allowed_origins: [\".example.com\"]\nbackup:\n  keep: 3\n"},
		{"toml", "config.toml", "[gateway]\nport = 9001\n\n[cors]\nallowed_origins = [\".example.com\"]\n\n[backup]\nkeep = 3\n"},
		{"json", "config.json", `{"gateway": {"port": 9001}, "cors": {"allowed_origins": [".example.com"]}, "backup": {"keep": 3}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			cfg, err := Load(writeConfig(t, tt.file, tt.content))
			if err != nil {
				t.Fatal(err)
			}
			if cfg.Gateway.Port != 9001 {
				t.Errorf("port = %d, want 9001", cfg.Gateway.Port)
			}
			if len(cfg.CORS.AllowedOrigins) != 1 || cfg.CORS.AllowedOrigins[0] != ".example.com" {
				t.Errorf("allowed_origins = %v", cfg.CORS.AllowedOrigins)
			}
			if cfg.Backup.Keep != 3 {
				t.Errorf("keep = %d, want 3", cfg.Backup.Keep)
			}
		})
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(writeConfig(t, "config.jsonc", `{"gateway": `)); err == nil {
		t.Error("expected parse error")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.jsonc")); err == nil {
		t.Error("expected read error")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(writeConfig(t, "config.jsonc", `{}`))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Gateway.Host != "127.0.0.1" {
		t.Errorf("expected default host 127.0.0.1, got %s", cfg.Gateway.Host)
	}
	if cfg.Gateway.Port != 8787 {
		t.Errorf("expected default port 8787, got %d", cfg.Gateway.Port)
	}
	if cfg.Gateway.ShutdownTimeout.Duration() != 5*time.Second {
		t.Errorf("expected default shutdown 5s, got %v", cfg.Gateway.ShutdownTimeout.Duration())
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.Path != "/tmp/stardust-test/stardust.db" {
		t.Errorf("unexpected storage defaults %+v", cfg.Storage)
	}
	if cfg.Events.BufferSize != 256 {
		t.Errorf("expected default buffer 256, got %d", cfg.Events.BufferSize)
	}
	if cfg.Backup.Keep != 7 || cfg.Backup.Dir != "/tmp/stardust-test/backups" {
		t.Errorf("unexpected backup defaults %+v", cfg.Backup)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("unexpected log defaults %+v", cfg.Log)
	}
	if cfg.Auth.Secret != "" {
		t.Errorf("expected no secret, got %q", cfg.Auth.Secret)
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("SECRET_PASSWORD", "from-env")
	t.Setenv("ALLOWED_ORIGIN", " https://a.example.org , .websim.com,,")

	cfg := Default()
	if cfg.Auth.Secret != "from-env" {
		t.Errorf("secret = %q, want from-env", cfg.Auth.Secret)
	}
	want := []string{"https://a.example.org", ".websim.com"}
	if len(cfg.CORS.AllowedOrigins) != len(want) {
		t.Fatalf("allowed_origins = %v, want %v", cfg.CORS.AllowedOrigins, want)
	}
	for i := range want {
		if cfg.CORS.AllowedOrigins[i] != want[i] {
			t.Errorf("allowed_origins[%d] = %q, want %q", i, cfg.CORS.AllowedOrigins[i], want[i])
		}
	}
}

func TestEnvOverrides_FileWins(t *testing.T) {
	clearEnv(t)
	t.Setenv("STARDUST_SECRET", "from-env")
	t.Setenv("ALLOWED_ORIGIN", ".env.example")

	cfg, err := Load(writeConfig(t, "config.jsonc", `{"auth": {"secret": "from-file"}, "cors": {"allowed_origins": [".file.example"]}}`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Auth.Secret != "from-file" {
		t.Errorf("secret = %q, want from-file", cfg.Auth.Secret)
	}
	if len(cfg.CORS.AllowedOrigins) != 1 || cfg.CORS.AllowedOrigins[0] != ".file.example" {
		t.Errorf("allowed_origins = %v", cfg.CORS.AllowedOrigins)
	}
}

func TestLoadOrDefault_Missing(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.jsonc"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gateway.Port != 8787 {
		t.Errorf("expected defaults, got port %d", cfg.Gateway.Port)
	}
}

func TestExpandEnvTemplates(t *testing.T) {
	t.Setenv("TEST_KEY", "my-secret")
	result := expandEnvTemplates(`{"key": "${{ .Env.TEST_KEY }}"}`)
	expected := `{"key": "my-secret"}`
	if result != expected {
		t.Errorf("expected %s, got %s", expected, result)
	}
}
