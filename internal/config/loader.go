package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"
)

var envTemplateRe = regexp.MustCompile(`\$\{\{\s*\.Env\.(\w+)\s*\}\}`)

// Load reads a config file, expands ${{ .Env.VAR }} templates, decodes it
// according to its extension (.jsonc/.json, .yaml/.yml, .toml), and applies
// environment overrides and defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand before parsing, since templates live inside strings.
	expanded := []byte(expandEnvTemplates(string(data)))

	doc, err := toJSON(filepath.Ext(path), expanded)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(doc, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Default().
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}

// Default returns a config built only from the environment and defaults.
func Default() *Config {
	cfg := &Config{}
	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	return cfg
}

// toJSON normalizes every supported format to plain JSON so a single set
// of json tags drives decoding.
func toJSON(ext string, data []byte) ([]byte, error) {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		var v map[string]any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		if v == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v)
	case ".toml":
		var v map[string]any
		if err := toml.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return json.Marshal(v)
	default:
		return hujson.Standardize(data)
	}
}

// expandEnvTemplates replaces ${{ .Env.VAR }} with the env var value.
func expandEnvTemplates(s string) string {
	return envTemplateRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envTemplateRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		return os.Getenv(parts[1])
	})
}

// applyEnvOverrides fills the secret and allow-list from the environment
// when the file leaves them empty.
func applyEnvOverrides(cfg *Config) {
	if cfg.Auth.Secret == "" {
		for _, key := range []string{"STARDUST_SECRET", "SECRET_PASSWORD"} {
			if v := os.Getenv(key); v != "" {
				cfg.Auth.Secret = v
				break
			}
		}
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		if v := os.Getenv("ALLOWED_ORIGIN"); v != "" {
			for _, entry := range strings.Split(v, ",") {
				if entry = strings.TrimSpace(entry); entry != "" {
					cfg.CORS.AllowedOrigins = append(cfg.CORS.AllowedOrigins, entry)
				}
			}
		}
	}
	if v := os.Getenv("STARDUST_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
}

// applyDefaults fills in zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "127.0.0.1"
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 8787
	}
	if cfg.Gateway.HealthText == "" {
		cfg.Gateway.HealthText = "Stardust backend is alive and well."
	}
	if cfg.Gateway.ShutdownTimeout == 0 {
		cfg.Gateway.ShutdownTimeout = Duration(5e9)
	}
	if cfg.Auth.IdentityFile == "" {
		cfg.Auth.IdentityFile = IdentityPath()
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.Path == "" {
		switch cfg.Storage.Driver {
		case "bolt":
			cfg.Storage.Path = filepath.Join(StardustPath(), "stardust.bolt")
		default:
			cfg.Storage.Path = filepath.Join(StardustPath(), "stardust.db")
		}
	}
	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = 256
	}
	if cfg.Backup.Dir == "" {
		cfg.Backup.Dir = filepath.Join(StardustPath(), "backups")
	}
	if cfg.Backup.Keep == 0 {
		cfg.Backup.Keep = 7
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
