package config

import (
	"os"
	"path/filepath"
)

// StardustPath returns the root directory for Stardust data.
// It uses $STARDUST_PATH if set, otherwise defaults to ~/.stardust.
func StardustPath() string {
	if v := os.Getenv("STARDUST_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".stardust")
	}
	return filepath.Join(home, ".stardust")
}

// ConfigPath returns the path to the Stardust config file.
func ConfigPath() string {
	return filepath.Join(StardustPath(), "config.jsonc")
}

// DotenvPath returns the path to the Stardust .env file.
func DotenvPath() string {
	return filepath.Join(StardustPath(), ".env")
}

// IdentityPath returns the default age identity file.
func IdentityPath() string {
	return filepath.Join(StardustPath(), ".age-key")
}
