package config

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
)

// Change describes what a reload altered. Access and Log can be applied
// to a running server; sections in Restart only take effect on restart.
type Change struct {
	Access  bool
	Log     bool
	Restart []string
}

// Diff compares two configs section by section.
func Diff(prev, next *Config) Change {
	var ch Change
	ch.Access = prev.Auth != next.Auth ||
		prev.CORS.DefaultOrigin != next.CORS.DefaultOrigin ||
		!slices.Equal(prev.CORS.AllowedOrigins, next.CORS.AllowedOrigins)
	ch.Log = prev.Log != next.Log

	if prev.Gateway != next.Gateway {
		ch.Restart = append(ch.Restart, "gateway")
	}
	if prev.Storage != next.Storage {
		ch.Restart = append(ch.Restart, "storage")
	}
	if prev.Events != next.Events {
		ch.Restart = append(ch.Restart, "events")
	}
	if prev.Backup != next.Backup {
		ch.Restart = append(ch.Restart, "backup")
	}
	return ch
}

// Reloader re-reads .env and the config file on demand, swaps the current
// config atomically and tells listeners what changed.
type Reloader struct {
	configPath string
	dotenvPath string
	current    atomic.Pointer[Config]
	mu         sync.Mutex // serializes reload
	listeners  []func(*Config, Change)
}

// NewReloader creates a Reloader with the given initial config.
func NewReloader(configPath, dotenvPath string, initial *Config) *Reloader {
	r := &Reloader{
		configPath: configPath,
		dotenvPath: dotenvPath,
	}
	r.current.Store(initial)
	return r
}

// Current returns the current config (lock-free atomic read).
func (r *Reloader) Current() *Config {
	return r.current.Load()
}

// OnReload registers a callback invoked after every successful reload.
func (r *Reloader) OnReload(fn func(*Config, Change)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Reload re-reads the .env file (overriding the process environment) and
// the config file. On error the current config is kept and no listener
// runs.
func (r *Reloader) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ReloadDotenv(r.dotenvPath); err != nil {
		return fmt.Errorf("reload dotenv: %w", err)
	}

	// Re-expands env templates and env overrides.
	next, err := LoadOrDefault(r.configPath)
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}

	ch := Diff(r.Current(), next)
	r.current.Store(next)
	slog.Info("config reloaded", "access_changed", ch.Access, "log_changed", ch.Log)
	if len(ch.Restart) > 0 {
		slog.Warn("config changes need a restart to apply", "sections", ch.Restart)
	}

	for _, fn := range r.listeners {
		fn(next, ch)
	}
	return nil
}
