package config

import "time"

// Config is the root configuration for Stardust.
type Config struct {
	Gateway GatewayConfig `json:"gateway"`
	Auth    AuthConfig    `json:"auth"`
	CORS    CORSConfig    `json:"cors"`
	Storage StorageConfig `json:"storage"`
	Events  EventsConfig  `json:"events"`
	Backup  BackupConfig  `json:"backup"`
	Log     LogConfig     `json:"log"`
}

// GatewayConfig holds the HTTP server settings.
type GatewayConfig struct {
	Host            string   `json:"host"`
	Port            int      `json:"port"`
	HealthText      string   `json:"health_text,omitempty"`
	ShutdownTimeout Duration `json:"shutdown_timeout,omitempty"`
}

// AuthConfig holds the shared secret. Secret may be an ENC[age:...] blob,
// decrypted with the identity in IdentityFile.
type AuthConfig struct {
	Secret       string `json:"secret,omitempty"`
	IdentityFile string `json:"identity_file,omitempty"`
}

// CORSConfig configures the origin allow-list.
type CORSConfig struct {
	AllowedOrigins []string `json:"allowed_origins"` // exact origins and ".suffix" patterns
	DefaultOrigin  string   `json:"default_origin,omitempty"`
}

// StorageConfig selects the kv driver.
type StorageConfig struct {
	Driver   string `json:"driver"` // "sqlite", "bolt", "memory"
	Path     string `json:"path"`
	PoolSize int    `json:"pool_size,omitempty"`
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int    `json:"buffer_size"`
	LogDir     string `json:"log_dir,omitempty"` // daily JSONL audit files; empty disables
}

// BackupConfig configures snapshot export.
type BackupConfig struct {
	Dir      string `json:"dir"`
	Schedule string `json:"schedule,omitempty"` // 5-field cron; empty disables
	Keep     int    `json:"keep"`
}

// LogConfig configures slog.
type LogConfig struct {
	Level  string `json:"level"`  // "debug", "info", "warn", "error"
	Format string `json:"format"` // "text", "json"
}

// Duration wraps time.Duration for JSON unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
