package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/stardust/internal/config"
	"github.com/dohr-michael/stardust/internal/events"
	"github.com/dohr-michael/stardust/internal/storage"
	"github.com/dohr-michael/stardust/internal/storage/kv"
	"github.com/dohr-michael/stardust/internal/tasks"
)

// loadConfig reads the file named by --config, falling back to defaults
// when it does not exist, and installs the logger it describes.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	path := cmd.String("config")
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	setupLogging(cfg.Log, cmd.Bool("debug"))
	slog.Debug("config loaded", "path", path)
	return cfg, nil
}

func setupLogging(cfg config.LogConfig, debug bool) {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// openStore opens the configured kv driver. The caller closes the
// returned kv.Store.
func openStore(cfg *config.Config) (*tasks.Store, kv.Store, error) {
	db, err := kv.Open(kv.Config{
		Driver:   cfg.Storage.Driver,
		Path:     cfg.Storage.Path,
		PoolSize: cfg.Storage.PoolSize,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open %s storage: %w", cfg.Storage.Driver, err)
	}
	slog.Debug("storage opened", "driver", cfg.Storage.Driver, "path", cfg.Storage.Path)
	return tasks.NewStore(db), db, nil
}

// local is the storage a CLI command works on directly, plus a private
// event bus feeding the audit log when events.log_dir is set.
type local struct {
	cfg   *config.Config
	store *tasks.Store
	db    kv.Store
	bus   *events.Bus
	log   *storage.EventLogger
}

func openLocal(cmd *cli.Command) (*local, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	store, db, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	l := &local{cfg: cfg, store: store, db: db}
	if cfg.Events.LogDir != "" {
		l.bus = events.NewBus(cfg.Events.BufferSize)
		l.log = storage.NewEventLogger(cfg.Events.LogDir, l.bus)
	}
	return l, nil
}

// publish records a change made from the command line. Nothing listens
// when the audit log is off.
func (l *local) publish(ctx context.Context, source events.EventSource, payload events.EventPayload) {
	if l.bus == nil {
		return
	}
	if err := l.bus.PublishAsync(ctx, events.NewTypedEvent(source, payload)); err != nil {
		slog.Warn("event not recorded", "type", payload.EventType(), "error", err)
	}
}

// Close flushes queued events to the audit log, then closes storage.
func (l *local) Close() {
	if l.bus != nil {
		l.bus.Close()
		l.log.Close()
	}
	l.db.Close()
}

// withLocal runs fn against the configured storage.
func withLocal(cmd *cli.Command, fn func(*local) error) error {
	l, err := openLocal(cmd)
	if err != nil {
		return err
	}
	defer l.Close()
	return fn(l)
}
