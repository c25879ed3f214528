package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/dohr-michael/stardust/internal/events"
	"github.com/dohr-michael/stardust/internal/tasks"
)

const (
	filePrefix = "stardust-"
	fileSuffix = ".json.zst"
	stampFmt   = "20060102T150405.000000000Z"
)

// Store is the part of the task store a backup reads and restores into.
// Snapshot must report storage errors: an unreadable collection is never
// written out as an empty one.
type Store interface {
	Snapshot(ctx context.Context) ([]tasks.Task, error)
	ReplaceAll(ctx context.Context, ts []tasks.Task) ([]tasks.Task, error)
}

// Manager writes snapshots into a directory and prunes old ones.
type Manager struct {
	dir   string
	keep  int
	store Store
	bus   *events.Bus
	now   func() time.Time
}

// NewManager creates a Manager. keep <= 0 disables pruning. bus may be nil.
func NewManager(dir string, keep int, store Store, bus *events.Bus) *Manager {
	return &Manager{dir: dir, keep: keep, store: store, bus: bus, now: time.Now}
}

// Dir returns the backup directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Export snapshots the current collection into a new file and returns its
// path. Older snapshots are pruned only after a successful write.
func (m *Manager) Export(ctx context.Context) (string, error) {
	ts, err := m.store.Snapshot(ctx)
	if err != nil {
		return "", fmt.Errorf("read collection: %w", err)
	}

	now := m.now().UTC()
	data, err := Encode(ts, now)
	if err != nil {
		return "", err
	}

	path := filepath.Join(m.dir, filePrefix+now.Format(stampFmt)+fileSuffix)
	if err := WriteFileAtomic(path, data); err != nil {
		return "", err
	}
	slog.Info("backup written", "path", path, "bytes", len(data))

	if err := m.Prune(); err != nil {
		slog.Warn("backup prune failed", "error", err)
	}
	return path, nil
}

// ExportTo writes a snapshot to an explicit path.
func (m *Manager) ExportTo(ctx context.Context, path string) (int, error) {
	ts, err := m.store.Snapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("read collection: %w", err)
	}
	data, err := Encode(ts, m.now())
	if err != nil {
		return 0, err
	}
	if err := WriteFileAtomic(path, data); err != nil {
		return 0, err
	}
	return len(ts), nil
}

// Restore replaces the whole collection with the snapshot at path. An
// invalid snapshot leaves the collection untouched.
func (m *Manager) Restore(ctx context.Context, path string) ([]tasks.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	snap, ts, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", filepath.Base(path), err)
	}

	stored, err := m.store.ReplaceAll(ctx, ts)
	if err != nil {
		return nil, fmt.Errorf("restore snapshot: %w", err)
	}
	slog.Info("backup restored", "path", path, "tasks", len(stored), "created_at", snap.CreatedAt)

	if m.bus != nil {
		m.bus.Publish(events.NewTypedEvent(events.SourceBackup, events.TasksReplacedPayload{Count: len(stored), Tasks: stored}))
	}
	return stored, nil
}

// List returns snapshot paths in the backup directory, oldest first.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list backups: %w", err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.Type().IsRegular() && strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileSuffix) {
			names = append(names, name)
		}
	}
	// Timestamps are fixed-width, so lexical order is chronological.
	slices.Sort(names)

	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(m.dir, n)
	}
	return paths, nil
}

// Latest returns the newest snapshot path, or "" when none exist.
func (m *Manager) Latest() (string, error) {
	paths, err := m.List()
	if err != nil || len(paths) == 0 {
		return "", err
	}
	return paths[len(paths)-1], nil
}

// Prune removes all but the newest keep snapshots.
func (m *Manager) Prune() error {
	if m.keep <= 0 {
		return nil
	}
	paths, err := m.List()
	if err != nil {
		return err
	}
	if len(paths) <= m.keep {
		return nil
	}

	var errs []error
	for _, p := range paths[:len(paths)-m.keep] {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		slog.Debug("backup pruned", "path", p)
	}
	return errors.Join(errs...)
}

// WriteFileAtomic writes content to path through a temp file and rename,
// creating the parent directory if needed.
func WriteFileAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create tmp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("write tmp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync tmp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close tmp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
