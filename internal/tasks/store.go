package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dohr-michael/stardust/internal/codec"
	"github.com/dohr-michael/stardust/internal/storage/kv"
)

// Prefix is the key namespace of the task collection.
const Prefix = "tasks/"

// revisionKey is rewritten by every mutation; its versionstamp is the
// collection revision. ReplaceAll checks it, so any write that commits
// after ReplaceAll listed the collection makes it conflict, including the
// creation of a key it never saw.
const revisionKey = "meta/tasks/revision"

// Store persists tasks on a kv substrate, one key per task.
type Store struct {
	kv kv.Store
}

// NewStore creates a Store on db.
func NewStore(db kv.Store) *Store {
	return &Store{kv: db}
}

func taskKey(id string) string {
	return Prefix + id
}

// List returns every stored task in key order. Storage failures are
// logged and yield an empty list.
func (s *Store) List(ctx context.Context) []Task {
	entries, err := s.kv.List(ctx, Prefix)
	if err != nil {
		slog.Warn("list tasks failed, returning empty", "error", err)
		return []Task{}
	}

	out := make([]Task, 0, len(entries))
	for _, e := range entries {
		t, err := decodeTask(e.Value)
		if err != nil {
			slog.Warn("skipping corrupted task", "key", e.Key, "error", err)
			continue
		}
		out = append(out, t)
	}
	return out
}

// Snapshot returns every stored task in key order. Unlike List it reports
// storage failures and undecodable records, so an outage never reads as an
// empty collection.
func (s *Store) Snapshot(ctx context.Context) ([]Task, error) {
	entries, err := s.kv.List(ctx, Prefix)
	if err != nil {
		return nil, storageError("snapshot tasks", err)
	}

	out := make([]Task, 0, len(entries))
	for _, e := range entries {
		t, err := decodeTask(e.Value)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Key, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// Get returns the task with the given id. found is false when it does not
// exist.
func (s *Store) Get(ctx context.Context, id string) (task Task, found bool, err error) {
	if id == "" {
		return Task{}, false, fmt.Errorf("%w: id is required", ErrInvalidArgument)
	}

	e, err := s.kv.Get(ctx, taskKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return Task{}, false, nil
	}
	if err != nil {
		return Task{}, false, storageError("get task "+id, err)
	}

	t, err := decodeTask(e.Value)
	if err != nil {
		return Task{}, false, fmt.Errorf("decode task %s: %w", id, err)
	}
	return t, true, nil
}

// Upsert writes t under its id, overwriting any existing record.
func (s *Store) Upsert(ctx context.Context, t Task) error {
	if t.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidArgument)
	}

	data, err := codec.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", t.ID, err)
	}
	b := kv.NewBatch().Set(taskKey(t.ID), data).Set(revisionKey, nil)
	if err := s.kv.Commit(ctx, b); err != nil {
		return storageError("upsert task "+t.ID, err)
	}
	return nil
}

// Delete removes the task. Deleting an unknown id succeeds.
func (s *Store) Delete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidArgument)
	}
	b := kv.NewBatch().Delete(taskKey(id)).Set(revisionKey, nil)
	if err := s.kv.Commit(ctx, b); err != nil {
		return storageError("delete task "+id, err)
	}
	return nil
}

// ReplaceAll atomically swaps the whole collection for tasks. Tasks
// without an id get a fresh one. It returns the stored set; on
// ErrCommitConflict nothing changed and the caller may retry.
func (s *Store) ReplaceAll(ctx context.Context, tasks []Task) ([]Task, error) {
	existing, err := s.kv.List(ctx, Prefix)
	if err != nil {
		return nil, storageError("replace tasks: list", err)
	}

	var revision uint64
	rev, err := s.kv.Get(ctx, revisionKey)
	switch {
	case err == nil:
		revision = rev.Versionstamp
	case errors.Is(err, kv.ErrNotFound):
	default:
		return nil, storageError("replace tasks: read revision", err)
	}

	b := kv.NewBatch().Check(revisionKey, revision)
	for _, e := range existing {
		b.Check(e.Key, e.Versionstamp).Delete(e.Key)
	}

	stored := make([]Task, 0, len(tasks))
	seen := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		if t.ID == "" {
			t.ID = NewID()
		}
		if _, dup := seen[t.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidArgument, t.ID)
		}
		seen[t.ID] = struct{}{}
		t.Normalize()

		data, err := codec.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("encode task %s: %w", t.ID, err)
		}
		b.Set(taskKey(t.ID), data)
		stored = append(stored, t)
	}

	b.Set(revisionKey, nil)

	if err := s.kv.Commit(ctx, b); err != nil {
		if errors.Is(err, kv.ErrConflict) {
			return nil, ErrCommitConflict
		}
		return nil, storageError("replace tasks: commit", err)
	}

	slog.Debug("task collection replaced", "removed", len(existing), "stored", len(stored))
	return stored, nil
}

// Ping checks that the storage substrate answers.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.kv.Ping(ctx); err != nil {
		return storageError("ping", err)
	}
	return nil
}

func decodeTask(data []byte) (Task, error) {
	var t Task
	if err := codec.Unmarshal(data, &t); err != nil {
		return Task{}, err
	}
	t.Normalize()
	return t, nil
}

func storageError(op string, err error) error {
	if errors.Is(err, kv.ErrInvalidKey) {
		return fmt.Errorf("%s: %w: %w", op, ErrInvalidArgument, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}
