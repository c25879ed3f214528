package kv

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/dohr-michael/stardust/internal/storage/sqlitepool"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key          TEXT PRIMARY KEY,
	value        BLOB,
	versionstamp INTEGER NOT NULL
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS kv_sequence (
	id    INTEGER PRIMARY KEY CHECK (id = 1),
	value INTEGER NOT NULL
);

INSERT OR IGNORE INTO kv_sequence (id, value) VALUES (1, 0);
`

// SQLiteStore implements Store on a single SQLite table. Commits run in
// IMMEDIATE transactions so checks and mutations see one consistent view.
type SQLiteStore struct {
	pool   *sqlitepool.Pool
	closed atomic.Bool
}

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(path string, poolSize int) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite: create dir: %w", err)
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     path,
		PoolSize: poolSize,
		Logger:   slog.Default(),
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, sqliteSchema, nil)
		},
	})
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{pool: pool}, nil
}

// Get retrieves the entry for key.
func (s *SQLiteStore) Get(ctx context.Context, key string) (Entry, error) {
	if err := ValidateKey(key); err != nil {
		return Entry{}, err
	}
	conn, err := s.take(ctx)
	if err != nil {
		return Entry{}, err
	}
	defer s.pool.Put(conn)

	var (
		entry Entry
		found bool
	)
	err = sqlitex.Execute(conn, "SELECT key, value, versionstamp FROM kv WHERE key = ?", &sqlitex.ExecOptions{
		Args: []any{key},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			entry = scanEntry(stmt)
			found = true
			return nil
		},
	})
	if err != nil {
		return Entry{}, fmt.Errorf("sqlite: get %q: %w", key, err)
	}
	if !found {
		return Entry{}, ErrNotFound
	}
	return entry, nil
}

// Set stores value under key.
func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	return s.Commit(ctx, NewBatch().Set(key, value))
}

// Delete removes key.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	return s.Commit(ctx, NewBatch().Delete(key))
}

// List returns all entries under prefix, in key order.
func (s *SQLiteStore) List(ctx context.Context, prefix string) ([]Entry, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	query := "SELECT key, value, versionstamp FROM kv WHERE key >= ? ORDER BY key"
	args := []any{prefix}
	if end, ok := prefixEnd(prefix); ok {
		query = "SELECT key, value, versionstamp FROM kv WHERE key >= ? AND key < ? ORDER BY key"
		args = append(args, end)
	}

	var out []Entry
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			out = append(out, scanEntry(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: list %q: %w", prefix, err)
	}
	return out, nil
}

// Commit applies b in one IMMEDIATE transaction. Any error, including a
// failed check, rolls the whole transaction back.
func (s *SQLiteStore) Commit(ctx context.Context, b *Batch) (err error) {
	if err := b.Validate(); err != nil {
		return err
	}
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("sqlite: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	for _, c := range b.Checks {
		var current uint64
		err = sqlitex.Execute(conn, "SELECT versionstamp FROM kv WHERE key = ?", &sqlitex.ExecOptions{
			Args: []any{c.Key},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				current = uint64(stmt.ColumnInt64(0))
				return nil
			},
		})
		if err != nil {
			return fmt.Errorf("sqlite: check %q: %w", c.Key, err)
		}
		if current != c.Versionstamp {
			return ErrConflict
		}
	}

	if len(b.Mutations) == 0 {
		return nil
	}

	var version int64
	err = sqlitex.Execute(conn, "UPDATE kv_sequence SET value = value + 1 WHERE id = 1 RETURNING value", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			version = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("sqlite: next versionstamp: %w", err)
	}

	for _, m := range b.Mutations {
		switch m.Kind {
		case MutationSet:
			err = sqlitex.Execute(conn, `INSERT INTO kv (key, value, versionstamp) VALUES (?, ?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value, versionstamp = excluded.versionstamp`,
				&sqlitex.ExecOptions{Args: []any{m.Key, m.Value, version}})
		case MutationDelete:
			err = sqlitex.Execute(conn, "DELETE FROM kv WHERE key = ?", &sqlitex.ExecOptions{Args: []any{m.Key}})
		}
		if err != nil {
			return fmt.Errorf("sqlite: %s %q: %w", m.Kind, m.Key, err)
		}
	}
	return nil
}

// Ping borrows a connection and runs a trivial query.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	return sqlitex.ExecuteTransient(conn, "SELECT 1", nil)
}

// Close closes the underlying pool.
func (s *SQLiteStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.pool.Close()
}

func (s *SQLiteStore) take(ctx context.Context) (*sqlite.Conn, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	return s.pool.Take(ctx)
}

func scanEntry(stmt *sqlite.Stmt) Entry {
	value := make([]byte, stmt.ColumnLen(1))
	stmt.ColumnBytes(1, value)
	return Entry{
		Key:          stmt.ColumnText(0),
		Value:        value,
		Versionstamp: uint64(stmt.ColumnInt64(2)),
	}
}

// prefixEnd returns the smallest key greater than every key with the
// given prefix. ok is false when no such bound exists (empty prefix or
// all 0xff bytes).
func prefixEnd(prefix string) (string, bool) {
	end := []byte(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return string(end[:i+1]), true
		}
	}
	return "", false
}
