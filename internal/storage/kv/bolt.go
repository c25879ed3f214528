package kv

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var boltBucket = []byte("kv")

// BoltStore implements Store on a single bbolt database file.
// Each value is stored prefixed with its 8-byte big-endian versionstamp;
// the bucket sequence supplies versionstamps.
type BoltStore struct {
	db   *bolt.DB
	path string
}

// OpenBolt opens (or creates) the bolt database at path.
func OpenBolt(path string) (*BoltStore, error) {
	if path == "" {
		return nil, fmt.Errorf("bolt: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("bolt: create dir: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("bolt: create bucket: %w", err)
	}

	return &BoltStore{db: db, path: path}, nil
}

// Get retrieves the entry for key.
func (s *BoltStore) Get(ctx context.Context, key string) (Entry, error) {
	if err := ValidateKey(key); err != nil {
		return Entry{}, err
	}
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}

	var entry Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(boltBucket).Get([]byte(key))
		if raw == nil {
			return ErrNotFound
		}
		var err error
		entry, err = decodeBoltEntry(key, raw)
		return err
	})
	if err != nil {
		return Entry{}, s.wrap(err)
	}
	return entry, nil
}

// Set stores value under key.
func (s *BoltStore) Set(ctx context.Context, key string, value []byte) error {
	return s.Commit(ctx, NewBatch().Set(key, value))
}

// Delete removes key.
func (s *BoltStore) Delete(ctx context.Context, key string) error {
	return s.Commit(ctx, NewBatch().Delete(key))
}

// List returns all entries under prefix, in key order.
func (s *BoltStore) List(ctx context.Context, prefix string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(boltBucket).Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			e, err := decodeBoltEntry(string(k), v)
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, s.wrap(err)
	}
	return out, nil
}

// Commit applies b inside a single bolt write transaction. Returning an
// error from the transaction function rolls every mutation back.
func (s *BoltStore) Commit(ctx context.Context, b *Batch) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltBucket)

		for _, c := range b.Checks {
			var current uint64
			if raw := bucket.Get([]byte(c.Key)); raw != nil {
				if len(raw) < 8 {
					return fmt.Errorf("bolt: corrupt entry %q", c.Key)
				}
				current = binary.BigEndian.Uint64(raw[:8])
			}
			if current != c.Versionstamp {
				return ErrConflict
			}
		}

		if len(b.Mutations) == 0 {
			return nil
		}

		version, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("bolt: next sequence: %w", err)
		}

		for _, m := range b.Mutations {
			switch m.Kind {
			case MutationSet:
				if err := bucket.Put([]byte(m.Key), encodeBoltValue(version, m.Value)); err != nil {
					return fmt.Errorf("bolt: put %q: %w", m.Key, err)
				}
			case MutationDelete:
				if err := bucket.Delete([]byte(m.Key)); err != nil {
					return fmt.Errorf("bolt: delete %q: %w", m.Key, err)
				}
			}
		}
		return nil
	})
	return s.wrap(err)
}

// Ping runs an empty read transaction.
func (s *BoltStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.wrap(s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(boltBucket) == nil {
			return fmt.Errorf("bolt: bucket missing")
		}
		return nil
	}))
}

// Close closes the database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) wrap(err error) error {
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return ErrClosed
	}
	return err
}

func encodeBoltValue(version uint64, value []byte) []byte {
	out := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(out[:8], version)
	copy(out[8:], value)
	return out
}

// decodeBoltEntry copies raw out of the mmap; bolt memory is only valid
// inside the transaction.
func decodeBoltEntry(key string, raw []byte) (Entry, error) {
	if len(raw) < 8 {
		return Entry{}, fmt.Errorf("bolt: corrupt entry %q", key)
	}
	return Entry{
		Key:          key,
		Value:        cloneBytes(raw[8:]),
		Versionstamp: binary.BigEndian.Uint64(raw[:8]),
	}, nil
}
