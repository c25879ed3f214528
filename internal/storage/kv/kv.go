// Package kv provides the keyed storage substrate shared by Stardust
// collections: get, set, delete, prefix enumeration, and an atomic
// multi-operation commit guarded by versionstamp checks.
package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Common errors.
var (
	ErrNotFound   = errors.New("key not found")
	ErrConflict   = errors.New("commit conflict")
	ErrClosed     = errors.New("store closed")
	ErrInvalidKey = errors.New("invalid key")
)

// Entry is a stored value with its versionstamp.
// Versionstamps increase with every committed write; 0 is never assigned.
type Entry struct {
	Key          string
	Value        []byte
	Versionstamp uint64
}

// Check asserts the current versionstamp of a key at commit time.
// A Versionstamp of 0 asserts that the key does not exist.
type Check struct {
	Key          string
	Versionstamp uint64
}

// MutationKind is the type of change a Mutation applies.
type MutationKind int

const (
	// MutationSet creates or overwrites a key.
	MutationSet MutationKind = iota
	// MutationDelete removes a key. Deleting a missing key is a no-op.
	MutationDelete
)

// String returns the mutation name.
func (k MutationKind) String() string {
	switch k {
	case MutationSet:
		return "set"
	case MutationDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Mutation is a single staged write.
type Mutation struct {
	Kind  MutationKind
	Key   string
	Value []byte
}

// Batch stages checks and mutations for a single all-or-nothing commit.
type Batch struct {
	Checks    []Check
	Mutations []Mutation
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{}
}

// Check stages a versionstamp assertion.
func (b *Batch) Check(key string, versionstamp uint64) *Batch {
	b.Checks = append(b.Checks, Check{Key: key, Versionstamp: versionstamp})
	return b
}

// Set stages a write.
func (b *Batch) Set(key string, value []byte) *Batch {
	b.Mutations = append(b.Mutations, Mutation{Kind: MutationSet, Key: key, Value: value})
	return b
}

// Delete stages a removal.
func (b *Batch) Delete(key string) *Batch {
	b.Mutations = append(b.Mutations, Mutation{Kind: MutationDelete, Key: key})
	return b
}

// Validate checks every key in the batch.
func (b *Batch) Validate() error {
	for _, c := range b.Checks {
		if err := ValidateKey(c.Key); err != nil {
			return err
		}
	}
	for _, m := range b.Mutations {
		if err := ValidateKey(m.Key); err != nil {
			return err
		}
	}
	return nil
}

// Store is the storage substrate.
type Store interface {
	// Get returns the entry for key, or ErrNotFound.
	Get(ctx context.Context, key string) (Entry, error)

	// Set creates or overwrites key.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Returns nil if the key does not exist.
	Delete(ctx context.Context, key string) error

	// List returns every entry whose key starts with prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]Entry, error)

	// Commit applies all mutations of b if every check holds, otherwise
	// nothing is applied and ErrConflict is returned.
	Commit(ctx context.Context, b *Batch) error

	// Ping reports whether the store can currently serve requests.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}

// ValidateKey checks if a key is valid.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if len(key) > 2048 {
		return fmt.Errorf("%w: longer than 2048 bytes", ErrInvalidKey)
	}
	if strings.ContainsRune(key, 0) {
		return fmt.Errorf("%w: contains NUL", ErrInvalidKey)
	}
	return nil
}

// Config selects and configures a driver.
type Config struct {
	Driver   string // "sqlite", "bolt", "memory"
	Path     string
	PoolSize int
}

// Open opens the store described by cfg.
func Open(cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return OpenSQLite(cfg.Path, cfg.PoolSize)
	case "bolt":
		return OpenBolt(cfg.Path)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
