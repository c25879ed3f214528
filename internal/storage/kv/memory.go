package kv

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// MemoryStore implements Store in process memory.
// Useful for testing and ephemeral deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	data     map[string]*memEntry
	revision uint64
	closed   atomic.Bool
}

type memEntry struct {
	value        []byte
	versionstamp uint64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]*memEntry)}
}

// Get retrieves the entry for key.
func (s *MemoryStore) Get(_ context.Context, key string) (Entry, error) {
	if err := ValidateKey(key); err != nil {
		return Entry{}, err
	}
	if s.closed.Load() {
		return Entry{}, ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return Entry{Key: key, Value: cloneBytes(e.value), Versionstamp: e.versionstamp}, nil
}

// Set stores value under key.
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	return s.Commit(ctx, NewBatch().Set(key, value))
}

// Delete removes key.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	return s.Commit(ctx, NewBatch().Delete(key))
}

// List returns all entries under prefix, sorted by key.
func (s *MemoryStore) List(_ context.Context, prefix string) ([]Entry, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for k, e := range s.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, Entry{Key: k, Value: cloneBytes(e.value), Versionstamp: e.versionstamp})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Commit applies b atomically under the store lock.
func (s *MemoryStore) Commit(_ context.Context, b *Batch) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range b.Checks {
		var current uint64
		if e, ok := s.data[c.Key]; ok {
			current = e.versionstamp
		}
		if current != c.Versionstamp {
			return ErrConflict
		}
	}

	if len(b.Mutations) == 0 {
		return nil
	}

	s.revision++
	for _, m := range b.Mutations {
		switch m.Kind {
		case MutationSet:
			s.data[m.Key] = &memEntry{value: cloneBytes(m.Value), versionstamp: s.revision}
		case MutationDelete:
			delete(s.data, m.Key)
		}
	}
	return nil
}

// Ping reports ErrClosed after Close.
func (s *MemoryStore) Ping(_ context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Close marks the store closed. Further calls return ErrClosed.
func (s *MemoryStore) Close() error {
	s.closed.Store(true)
	return nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
