// Package tasks provides the persisted task collection: the Task record,
// boundary parsing of loosely typed request bodies, and the Store that
// reads and mutates the collection on a kv substrate.
package tasks

import (
	"errors"

	"github.com/google/uuid"
)

// Sentinel errors. Callers match them with errors.Is.
var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrNotFound           = errors.New("task not found")
	ErrCommitConflict     = errors.New("commit conflict")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Status represents the completion state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusCompleted
}

// Task is the sole persisted entity.
type Task struct {
	ID      string   `json:"id" cbor:"id"`
	Content string   `json:"content" cbor:"content"`
	Status  Status   `json:"status" cbor:"status"`
	Notes   string   `json:"notes" cbor:"notes"`
	Tags    []string `json:"tags" cbor:"tags"`
	Type    string   `json:"type,omitempty" cbor:"type,omitempty"`
}

// Normalize applies the defaulting rules: unknown status becomes pending
// and nil tags become an empty list.
func (t *Task) Normalize() {
	if !t.Status.Valid() {
		t.Status = StatusPending
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
}

// NewID returns a fresh task identifier. UUIDv7 keeps ids ordered by
// creation time while staying collision-resistant across concurrent creates.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
