package storage

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/dohr-michael/stardust/internal/events"
)

// EventLogger appends task events to daily JSONL files in dir, named
// after the event's UTC date (2006-01-02.jsonl).
type EventLogger struct {
	dir         string
	mu          sync.Mutex
	unsubscribe func()
}

// NewEventLogger subscribes to the task events on bus and writes them to dir.
func NewEventLogger(dir string, bus *events.Bus) *EventLogger {
	el := &EventLogger{dir: dir}
	el.unsubscribe = bus.Subscribe(el.handleEvent,
		events.EventTaskCreated,
		events.EventTaskUpdated,
		events.EventTaskDeleted,
		events.EventTasksReplaced,
	)
	return el
}

// Close unsubscribes the logger from the event bus.
func (el *EventLogger) Close() {
	if el.unsubscribe != nil {
		el.unsubscribe()
	}
}

func (el *EventLogger) handleEvent(e events.Event) {
	// A replace carries the whole collection; the count is enough here.
	if p, ok := events.ExtractPayload[events.TasksReplacedPayload](e); ok {
		e.Payload = map[string]any{"count": p.Count}
	}
	if err := el.writeEvent(e); err != nil {
		slog.Warn("event log write failed", "type", e.Type, "error", err)
	}
}

func (el *EventLogger) writeEvent(e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	el.mu.Lock()
	defer el.mu.Unlock()

	if err := os.MkdirAll(el.dir, 0o700); err != nil {
		return err
	}

	f, err := os.OpenFile(el.logPath(e), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(data)
	return err
}

func (el *EventLogger) logPath(e events.Event) string {
	return filepath.Join(el.dir, e.Timestamp.UTC().Format("2006-01-02")+".jsonl")
}
