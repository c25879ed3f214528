package events

import (
	"encoding/json"

	"github.com/dohr-michael/stardust/internal/tasks"
)

// EventPayload is the interface all typed payloads implement.
type EventPayload interface {
	EventType() EventType
}

// TaskCreatedPayload carries the stored task.
type TaskCreatedPayload struct {
	Task tasks.Task `json:"task"`
}

func (TaskCreatedPayload) EventType() EventType { return EventTaskCreated }

// TaskUpdatedPayload carries the task after the update.
type TaskUpdatedPayload struct {
	Task tasks.Task `json:"task"`
}

func (TaskUpdatedPayload) EventType() EventType { return EventTaskUpdated }

type TaskDeletedPayload struct {
	ID string `json:"id"`
}

func (TaskDeletedPayload) EventType() EventType { return EventTaskDeleted }

// TasksReplacedPayload carries the full collection after a replace-all.
type TasksReplacedPayload struct {
	Count int          `json:"count"`
	Tasks []tasks.Task `json:"tasks"`
}

func (TasksReplacedPayload) EventType() EventType { return EventTasksReplaced }

// NewTypedEvent builds an Event whose type comes from the payload.
func NewTypedEvent(source EventSource, payload EventPayload) Event {
	return NewEvent(payload.EventType(), source, toMap(payload))
}

func toMap(v any) map[string]any {
	var result map[string]any
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

// ExtractPayload decodes e.Payload into T. It reports false when the event
// type does not belong to T.
func ExtractPayload[T EventPayload](e Event) (T, bool) {
	var result T
	if result.EventType() != e.Type {
		return result, false
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return result, false
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, false
	}
	return result, true
}
