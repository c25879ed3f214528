package tasks

import (
	"encoding/json"
	"fmt"
)

// Patch is a partial update. Nil fields are left untouched by Apply.
type Patch struct {
	Content *string
	Status  *Status
	Notes   *string
	Tags    *[]string
	Type    *string
}

// Apply merges p into t and returns the result. The id is never changed.
func (p Patch) Apply(t Task) Task {
	if p.Content != nil {
		t.Content = *p.Content
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Notes != nil {
		t.Notes = *p.Notes
	}
	if p.Tags != nil {
		t.Tags = append([]string{}, (*p.Tags)...)
	}
	if p.Type != nil {
		t.Type = *p.Type
	}
	t.Normalize()
	return t
}

// ParseDraft parses a create body. content is required; every other field
// is defaulted. Any id in the body is discarded: the caller assigns one.
func ParseDraft(data []byte) (Task, error) {
	fields, err := decodeObject(data)
	if err != nil {
		return Task{}, err
	}
	p, err := patchFromFields(fields)
	if err != nil {
		return Task{}, err
	}
	if p.Content == nil {
		return Task{}, fmt.Errorf("%w: content is required", ErrInvalidArgument)
	}
	return p.Apply(Task{}), nil
}

// ParsePatch parses an update body. Only fields present in the body are
// set on the returned patch.
func ParsePatch(data []byte) (Patch, error) {
	fields, err := decodeObject(data)
	if err != nil {
		return Patch{}, err
	}
	return patchFromFields(fields)
}

// ParseSnapshot parses a replace-all body: a JSON array of task objects.
// Ids present as non-empty strings are kept; missing ids stay empty so the
// store can assign them.
func ParseSnapshot(data []byte) ([]Task, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: body must be a JSON array", ErrInvalidArgument)
	}

	out := make([]Task, 0, len(raw))
	for i, item := range raw {
		fields, err := decodeObject(item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		p, err := patchFromFields(fields)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		if p.Content == nil {
			return nil, fmt.Errorf("%w: item %d: content is required", ErrInvalidArgument, i)
		}
		t := p.Apply(Task{})
		if id, ok := stringField(fields, "id"); ok {
			t.ID = id
		}
		out = append(out, t)
	}
	return out, nil
}

func decodeObject(data []byte) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return nil, fmt.Errorf("%w: body must be a JSON object", ErrInvalidArgument)
	}
	return fields, nil
}

func patchFromFields(fields map[string]any) (Patch, error) {
	var p Patch

	if v, present := fields["content"]; present {
		s, ok := v.(string)
		if !ok {
			return Patch{}, fmt.Errorf("%w: content must be a string", ErrInvalidArgument)
		}
		p.Content = &s
	}

	if v, present := fields["status"]; present {
		status := StatusPending
		if s, ok := v.(string); ok && Status(s).Valid() {
			status = Status(s)
		}
		p.Status = &status
	}

	if v, present := fields["notes"]; present {
		s, _ := v.(string)
		p.Notes = &s
	}

	if v, present := fields["tags"]; present {
		tags := []string{}
		if items, ok := v.([]any); ok {
			for _, item := range items {
				if s, ok := item.(string); ok {
					tags = append(tags, s)
				}
			}
		}
		p.Tags = &tags
	}

	// A string sets type, "" or null clears it, anything else is ignored.
	if v, present := fields["type"]; present {
		switch v := v.(type) {
		case string:
			p.Type = &v
		case nil:
			var empty string
			p.Type = &empty
		}
	}

	return p, nil
}

func stringField(fields map[string]any, name string) (string, bool) {
	s, ok := fields[name].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
