package tasks

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseDraft(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    Task
		wantErr bool
	}{
		{
			name: "content only gets defaults",
			body: `{"content":"buy milk"}`,
			want: Task{Content: "buy milk", Status: StatusPending, Tags: []string{}},
		},
		{
			name: "all fields",
			body: `{"content":"c","status":"completed","notes":"n","tags":["a","b"],"type":"note"}`,
			want: Task{Content: "c", Status: StatusCompleted, Notes: "n", Tags: []string{"a", "b"}, Type: "note"},
		},
		{
			name: "invalid status falls back to pending",
			body: `{"content":"c","status":"archived"}`,
			want: Task{Content: "c", Status: StatusPending, Tags: []string{}},
		},
		{
			name: "non-string tags dropped",
			body: `{"content":"c","tags":["a",1,null,"b",{"x":1}]}`,
			want: Task{Content: "c", Status: StatusPending, Tags: []string{"a", "b"}},
		},
		{
			name: "client id ignored",
			body: `{"id":"mine","content":"c"}`,
			want: Task{Content: "c", Status: StatusPending, Tags: []string{}},
		},
		{
			name: "non-string notes defaulted",
			body: `{"content":"c","notes":42}`,
			want: Task{Content: "c", Status: StatusPending, Tags: []string{}},
		},
		{name: "missing content", body: `{"notes":"x"}`, wantErr: true},
		{name: "content not a string", body: `{"content":5}`, wantErr: true},
		{name: "not an object", body: `["content"]`, wantErr: true},
		{name: "null body", body: `null`, wantErr: true},
		{name: "malformed", body: `{`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDraft([]byte(tt.body))
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidArgument) {
					t.Fatalf("expected ErrInvalidArgument, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDraft: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParsePatch_Apply(t *testing.T) {
	base := Task{ID: "t1", Content: "buy milk", Status: StatusPending, Notes: "2L", Tags: []string{"home"}, Type: "note"}

	p, err := ParsePatch([]byte(`{"id":"other","status":"completed"}`))
	if err != nil {
		t.Fatalf("ParsePatch: %v", err)
	}
	got := p.Apply(base)

	want := base
	want.Status = StatusCompleted
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestParsePatch_ClearsTags(t *testing.T) {
	base := Task{ID: "t1", Content: "c", Status: StatusPending, Tags: []string{"a"}}

	p, err := ParsePatch([]byte(`{"tags":[]}`))
	if err != nil {
		t.Fatalf("ParsePatch: %v", err)
	}
	got := p.Apply(base)
	if len(got.Tags) != 0 {
		t.Errorf("expected tags cleared, got %v", got.Tags)
	}
	if len(base.Tags) != 1 {
		t.Error("Apply must not mutate the original task")
	}
}

func TestParsePatch_Type(t *testing.T) {
	base := Task{ID: "t1", Content: "c", Status: StatusPending, Tags: []string{}, Type: "note"}

	tests := []struct {
		name string
		body string
		want string
	}{
		{"set", `{"type":"todo"}`, "todo"},
		{"empty string clears", `{"type":""}`, ""},
		{"null clears", `{"type":null}`, ""},
		{"absent keeps", `{"notes":"x"}`, "note"},
		{"non-string ignored", `{"type":7}`, "note"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePatch([]byte(tt.body))
			if err != nil {
				t.Fatalf("ParsePatch: %v", err)
			}
			if got := p.Apply(base).Type; got != tt.want {
				t.Errorf("type = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParsePatch_RejectsNonStringContent(t *testing.T) {
	if _, err := ParsePatch([]byte(`{"content":["x"]}`)); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestParseSnapshot(t *testing.T) {
	got, err := ParseSnapshot([]byte(`[{"id":"a","content":"one"},{"content":"two","status":"completed"}]`))
	if err != nil {
		t.Fatalf("ParseSnapshot: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(got))
	}
	if got[0].ID != "a" {
		t.Errorf("first id = %q, want %q", got[0].ID, "a")
	}
	if got[1].ID != "" {
		t.Errorf("second id should be left for the store to assign, got %q", got[1].ID)
	}
	if got[1].Status != StatusCompleted {
		t.Errorf("second status = %q, want completed", got[1].Status)
	}

	empty, err := ParseSnapshot([]byte(`[]`))
	if err != nil {
		t.Fatalf("ParseSnapshot empty: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected empty snapshot, got %d", len(empty))
	}

	for _, bad := range []string{`{}`, `[{"notes":"x"}]`, `[1]`} {
		if _, err := ParseSnapshot([]byte(bad)); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("ParseSnapshot(%s): expected ErrInvalidArgument, got %v", bad, err)
		}
	}
}

func TestNewID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		if id == "" {
			t.Fatal("empty id")
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}
