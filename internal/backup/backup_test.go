package backup

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dohr-michael/stardust/internal/events"
	"github.com/dohr-michael/stardust/internal/storage/kv"
	"github.com/dohr-michael/stardust/internal/tasks"
)

func newStore(t *testing.T) *tasks.Store {
	t.Helper()
	db := kv.NewMemoryStore()
	t.Cleanup(func() { db.Close() })
	return tasks.NewStore(db)
}

func seed(t *testing.T, s *tasks.Store, ts ...tasks.Task) {
	t.Helper()
	if _, err := s.ReplaceAll(context.Background(), ts); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestExportRestore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newStore(t)
	seed(t, src,
		tasks.Task{ID: "a", Content: "buy milk", Status: tasks.StatusPending, Tags: []string{"home"}},
		tasks.Task{ID: "b", Content: "ship it", Status: tasks.StatusCompleted, Notes: "friday", Type: "work"},
	)

	dir := t.TempDir()
	path, err := NewManager(dir, 0, src, nil).Export(ctx)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	dst := newStore(t)
	seed(t, dst, tasks.Task{ID: "stale", Content: "remove me"})

	bus := events.NewBus(8)
	defer bus.Close()
	ch, unsub := bus.SubscribeChan(4, events.EventTasksReplaced)
	defer unsub()

	restored, err := NewManager(dir, 0, dst, bus).Restore(ctx, path)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if len(restored) != 2 {
		t.Fatalf("restored %d tasks, want 2", len(restored))
	}

	got := dst.List(ctx)
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("unexpected collection %+v", got)
	}
	if got[1].Notes != "friday" || got[1].Type != "work" || got[1].Status != tasks.StatusCompleted {
		t.Errorf("fields lost in round trip: %+v", got[1])
	}

	select {
	case e := <-ch:
		if e.Source != events.SourceBackup {
			t.Errorf("source = %q, want backup", e.Source)
		}
	case <-time.After(time.Second):
		t.Fatal("no tasks.replaced event after restore")
	}
}

func TestDecode_DigestMismatch(t *testing.T) {
	data, err := Encode([]tasks.Task{{ID: "a", Content: "original", Status: tasks.StatusPending, Tags: []string{}}}, time.Now())
	if err != nil {
		t.Fatal(err)
	}

	raw, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		t.Fatal(err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		t.Fatal(err)
	}
	snap.Tasks = json.RawMessage(`[{"id":"a","content":"tampered","status":"pending","notes":"","tags":[]}]`)
	tampered, _ := json.Marshal(snap)

	_, _, err = Decode(zstdEncoder.EncodeAll(tampered, nil))
	if !errors.Is(err, ErrDigestMismatch) {
		t.Fatalf("err = %v, want ErrDigestMismatch", err)
	}
}

func TestDecode_Rejects(t *testing.T) {
	if _, _, err := Decode([]byte("definitely not zstd")); err == nil {
		t.Error("expected error for garbage input")
	}

	future, _ := json.Marshal(Snapshot{Version: FormatVersion + 1, Tasks: json.RawMessage(`[]`)})
	if _, _, err := Decode(zstdEncoder.EncodeAll(future, nil)); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("err = %v, want ErrUnsupportedVersion", err)
	}
}

func TestEncode_EmptyCollection(t *testing.T) {
	data, err := Encode(nil, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	snap, ts, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Count != 0 || len(ts) != 0 {
		t.Errorf("expected empty snapshot, got count=%d tasks=%d", snap.Count, len(ts))
	}
}

func TestRestore_InvalidLeavesCollection(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seed(t, s, tasks.Task{ID: "keep", Content: "still here"})

	path := filepath.Join(t.TempDir(), "broken.json.zst")
	if err := os.WriteFile(path, []byte("junk"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewManager(t.TempDir(), 0, s, nil).Restore(ctx, path); err == nil {
		t.Fatal("expected restore error")
	}
	if got := s.List(ctx); len(got) != 1 || got[0].ID != "keep" {
		t.Fatalf("collection changed: %+v", got)
	}
}

func TestPrune_KeepsNewest(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	m := NewManager(dir, 2, newStore(t), nil)

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var written []string
	for i := 0; i < 4; i++ {
		at := base.Add(time.Duration(i) * time.Hour)
		m.now = func() time.Time { return at }
		p, err := m.Export(ctx)
		if err != nil {
			t.Fatalf("Export %d: %v", i, err)
		}
		written = append(written, p)
	}

	// Unrelated files are left alone.
	other := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(other, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	paths, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 2 || paths[0] != written[2] || paths[1] != written[3] {
		t.Fatalf("after prune: %v, want %v", paths, written[2:])
	}
	latest, err := m.Latest()
	if err != nil || latest != written[3] {
		t.Errorf("Latest = %q, %v", latest, err)
	}
	if _, err := os.Stat(other); err != nil {
		t.Errorf("unrelated file removed: %v", err)
	}
}

func TestList_MissingDir(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "absent"), 3, newStore(t), nil)
	paths, err := m.List()
	if err != nil || len(paths) != 0 {
		t.Fatalf("List = %v, %v", paths, err)
	}
	if latest, err := m.Latest(); err != nil || latest != "" {
		t.Fatalf("Latest = %q, %v", latest, err)
	}
}

func TestExportTo(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seed(t, s, tasks.Task{ID: "a", Content: "one"}, tasks.Task{ID: "b", Content: "two"})

	path := filepath.Join(t.TempDir(), "nested", "export.json.zst")
	n, err := NewManager(t.TempDir(), 0, s, nil).ExportTo(ctx, path)
	if err != nil || n != 2 {
		t.Fatalf("ExportTo = %d, %v", n, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, ts, err := Decode(data); err != nil || len(ts) != 2 {
		t.Fatalf("Decode = %d, %v", len(ts), err)
	}
}

func TestExport_StorageOutage(t *testing.T) {
	ctx := context.Background()
	db := kv.NewMemoryStore()
	s := tasks.NewStore(db)
	seed(t, s, tasks.Task{ID: "a", Content: "one"}, tasks.Task{ID: "b", Content: "two"})

	dir := t.TempDir()
	m := NewManager(dir, 1, s, nil)
	m.now = func() time.Time { return time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC) }
	good, err := m.Export(ctx)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	db.Close()
	m.now = func() time.Time { return time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC) }

	if _, err := m.Export(ctx); !errors.Is(err, tasks.ErrStorageUnavailable) {
		t.Fatalf("Export during outage: expected ErrStorageUnavailable, got %v", err)
	}
	out := filepath.Join(t.TempDir(), "out.json.zst")
	if _, err := m.ExportTo(ctx, out); err == nil {
		t.Fatal("ExportTo during outage: expected an error")
	}
	if _, err := os.Stat(out); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("ExportTo wrote a file during outage: %v", err)
	}

	paths, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 1 || paths[0] != good {
		t.Fatalf("backups = %v, want only %s", paths, good)
	}
	data, err := os.ReadFile(good)
	if err != nil {
		t.Fatalf("good snapshot removed: %v", err)
	}
	if snap, ts, err := Decode(data); err != nil || snap.Count != 2 || len(ts) != 2 {
		t.Fatalf("good snapshot = count %d, %d tasks, %v", snap.Count, len(ts), err)
	}
}

func TestWriteFileAtomic_NoTempLeftovers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.bin")
	if err := WriteFileAtomic(path, []byte("one")); err != nil {
		t.Fatal(err)
	}
	if err := WriteFileAtomic(path, []byte("two")); err != nil {
		t.Fatal(err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected only the target file, got %d entries", len(entries))
	}
	if data, _ := os.ReadFile(path); string(data) != "two" {
		t.Errorf("content = %q", data)
	}
}

// tick is a schedule firing every d.
type tick time.Duration

func (d tick) Next(t time.Time) time.Time { return t.Add(time.Duration(d)) }

func TestScheduler_Parse(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"0 3 * * *", false},
		{"*/15 * * * *", false},
		{"@daily", false},
		{"not a cron", true},
		{"61 * * * *", true},
	}
	for _, tt := range tests {
		_, err := NewScheduler(tt.expr, func(context.Context) error { return nil })
		if (err != nil) != tt.wantErr {
			t.Errorf("NewScheduler(%q) err = %v, wantErr %v", tt.expr, err, tt.wantErr)
		}
	}
}

func TestScheduler_Next(t *testing.T) {
	s, err := NewScheduler("0 3 * * *", func(context.Context) error { return nil })
	if err != nil {
		t.Fatal(err)
	}
	from := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	want := time.Date(2026, 10, 20, 3, 0, 0, 0, time.UTC)
	if got := s.Next(from); !got.Equal(want) {
		t.Errorf("Next = %v, want %v", got, want)
	}
	if s.String() != "0 3 * * *" {
		t.Errorf("String = %q", s.String())
	}
}

func TestScheduler_RunsUntilCancelled(t *testing.T) {
	var runs atomic.Int32
	s := &Scheduler{
		raw:      "test",
		schedule: tick(5 * time.Millisecond),
		job: func(context.Context) error {
			runs.Add(1)
			return errors.New("job errors are logged, not fatal")
		},
		now: time.Now,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for runs.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d runs before deadline", runs.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestScheduler_CancelWaitsForRunningJob(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	s := &Scheduler{
		raw:      "test",
		schedule: tick(5 * time.Millisecond),
		job: func(context.Context) error {
			once.Do(func() { close(started) })
			<-release
			return nil
		},
		now: time.Now,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}

	cancel()
	select {
	case <-done:
		t.Fatal("Run returned while a job was still running")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the job finished")
	}
}
