package gateway

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/zeebo/blake3"

	"github.com/dohr-michael/stardust/internal/events"
	"github.com/dohr-michael/stardust/internal/tasks"
)

const maxBodyBytes = 1 << 20

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, s.healthText)
}

// health is the /api/health body. Watchers and EventsDropped describe the
// change feed; drops mean a watcher or the event queue fell behind.
type health struct {
	Status        string `json:"status"`
	Storage       string `json:"storage"`
	Watchers      int    `json:"watchers"`
	EventsDropped uint64 `json:"events_dropped"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := health{
		Status:        "ok",
		Storage:       "ok",
		Watchers:      s.hub.ClientCount(),
		EventsDropped: s.bus.Dropped(),
	}
	if err := s.store.Ping(r.Context()); err != nil {
		slog.Warn("health check: storage unavailable", "error", err)
		body.Status, body.Storage = "degraded", "unavailable"
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	list := s.store.List(r.Context())
	if list == nil {
		list = []tasks.Task{}
	}
	slices.SortFunc(list, func(a, b tasks.Task) int { return strings.Compare(a.ID, b.ID) })

	body, err := json.Marshal(list)
	if err != nil {
		writeError(w, r, fmt.Errorf("encode tasks: %w", err))
		return
	}

	sum := blake3.Sum256(body)
	etag := `"` + hex.EncodeToString(sum[:16]) + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	if etagMatches(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, found, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !found {
		writeMessage(w, http.StatusNotFound, "Not Found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	t, err := tasks.ParseDraft(body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	t.ID = tasks.NewID()

	if err := s.store.Upsert(r.Context(), t); err != nil {
		writeError(w, r, err)
		return
	}
	slog.Debug("task created", "id", t.ID)
	s.bus.Publish(events.NewTypedEvent(events.SourceAPI, events.TaskCreatedPayload{Task: t}))
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleReplaceAll(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	snapshot, err := tasks.ParseSnapshot(body)
	if err != nil {
		writeError(w, r, err)
		return
	}

	stored, err := s.store.ReplaceAll(r.Context(), snapshot)
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Debug("tasks replaced", "count", len(stored))
	s.bus.Publish(events.NewTypedEvent(events.SourceAPI, events.TasksReplacedPayload{Count: len(stored), Tasks: stored}))
	writeJSON(w, http.StatusOK, stored)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	existing, found, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !found {
		writeError(w, r, fmt.Errorf("%w: %s", tasks.ErrNotFound, id))
		return
	}

	patch, err := tasks.ParsePatch(body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	merged := patch.Apply(existing)

	if err := s.store.Upsert(r.Context(), merged); err != nil {
		writeError(w, r, err)
		return
	}
	slog.Debug("task updated", "id", id)
	s.bus.Publish(events.NewTypedEvent(events.SourceAPI, events.TaskUpdatedPayload{Task: merged}))
	writeJSON(w, http.StatusOK, merged)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	slog.Debug("task deleted", "id", id)
	s.bus.Publish(events.NewTypedEvent(events.SourceAPI, events.TaskDeletedPayload{ID: id}))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeMessage(w, http.StatusNotFound, "Not Found")
}

// readBody reads a size-limited request body, writing the error response
// itself when it fails.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeMessage(w, http.StatusRequestEntityTooLarge, "request body too large")
			return nil, false
		}
		writeMessage(w, http.StatusBadRequest, "unreadable request body")
		return nil, false
	}
	return body, true
}

// etagMatches implements the weak comparison used by If-None-Match.
func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
