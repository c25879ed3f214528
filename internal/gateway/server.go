// Package gateway serves the task collection over HTTP: CORS and shared
// secret checks, the REST routes, and the websocket change feed.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dohr-michael/stardust/internal/events"
	"github.com/dohr-michael/stardust/internal/gateway/ws"
	"github.com/dohr-michael/stardust/internal/tasks"
)

// TaskStore is the persistence the gateway drives.
type TaskStore interface {
	List(ctx context.Context) []tasks.Task
	Get(ctx context.Context, id string) (tasks.Task, bool, error)
	Upsert(ctx context.Context, t tasks.Task) error
	Delete(ctx context.Context, id string) error
	ReplaceAll(ctx context.Context, ts []tasks.Task) ([]tasks.Task, error)
	Ping(ctx context.Context) error
}

// Options configures a Server.
type Options struct {
	Host       string
	Port       int
	HealthText string
	Access     Access
}

// Server is the Stardust gateway HTTP server.
type Server struct {
	httpServer *http.Server
	hub        *ws.Hub
	bus        *events.Bus
	store      TaskStore
	policy     atomic.Pointer[accessPolicy]
	healthText string
}

// NewServer creates a new gateway server.
func NewServer(store TaskStore, bus *events.Bus, opts Options) *Server {
	s := &Server{
		bus:        bus,
		store:      store,
		healthText: opts.HealthText,
	}
	s.policy.Store(newAccessPolicy(opts.Access))
	s.hub = ws.NewHub(bus, store, func(o string) bool { return s.access().trusts(o) })

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.cors)

	r.NotFound(s.handleNotFound)
	r.MethodNotAllowed(s.handleNotFound)

	r.Get("/", s.handleRoot)
	r.Route("/api", func(r chi.Router) {
		r.NotFound(s.handleNotFound)
		r.MethodNotAllowed(s.handleNotFound)

		r.Get("/health", s.handleHealth)
		r.Get("/watch", s.hub.ServeWS)
		r.Get("/tasks", s.handleList)
		r.Get("/tasks/{id}", s.handleGet)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Post("/tasks", s.handleCreate)
			r.Put("/tasks", s.handleReplaceAll)
			r.Put("/tasks/{id}", s.handleUpdate)
			r.Delete("/tasks/{id}", s.handleDelete)
		})
	})

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// SetAccess swaps the secret and origin allow-list, e.g. after a config
// reload. In-flight requests keep the policy they started with.
func (s *Server) SetAccess(a Access) {
	s.policy.Store(newAccessPolicy(a))
	slog.Info("gateway access updated", "allowed_origins", len(a.AllowedOrigins), "secret_set", a.Secret != "")
}

func (s *Server) access() *accessPolicy {
	return s.policy.Load()
}

// Start begins listening. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln. It blocks until the server is stopped.
func (s *Server) Serve(ln net.Listener) error {
	slog.Info("Stardust gateway listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}
