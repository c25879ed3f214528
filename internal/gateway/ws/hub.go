package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/dohr-michael/stardust/internal/events"
	"github.com/dohr-michael/stardust/internal/tasks"
)

const (
	writeTimeout   = 10 * time.Second
	eventQueueSize = 64
)

// TaskLister provides the snapshot served to list_tasks requests.
type TaskLister interface {
	List(ctx context.Context) []tasks.Task
}

// Client represents a connected WebSocket client.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// Hub manages WebSocket clients and bridges them to the event bus.
type Hub struct {
	mu          sync.RWMutex
	clients     map[*Client]struct{}
	bus         *events.Bus
	tasks       TaskLister
	allowOrigin func(origin string) bool
	unsubscribe func()
	done        chan struct{}
}

// NewHub creates a hub that forwards every task event on bus to its
// clients. allowOrigin decides whether a browser Origin may connect; a nil
// func admits everyone.
func NewHub(bus *events.Bus, lister TaskLister, allowOrigin func(string) bool) *Hub {
	h := &Hub{
		clients:     make(map[*Client]struct{}),
		bus:         bus,
		tasks:       lister,
		allowOrigin: allowOrigin,
		done:        make(chan struct{}),
	}

	ch, unsubscribe := bus.SubscribeChan(eventQueueSize,
		events.EventTaskCreated, events.EventTaskUpdated, events.EventTaskDeleted, events.EventTasksReplaced)
	h.unsubscribe = unsubscribe
	go h.run(ch)

	return h
}

// run turns bus events into frames until the subscription is closed.
func (h *Hub) run(ch <-chan events.Event) {
	defer close(h.done)
	for e := range ch {
		frame, err := NewEventFrame(string(e.Type), e.Payload)
		if err != nil {
			slog.Error("marshal event frame", "error", err)
			continue
		}
		data, err := MarshalFrame(frame)
		if err != nil {
			slog.Error("marshal frame", "error", err)
			continue
		}
		h.broadcast(data)
	}
}

// broadcast sends data to all connected clients.
func (h *Hub) broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slog.Debug("ws client too slow, frame dropped")
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	slog.Info("ws client connected", "clients", len(h.clients))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		slog.Info("ws client disconnected", "clients", len(h.clients))
	}
}

// ServeWS handles a WebSocket upgrade and manages the client lifecycle.
// Browsers from an origin that allowOrigin rejects get 403.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if origin := r.Header.Get("Origin"); origin != "" && h.allowOrigin != nil && !h.allowOrigin(origin) {
		slog.Debug("ws origin rejected", "origin", origin)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message":"origin not allowed"}`))
		return
	}

	// The origin was checked above against the configured allow-list,
	// which may contain suffix patterns the library cannot express.
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Error("ws accept", "error", err)
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan []byte, 64),
		hub:  h,
	}

	h.register(client)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go client.writePump(ctx)
	client.readPump(ctx)
}

// readPump reads frames from the WS connection and dispatches them.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("ws read closed", "status", websocket.CloseStatus(err))
			} else {
				slog.Debug("ws read error", "error", err)
			}
			return
		}

		frame, err := UnmarshalFrame(data)
		if err != nil {
			slog.Debug("ws unmarshal frame", "error", err)
			continue
		}
		if frame.Type != FrameTypeRequest {
			slog.Debug("ws unknown frame type", "type", frame.Type)
			continue
		}
		c.handleRequest(ctx, frame)
	}
}

// handleRequest processes a request frame (method dispatch).
func (c *Client) handleRequest(ctx context.Context, frame Frame) {
	switch Method(frame.Method) {
	case MethodPing:
		c.reply(frame.ID, true, map[string]bool{"pong": true}, "")

	case MethodListTasks:
		if c.hub.tasks == nil {
			c.reply(frame.ID, false, nil, "task listing unavailable")
			return
		}
		c.reply(frame.ID, true, c.hub.tasks.List(ctx), "")

	case MethodHistory:
		params := struct {
			Limit int `json:"limit"`
		}{Limit: 50}
		if len(frame.Params) > 0 {
			if err := json.Unmarshal(frame.Params, &params); err != nil {
				c.reply(frame.ID, false, nil, "invalid params")
				return
			}
		}
		history := c.hub.bus.History(params.Limit)
		if history == nil {
			history = []events.Event{}
		}
		c.reply(frame.ID, true, history, "")

	default:
		c.reply(frame.ID, false, nil, "unknown method: "+frame.Method)
	}
}

// writePump writes queued messages to the WS connection.
func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) reply(id string, ok bool, payload any, errMsg string) {
	f, err := NewResponseFrame(id, ok, payload, errMsg)
	if err != nil {
		slog.Error("ws build response", "error", err)
		return
	}
	data, err := MarshalFrame(f)
	if err != nil {
		return
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, live := c.hub.clients[c]; !live {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// Close shuts down the hub and all client connections. It is safe to call
// more than once.
func (h *Hub) Close() {
	h.unsubscribe()
	<-h.done

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c.conn)
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		conn.Close(websocket.StatusGoingAway, "server shutdown")
	}
}
