// Package events provides the in-memory bus that fans task changes out to
// watchers such as websocket clients.
package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBusClosed = errors.New("event bus is closed")
)

// EventType represents the type of event.
type EventType string

const (
	EventTaskCreated   EventType = "task.created"
	EventTaskUpdated   EventType = "task.updated"
	EventTaskDeleted   EventType = "task.deleted"
	EventTasksReplaced EventType = "tasks.replaced"
)

// EventSource identifies the component that emitted an event.
type EventSource string

const (
	SourceAPI    EventSource = "api"
	SourceCLI    EventSource = "cli"
	SourceBackup EventSource = "backup"
)

// Event represents an event in the system.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Source    EventSource    `json:"source"`
	Payload   map[string]any `json:"payload"`
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType EventType, source EventSource, payload map[string]any) Event {
	return Event{
		ID:        generateEventID(),
		Type:      eventType,
		Timestamp: time.Now(),
		Source:    source,
		Payload:   payload,
	}
}

func generateEventID() string {
	return uuid.NewString()
}

// Subscriber is a function that receives events. Subscribers run on the
// dispatch goroutine in publish order and must not block.
type Subscriber func(Event)

type subscription struct {
	eventTypes []EventType
	handler    Subscriber
}

// Bus is an in-memory event bus using Go channels.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]*subscription
	nextID      int
	eventChan   chan Event
	ringBuffer  *RingBuffer
	closed      atomic.Bool
	done        chan struct{}
	stopped     chan struct{}
	dropped     atomic.Uint64
}

// NewBus creates a new event bus.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	b := &Bus{
		subscribers: make(map[int]*subscription),
		eventChan:   make(chan Event, bufferSize),
		ringBuffer:  NewRingBuffer(bufferSize),
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	go b.dispatch()
	return b
}

func (b *Bus) dispatch() {
	defer close(b.stopped)
	for {
		select {
		case event := <-b.eventChan:
			b.deliver(event)
		case <-b.done:
			b.drain()
			return
		}
	}
}

// drain delivers whatever was queued before Close.
func (b *Bus) drain() {
	for {
		select {
		case event := <-b.eventChan:
			b.deliver(event)
		default:
			return
		}
	}
}

func (b *Bus) deliver(event Event) {
	b.ringBuffer.Add(event)
	b.notifySubscribers(event)
}

func (b *Bus) notifySubscribers(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if sub.matches(event) {
			sub.handler(event)
		}
	}
}

func (s *subscription) matches(event Event) bool {
	if len(s.eventTypes) == 0 {
		return true
	}
	for _, t := range s.eventTypes {
		if t == event.Type {
			return true
		}
	}
	return false
}

// Publish sends an event to the bus. When the queue is full the event is
// dropped and counted.
func (b *Bus) Publish(event Event) {
	if b.closed.Load() {
		return
	}

	select {
	case b.eventChan <- event:
	case <-b.done:
	default:
		b.dropped.Add(1)
	}
}

// PublishAsync sends an event, waiting for queue space until ctx is done.
func (b *Bus) PublishAsync(ctx context.Context, event Event) error {
	if b.closed.Load() {
		return ErrBusClosed
	}

	select {
	case b.eventChan <- event:
		return nil
	case <-b.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers a handler for specific event types; none means all.
// Returns an unsubscribe function. After it returns the handler is never
// called again.
func (b *Bus) Subscribe(handler Subscriber, eventTypes ...EventType) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	b.subscribers[id] = &subscription{
		eventTypes: eventTypes,
		handler:    handler,
	}

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subscribers, id)
	}
}

// SubscribeChan returns a channel that receives events. Slow readers lose
// events rather than stall the bus.
func (b *Bus) SubscribeChan(bufSize int, eventTypes ...EventType) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)

	unsubscribe := b.Subscribe(func(e Event) {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}, eventTypes...)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			unsubscribe()
			close(ch)
		})
	}
}

// History returns recent events from the ring buffer, oldest first.
func (b *Bus) History(limit int) []Event {
	return b.ringBuffer.Get(limit)
}

// Dropped returns how many events were discarded because a queue was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close shuts down the event bus and waits for the dispatcher to deliver
// the events already queued and exit. The event channel is left open so
// racing publishers never panic.
func (b *Bus) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		<-b.stopped
		return
	}
	close(b.done)
	<-b.stopped
}

// RingBuffer is a circular buffer for storing recent events.
type RingBuffer struct {
	mu     sync.RWMutex
	events []Event
	size   int
	pos    int
	count  int
}

// NewRingBuffer creates a new ring buffer.
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{
		events: make([]Event, size),
		size:   size,
	}
}

func (r *RingBuffer) Add(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events[r.pos] = event
	r.pos = (r.pos + 1) % r.size
	if r.count < r.size {
		r.count++
	}
}

func (r *RingBuffer) Get(n int) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n > r.count {
		n = r.count
	}
	if n <= 0 {
		return nil
	}

	result := make([]Event, n)
	start := (r.pos - n + r.size) % r.size
	for i := 0; i < n; i++ {
		result[i] = r.events[(start+i)%r.size]
	}
	return result
}
