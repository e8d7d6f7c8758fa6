package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/temzero/chatter-sub006/internal/model"
)

// Sender delivers server events to one live transport connection.
// The WebSocket handler provides the production implementation.
type Sender interface {
	Send(ev model.ServerEvent) error
	Close()
}

type EventType string

const (
	EventRegistered   EventType = "registered"
	EventUnregistered EventType = "unregistered"
)

// Event is the presence-relevant notification emitted exactly once per
// registration and unregistration of a handle.
type Event struct {
	Type         EventType
	ConnectionID string
	UserID       string
	// First is true when this registration created the user's first handle;
	// Last is true when this unregistration removed the user's last handle.
	First bool
	Last  bool
	At    time.Time
}

type handle struct {
	id       string
	userID   string
	sender   Sender
	liveness *time.Timer
}

// Registry maps user identities to their live connections. It is the only
// owner of connection handles: handles are created on Register and destroyed
// on Unregister or on a missed heartbeat deadline.
type Registry struct {
	mu           sync.Mutex
	handles      map[string]*handle
	byUser       map[string]map[string]*handle
	subs         []chan Event
	heartbeatTTL time.Duration
	closed       bool
}

func NewRegistry(heartbeatTTL time.Duration) *Registry {
	return &Registry{
		handles:      make(map[string]*handle),
		byUser:       make(map[string]map[string]*handle),
		heartbeatTTL: heartbeatTTL,
	}
}

// Subscribe returns a channel receiving registry events. Events to slow
// subscribers are dropped rather than blocking the registry.
func (r *Registry) Subscribe(buffer int) <-chan Event {
	ch := make(chan Event, buffer)
	r.mu.Lock()
	r.subs = append(r.subs, ch)
	r.mu.Unlock()
	return ch
}

// Register creates a handle for the connection and returns its id.
// It never fails.
func (r *Registry) Register(userID string, sender Sender) string {
	connID := uuid.New().String()

	h := &handle{id: connID, userID: userID, sender: sender}
	if r.heartbeatTTL > 0 {
		h.liveness = time.AfterFunc(r.heartbeatTTL, func() {
			r.expire(connID)
		})
	}

	r.mu.Lock()
	r.handles[connID] = h
	userHandles := r.byUser[userID]
	if userHandles == nil {
		userHandles = make(map[string]*handle)
		r.byUser[userID] = userHandles
	}
	first := len(userHandles) == 0
	userHandles[connID] = h
	count := len(userHandles)
	r.mu.Unlock()

	log.Info().
		Str("userId", userID).
		Str("connectionId", connID).
		Int("handleCount", count).
		Msg("connection registered")

	r.emit(Event{
		Type:         EventRegistered,
		ConnectionID: connID,
		UserID:       userID,
		First:        first,
		At:           time.Now(),
	})

	return connID
}

// Unregister removes the handle. Removal is idempotent: a handle already
// removed produces no second event.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	h, ok := r.handles[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.handles, connID)

	userHandles := r.byUser[h.userID]
	delete(userHandles, connID)
	last := len(userHandles) == 0
	if last {
		delete(r.byUser, h.userID)
	}
	count := len(userHandles)
	r.mu.Unlock()

	if h.liveness != nil {
		h.liveness.Stop()
	}
	h.sender.Close()

	log.Info().
		Str("userId", h.userID).
		Str("connectionId", connID).
		Int("handleCount", count).
		Msg("connection unregistered")

	r.emit(Event{
		Type:         EventUnregistered,
		ConnectionID: connID,
		UserID:       h.userID,
		Last:         last,
		At:           time.Now(),
	})
}

// Heartbeat resets the connection's liveness deadline. A missed deadline
// follows the same path as an explicit disconnect.
func (r *Registry) Heartbeat(connID string) {
	r.mu.Lock()
	h, ok := r.handles[connID]
	r.mu.Unlock()

	if ok && h.liveness != nil {
		h.liveness.Reset(r.heartbeatTTL)
	}
}

func (r *Registry) expire(connID string) {
	r.mu.Lock()
	_, ok := r.handles[connID]
	r.mu.Unlock()
	if !ok {
		return
	}

	log.Warn().
		Str("connectionId", connID).
		Dur("deadline", r.heartbeatTTL).
		Msg("heartbeat deadline missed, evicting connection")
	r.Unregister(connID)
}

// HandlesFor returns the ids of the user's live connections.
func (r *Registry) HandlesFor(userID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.byUser[userID]))
	for id := range r.byUser[userID] {
		ids = append(ids, id)
	}
	return ids
}

// Online reports whether the user has at least one live connection.
func (r *Registry) Online(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byUser[userID]) > 0
}

// Send fans an event out to all of the user's local handles and returns the
// number of handles reached.
func (r *Registry) Send(userID string, ev model.ServerEvent) int {
	r.mu.Lock()
	senders := make([]Sender, 0, len(r.byUser[userID]))
	for _, h := range r.byUser[userID] {
		senders = append(senders, h.sender)
	}
	r.mu.Unlock()

	for _, s := range senders {
		if err := s.Send(ev); err != nil {
			log.Warn().Err(err).Str("userId", userID).Msg("failed to deliver event to handle")
		}
	}
	return len(senders)
}

// SendTo delivers an event to a single connection.
func (r *Registry) SendTo(connID string, ev model.ServerEvent) bool {
	r.mu.Lock()
	h, ok := r.handles[connID]
	r.mu.Unlock()

	if !ok {
		return false
	}
	if err := h.sender.Send(ev); err != nil {
		log.Warn().Err(err).Str("connectionId", connID).Msg("failed to deliver event to handle")
		return false
	}
	return true
}

func (r *Registry) emit(ev Event) {
	r.mu.Lock()
	subs := make([]chan Event, len(r.subs))
	copy(subs, r.subs)
	r.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			log.Warn().
				Str("connectionId", ev.ConnectionID).
				Msg("registry subscriber buffer full, dropping event")
		}
	}
}

// Close evicts every handle and closes subscriber channels.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	connIDs := make([]string, 0, len(r.handles))
	for id := range r.handles {
		connIDs = append(connIDs, id)
	}
	r.mu.Unlock()

	for _, id := range connIDs {
		r.Unregister(id)
	}

	r.mu.Lock()
	subs := r.subs
	r.subs = nil
	r.mu.Unlock()
	for _, ch := range subs {
		close(ch)
	}
}
