package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

const (
	// EventNameTask is the stream event carrying a committed task mutation.
	EventNameTask = "task:event"
	// EventNameNotification is the stream event carrying a fresh notification.
	EventNameNotification = "notification:new"
	// EventNameHeartbeat keeps idle stream connections alive.
	EventNameHeartbeat = "heartbeat"

	roleAdmin = "admin"
)

// Event is one live message delivered to connected sessions. Payload carries
// the full resulting state so receivers overwrite by id rather than apply
// diffs.
type Event struct {
	Name      string          `json:"-"`
	Type      string          `json:"type"`
	TaskID    uint            `json:"task_id,omitempty"`
	ActorID   uint            `json:"actor_id,omitempty"`
	ActorName string          `json:"actor_name,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type subscriber struct {
	id     int64
	userID uint
	stream chan Event
}

// Hub is the session registry and event fan-out. A connection registers a
// personal channel keyed by user id and, for admins, membership in the
// admin-wide channel. Delivery is best-effort and at-most-once: sessions that
// are gone or slow are skipped, never retried.
type Hub struct {
	mu         sync.RWMutex
	personal   map[uint]map[int64]*subscriber
	admins     map[int64]*subscriber
	nextID     int64
	bufferSize int
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{
		personal:   make(map[uint]map[int64]*subscriber),
		admins:     make(map[int64]*subscriber),
		bufferSize: 16,
	}
}

// Subscribe registers a live session for the given user. The returned channel
// receives events until the context is cancelled or the cleanup function is
// invoked; both deregister every channel membership.
func (h *Hub) Subscribe(ctx context.Context, userID uint, role string) (<-chan Event, func()) {
	if userID == 0 {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	sub := &subscriber{
		userID: userID,
		stream: make(chan Event, h.bufferSize),
	}

	h.mu.Lock()
	h.nextID++
	sub.id = h.nextID
	if _, ok := h.personal[userID]; !ok {
		h.personal[userID] = make(map[int64]*subscriber)
	}
	h.personal[userID][sub.id] = sub
	if role == roleAdmin {
		h.admins[sub.id] = sub
	}
	h.mu.Unlock()

	cleanup := func() {
		h.unregister(sub)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

func (h *Hub) unregister(sub *subscriber) {
	h.mu.Lock()
	if personal := h.personal[sub.userID]; personal != nil {
		delete(personal, sub.id)
		if len(personal) == 0 {
			delete(h.personal, sub.userID)
		}
	}
	delete(h.admins, sub.id)
	h.mu.Unlock()
}

// Publish delivers the event to every connected session of the target users
// and, when notifyAdmins is set, to every admin session. A session matched by
// both routes receives the event once. Absent targets are a no-op.
func (h *Hub) Publish(event Event, targets []uint, notifyAdmins bool) {
	if event.Name == "" {
		return
	}

	h.mu.RLock()
	recipients := make(map[int64]*subscriber)
	for _, userID := range targets {
		for id, sub := range h.personal[userID] {
			recipients[id] = sub
		}
	}
	if notifyAdmins {
		for id, sub := range h.admins {
			recipients[id] = sub
		}
	}
	h.mu.RUnlock()

	for _, sub := range recipients {
		select {
		case sub.stream <- event:
		default:
		}
	}
}

// PublishToUser delivers the event to one user's sessions only.
func (h *Hub) PublishToUser(event Event, userID uint) {
	h.Publish(event, []uint{userID}, false)
}

// SessionCount reports the number of live sessions for a user. Intended for
// tests and diagnostics.
func (h *Hub) SessionCount(userID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.personal[userID])
}
