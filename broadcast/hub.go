// Package broadcast fans change events out to the live sessions of each owner.
package broadcast

import (
	"context"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/Sadik-Sami/ToDo-DnD/domain"
)

const defaultBuffer = 64

// Session is one connected client. Events arrive on Events in publish order
// until Done is closed.
type Session struct {
	id     string
	events chan domain.ChangeEvent
	done   chan struct{}
	once   sync.Once

	// owners is guarded by the Hub mutex.
	owners map[string]struct{}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Events() <-chan domain.ChangeEvent { return s.events }

// Done is closed once the session has been closed or evicted.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) close() { s.once.Do(func() { close(s.done) }) }

// Hub maps owner ids to their subscribed sessions. The zero value is not
// usable; create one with NewHub.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*Session]struct{}
	buffer   int
}

// NewHub returns a hub whose sessions buffer up to buffer undelivered events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{sessions: make(map[string]map[*Session]struct{}), buffer: buffer}
}

// NewSession allocates a session that is not yet subscribed to any owner.
func (h *Hub) NewSession() *Session {
	return &Session{
		id:     uuid.NewString(),
		events: make(chan domain.ChangeEvent, h.buffer),
		done:   make(chan struct{}),
		owners: make(map[string]struct{}),
	}
}

// Subscribe registers s for events of owner. Subscribing a closed session is a no-op.
func (h *Hub) Subscribe(owner string, s *Session) {
	select {
	case <-s.done:
		return
	default:
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.sessions[owner]
	if subs == nil {
		subs = make(map[*Session]struct{})
		h.sessions[owner] = subs
	}
	if _, ok := subs[s]; ok {
		return
	}
	subs[s] = struct{}{}
	s.owners[owner] = struct{}{}
	activeSessions.Inc()
}

// Unsubscribe removes s from owner.
func (h *Hub) Unsubscribe(owner string, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(owner, s)
}

func (h *Hub) unsubscribeLocked(owner string, s *Session) {
	subs, ok := h.sessions[owner]
	if !ok {
		return
	}
	if _, ok := subs[s]; !ok {
		return
	}
	delete(subs, s)
	delete(s.owners, owner)
	if len(subs) == 0 {
		delete(h.sessions, owner)
	}
	activeSessions.Dec()
}

// Close unsubscribes s from every owner and closes its Done channel.
func (h *Hub) Close(s *Session) {
	h.mu.Lock()
	for owner := range s.owners {
		h.unsubscribeLocked(owner, s)
	}
	h.mu.Unlock()
	s.close()
}

// Publish delivers ev to every session subscribed under ev.Owner without
// blocking. A session whose buffer is full is evicted. Events for an owner
// with no sessions are dropped.
func (h *Hub) Publish(_ context.Context, ev domain.ChangeEvent) {
	if ev.IsZero() || ev.Owner == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	publishedEvents.WithLabelValues(string(ev.Kind)).Inc()
	for s := range h.sessions[ev.Owner] {
		select {
		case s.events <- ev:
			deliveredEvents.Inc()
		default:
			log.WithFields(log.Fields{"session": s.id, "owner": ev.Owner}).Warn("session buffer full, evicting")
			evictedSessions.Inc()
			for owner := range s.owners {
				h.unsubscribeLocked(owner, s)
			}
			s.close()
		}
	}
}

// Subscribers returns the number of sessions subscribed under owner.
func (h *Hub) Subscribers(owner string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[owner])
}
