package bus

import (
	"fmt"
	"sync"

	"github.com/xiaot623/gogo/ava/internal/domain"
)

// Registry maps session ids to their broadcast channel. A channel is created
// the first time a session is subscribed to or published on, and lives until
// the registry is closed.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]*Channel
	capacity int
	closed   bool
}

// Stats is a point-in-time view of the registry for health reporting.
type Stats struct {
	Sessions    int `json:"sessions"`
	Subscribers int `json:"subscribers"`
}

// NewRegistry creates an empty registry whose channels retain capacity events.
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{
		channels: make(map[string]*Channel),
		capacity: capacity,
	}
}

// channel returns the channel for sessionID, creating it if absent.
func (r *Registry) channel(sessionID string) (*Channel, error) {
	r.mu.RLock()
	ch, ok := r.channels[sessionID]
	closed := r.closed
	r.mu.RUnlock()
	if ok {
		return ch, nil
	}
	if closed {
		return nil, ErrClosed
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if ch, ok := r.channels[sessionID]; ok {
		return ch, nil
	}
	ch = newChannel(r.capacity)
	r.channels[sessionID] = ch
	return ch, nil
}

// Subscribe returns a new receiver on the session's channel, creating the
// channel if this is the first access.
func (r *Registry) Subscribe(sessionID string) (*Receiver, error) {
	ch, err := r.channel(sessionID)
	if err != nil {
		return nil, err
	}
	return ch.Subscribe(), nil
}

// Publish broadcasts ev on the session's channel, creating the channel if the
// run starts before any viewer has connected.
func (r *Registry) Publish(sessionID string, ev domain.AssistantEvent) error {
	ch, err := r.channel(sessionID)
	if err != nil {
		return err
	}
	if _, err := ch.Send(ev); err != nil {
		return fmt.Errorf("publish to session %s: %w", sessionID, err)
	}
	return nil
}

// Lookup returns the existing channel for sessionID without creating one.
func (r *Registry) Lookup(sessionID string) (*Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	return ch, nil
}

// Stats returns the number of sessions and open subscribers.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{Sessions: len(r.channels)}
	for _, ch := range r.channels {
		s.Subscribers += ch.ReceiverCount()
	}
	return s
}

// Close closes every channel. Later subscribe and publish calls fail with ErrClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	for _, ch := range r.channels {
		ch.Close()
	}
}
