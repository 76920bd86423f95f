package vento

import (
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrAlreadyRegistered is returned when a registration ID is reused.
var ErrAlreadyRegistered = errors.New("registration already exists")

// Registry maps registration IDs to clients. Entries are added when a fan
// is set up and removed when it is torn down.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*Client)}
}

// Add registers c under id.
func (r *Registry) Add(id string, c *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[id]; ok {
		return ErrAlreadyRegistered
	}
	r.clients[id] = c
	return nil
}

// Get returns the client registered under id.
func (r *Registry) Get(id string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	return c, ok
}

// Remove unregisters id and closes its client.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	c, ok := r.clients[id]
	delete(r.clients, id)
	r.mu.Unlock()

	if ok {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Str("registration", id).Msg("Failed to close fan client")
		}
	}
	return ok
}

// IDs returns the registered IDs in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Close removes and closes every client.
func (r *Registry) Close() {
	for _, id := range r.IDs() {
		r.Remove(id)
	}
}
