// Package registry tracks every live session and the username bound to it,
// and fans broadcast frames out to all of them.
package registry

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/romgate/internal/core/client"
)

// Registry is the shared map of connected clients to usernames. Entries are
// created on connect, updated on login/logout, and removed on disconnect.
// All mutation and iteration happens under the Registry's mutex; broadcast
// sends happen outside it so a slow client can only delay the broadcast
// loop, never block other sessions' registry operations.
type Registry struct {
	logger *logrus.Logger

	mu      sync.Mutex
	clients map[*client.Client]string
}

func New(logger *logrus.Logger) *Registry {
	return &Registry{
		logger:  logger,
		clients: make(map[*client.Client]string),
	}
}

// Add inserts a newly accepted client under the placeholder username.
func (r *Registry) Add(c *client.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c] = client.DefaultUsername
}

// SetUsername rebinds the username recorded for c. A no-op if c has already
// been removed by a racing teardown.
func (r *Registry) SetUsername(c *client.Client, username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[c]; ok {
		r.clients[c] = username
	}
}

// Remove deletes c's entry. Removing an absent client is a no-op so racing
// error paths can both run the teardown safely.
func (r *Registry) Remove(c *client.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, c)
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Username returns the username currently recorded for c.
func (r *Registry) Username(c *client.Client) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name, ok := r.clients[c]; ok {
		return name
	}
	return client.DefaultUsername
}

// Broadcast sends one frame to every currently registered client. The client
// set is snapshotted under the lock and the sends happen outside it. Send
// failures are logged and skipped; the failing session's own read loop will
// notice the dead connection and tear it down.
func (r *Registry) Broadcast(payload []byte) {
	r.mu.Lock()
	snapshot := make([]*client.Client, 0, len(r.clients))
	for c := range r.clients {
		snapshot = append(snapshot, c)
	}
	r.mu.Unlock()

	for _, c := range snapshot {
		if err := c.Send(payload); err != nil {
			r.logger.Warnf("broadcast to %s failed: %s", c.IPAddr(), err)
		}
	}
}
