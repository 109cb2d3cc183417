package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrClientNotFound  = errors.New("client not found")
	ErrAlreadyVerified = errors.New("client already verified")
	ErrInvalidRole     = errors.New("invalid client role")
)

// Role is the verified class of a connection.
type Role string

const (
	RoleUnknown  Role = "unknown"
	RoleOperator Role = "operator"
	RoleAgent    Role = "agent"
)

// ParseRole maps a declared client type to a verifiable role.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleOperator:
		return RoleOperator, nil
	case RoleAgent:
		return RoleAgent, nil
	}
	return RoleUnknown, ErrInvalidRole
}

// Verified reports whether the role is past the handshake.
func (r Role) Verified() bool {
	return r == RoleOperator || r == RoleAgent
}

// Channel is the outbound side of a connection. Send must not block; it
// reports whether the frame was queued.
type Channel interface {
	Send(data []byte) bool
}

// Client is a snapshot of one registered connection.
type Client struct {
	ID          string
	Role        Role
	Channel     Channel
	RemoteAddr  string
	ConnectedAt time.Time
	VerifiedAt  time.Time
}

// Info is the public view of a client that is announced to operators.
type Info struct {
	ID   string `json:"id"`
	Type Role   `json:"type"`
}

// Info returns the public view of the client.
func (c Client) Info() Info {
	return Info{ID: c.ID, Type: c.Role}
}

// Registry holds all live connections keyed by connection ID.
type Registry struct {
	clients map[string]*Client
	mu      sync.RWMutex
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		clients: make(map[string]*Client),
	}
}

// Register adds a new unverified client and returns its connection ID.
func (r *Registry) Register(ch Channel, remoteAddr string) string {
	client := &Client{
		ID:          uuid.NewString(),
		Role:        RoleUnknown,
		Channel:     ch,
		RemoteAddr:  remoteAddr,
		ConnectedAt: time.Now(),
	}

	r.mu.Lock()
	r.clients[client.ID] = client
	r.mu.Unlock()

	return client.ID
}

// Lookup returns a copy of the client registered under id.
func (r *Registry) Lookup(id string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, exists := r.clients[id]
	if !exists {
		return Client{}, ErrClientNotFound
	}
	return *client, nil
}

// SetRole performs the one-time role transition of an unknown client.
func (r *Registry) SetRole(id string, role Role) error {
	if !role.Verified() {
		return ErrInvalidRole
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	client, exists := r.clients[id]
	if !exists {
		return ErrClientNotFound
	}
	if client.Role != RoleUnknown {
		return ErrAlreadyVerified
	}

	client.Role = role
	client.VerifiedAt = time.Now()
	return nil
}

// Remove deletes a client and returns what was removed. Removing an absent
// client is a no-op that returns false.
func (r *Registry) Remove(id string) (Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	client, exists := r.clients[id]
	if !exists {
		return Client{}, false
	}
	delete(r.clients, id)
	return *client, true
}

// AllWithRole returns a snapshot of every client currently holding role.
func (r *Registry) AllWithRole(role Role) []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Client, 0, len(r.clients))
	for _, client := range r.clients {
		if client.Role == role {
			result = append(result, *client)
		}
	}
	return result
}

// List returns a snapshot of all registered clients.
func (r *Registry) List() []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Client, 0, len(r.clients))
	for _, client := range r.clients {
		result = append(result, *client)
	}
	return result
}

// Count returns the number of registered clients.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// CountByRole returns the number of registered clients per role.
func (r *Registry) CountByRole() map[Role]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := map[Role]int{
		RoleUnknown:  0,
		RoleOperator: 0,
		RoleAgent:    0,
	}
	for _, client := range r.clients {
		counts[client.Role]++
	}
	return counts
}
