package relay

import (
	"errors"
	"log"

	"github.com/google/uuid"
	"github.com/wricardo/rover-relay-hub/hub/envelope"
	"github.com/wricardo/rover-relay-hub/hub/registry"
)

var ErrReservedType = errors.New("reserved message type")

// Relay binds the verification gate and router to a client registry.
type Relay struct {
	clients Registry
	hubID   string
	logf    func(format string, args ...any)
	stats   counters
}

// New creates a relay over the given registry.
func New(clients Registry, opts Options) *Relay {
	hubID := opts.HubID
	if hubID == "" {
		hubID = DefaultHubID
	}

	logf := opts.Logf
	if logf == nil {
		logf = log.Printf
	}

	return &Relay{
		clients: clients,
		hubID:   hubID,
		logf:    logf,
	}
}

// HubID returns the identifier used for hub-originated envelopes.
func (r *Relay) HubID() string {
	return r.hubID
}

// Stats returns the current delivery counters.
func (r *Relay) Stats() Stats {
	return r.stats.snapshot()
}

// Open registers a freshly accepted connection as an unverified client.
func (r *Relay) Open(ch registry.Channel, remoteAddr string) string {
	id := r.clients.Register(ch, remoteAddr)
	r.stats.connections.Add(1)
	r.logf("Client %s connected from %s as 'unknown', awaiting verification", id, remoteAddr)
	return id
}

// HandleMessage processes one decoded envelope from connection id. A non-nil
// error is fatal to that connection and the caller must close it.
func (r *Relay) HandleMessage(id string, env *envelope.Envelope) error {
	if r.State(id) == Unverified {
		if err := r.verify(id, env); err != nil {
			r.stats.rejected.Add(1)
			return err
		}
		return nil
	}

	switch {
	case env.Type == envelope.TypeVerification:
		r.stats.ignoredFrames.Add(1)
		r.logf("Ignoring repeated verification from %s", id)
		return nil
	case envelope.IsReserved(env.Type):
		r.stats.ignoredFrames.Add(1)
		r.logf("Ignoring reserved %s envelope from %s", env.Type, id)
		return nil
	}

	r.Route(id, env)
	return nil
}

// Close removes connection id from the registry. If the client had been
// announced to operators, they are told it is gone. Only the first call for a
// given id has any effect.
func (r *Relay) Close(id string) (registry.Client, bool) {
	client, ok := r.clients.Remove(id)
	if !ok {
		return registry.Client{}, false
	}
	r.stats.disconnected.Add(1)
	r.logf("Client %s (%s) disconnected", id, client.Role)

	if client.Role.Verified() {
		r.broadcastControl(envelope.TypeClientDisconnected, clientPayload(client), "")
	}
	return client, true
}

// Publish routes a hub-originated envelope with the regular target policy.
// Reserved control types cannot be published.
func (r *Relay) Publish(env *envelope.Envelope) (Delivery, error) {
	if env.Type == "" {
		return Delivery{}, envelope.ErrMissingType
	}
	if envelope.IsReserved(env.Type) {
		return Delivery{}, ErrReservedType
	}

	out := *env
	out.Source = r.hubID
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	if out.Timestamp == "" {
		out.Timestamp = envelope.Now()
	}

	return r.dispatch(&out), nil
}

func clientPayload(c registry.Client) envelope.ClientPayload {
	info := c.Info()
	return envelope.ClientPayload{ID: info.ID, Type: string(info.Type)}
}
