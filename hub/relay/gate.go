package relay

import (
	"errors"
	"fmt"

	"github.com/wricardo/rover-relay-hub/hub/envelope"
	"github.com/wricardo/rover-relay-hub/hub/registry"
)

var ErrVerificationFailed = errors.New("verification failed")

// GateState is the verification state of one connection.
type GateState int

const (
	Unverified GateState = iota
	Verified
)

func (s GateState) String() string {
	if s == Verified {
		return "verified"
	}
	return "unverified"
}

// State returns the gate state of connection id. Connections the registry no
// longer knows are Unverified.
func (r *Relay) State(id string) GateState {
	client, err := r.clients.Lookup(id)
	if err != nil || !client.Role.Verified() {
		return Unverified
	}
	return Verified
}

// verify handles the first envelope of an unverified connection.
func (r *Relay) verify(id string, env *envelope.Envelope) error {
	if env.Type != envelope.TypeVerification {
		r.logf("First message from %s was %q, not verification", id, env.Type)
		return fmt.Errorf("%w: first message was %q", ErrVerificationFailed, env.Type)
	}

	var payload envelope.VerificationPayload
	if err := env.DecodePayload(&payload); err != nil {
		r.logf("Verification failed for %s: msgPayload is missing or invalid: %v", id, err)
		return fmt.Errorf("%w: %w", ErrVerificationFailed, err)
	}

	role, err := registry.ParseRole(payload.ClientType)
	if err != nil {
		r.logf("Verification failed for %s: invalid clientType %q", id, payload.ClientType)
		return fmt.Errorf("%w: clientType %q: %w", ErrVerificationFailed, payload.ClientType, err)
	}

	if err := r.clients.SetRole(id, role); err != nil {
		r.logf("Verification failed for %s: %v", id, err)
		return fmt.Errorf("%w: %w", ErrVerificationFailed, err)
	}

	r.stats.verified.Add(1)
	r.logf("Client %s verified as '%s'", id, role)

	client, err := r.clients.Lookup(id)
	if err != nil {
		// Closed between SetRole and here; teardown announces the departure.
		return nil
	}

	r.sendControl(client, envelope.TypeAssignedID, envelope.AssignedIDPayload{AssignedID: id})
	r.broadcastControl(envelope.TypeClientConnected, clientPayload(client), id)
	return nil
}
