package relay

import (
	"github.com/wricardo/rover-relay-hub/hub/envelope"
	"github.com/wricardo/rover-relay-hub/hub/registry"
)

// Route delivers an envelope from a verified sender. The envelope's msgSource
// is replaced with the sender's connection ID. Senders that are no longer
// registered or not verified are dropped.
func (r *Relay) Route(senderID string, env *envelope.Envelope) Delivery {
	sender, err := r.clients.Lookup(senderID)
	if err != nil || !sender.Role.Verified() {
		r.stats.unroutable.Add(1)
		r.logf("Dropping %s from %s: sender is not a verified client", env.Type, senderID)
		return Delivery{}
	}

	out := *env
	out.Source = sender.ID
	return r.dispatch(&out)
}

// dispatch resolves the destinations of env and delivers it.
func (r *Relay) dispatch(env *envelope.Envelope) Delivery {
	r.stats.routed.Add(1)

	if !env.HasTarget() {
		return r.deliver(env, r.clients.AllWithRole(registry.RoleOperator), "")
	}

	target := env.TargetID()
	if target == r.hubID {
		// Addressed to the hub itself; nothing to forward.
		return Delivery{}
	}

	client, err := r.clients.Lookup(target)
	if err != nil || !client.Role.Verified() {
		r.stats.unroutable.Add(1)
		r.logf("Dropping %s from %s: target %s is not connected", env.Type, env.Source, target)
		return Delivery{}
	}

	return r.deliver(env, []registry.Client{client}, "")
}

// sendControl delivers a hub-originated envelope to one client.
func (r *Relay) sendControl(to registry.Client, msgType string, payload any) Delivery {
	env, err := envelope.New(r.hubID, msgType, payload, to.ID)
	if err != nil {
		r.logf("Failed to build %s envelope: %v", msgType, err)
		return Delivery{}
	}
	return r.deliver(env, []registry.Client{to}, "")
}

// broadcastControl delivers a hub-originated envelope to every operator
// except the one named by exclude.
func (r *Relay) broadcastControl(msgType string, payload any, exclude string) Delivery {
	env, err := envelope.New(r.hubID, msgType, payload, "")
	if err != nil {
		r.logf("Failed to build %s envelope: %v", msgType, err)
		return Delivery{}
	}
	return r.deliver(env, r.clients.AllWithRole(registry.RoleOperator), exclude)
}

// deliver encodes env once and hands it to each recipient's channel. A
// failed send only affects that recipient.
func (r *Relay) deliver(env *envelope.Envelope, to []registry.Client, exclude string) Delivery {
	data, err := envelope.Encode(env)
	if err != nil {
		r.logf("Failed to encode %s envelope: %v", env.Type, err)
		return Delivery{}
	}

	var d Delivery
	for _, client := range to {
		if client.ID == exclude || client.Channel == nil {
			continue
		}
		d.Recipients++
		if client.Channel.Send(data) {
			d.Delivered++
		} else {
			d.Failed++
			r.logf("Delivery of %s to %s failed", env.Type, client.ID)
		}
	}

	r.stats.delivered.Add(int64(d.Delivered))
	r.stats.failed.Add(int64(d.Failed))
	return d
}
