// Package relay implements the verification gate and router of the hub.
//
// The relay package implements:
//   - Connection lifecycle hooks (Open, HandleMessage, Close)
//   - The one-time verification handshake for every connection
//   - Target-based unicast and broadcast-to-operators routing
//   - Hub-originated control envelopes (assignedID, clientConnected,
//     clientDisconnected)
//   - Delivery counters
//
// Architecture:
//
// The relay sits between the transport layer (WebSocket supervisor, REST API)
// and the client registry. Transports call Open when a socket is accepted,
// HandleMessage for every decoded envelope and Close exactly once when the
// socket goes away. The relay never touches sockets directly; it delivers
// encoded frames through each client's registry.Channel.
//
// Verification:
//
// A connection starts Unverified. Its first envelope must be
//
//	{"msgType": "verification", "msgPayload": {"clientType": "operator"}}
//
// (or "agent"). Anything else makes HandleMessage return an error wrapping
// ErrVerificationFailed and the transport must close the connection. After a
// successful handshake the client receives an assignedID envelope and every
// other operator receives clientConnected. Later verification envelopes on
// the same connection are ignored.
//
// Routing:
//
// Envelopes from verified clients are stamped with the sender's connection
// ID as msgSource. A msgTarget naming a verified connection delivers to that
// connection only; an unknown target is dropped silently; no target
// broadcasts to all operators. Agents never receive broadcasts.
//
// Usage:
//
//	reg := registry.New()
//	r := relay.New(reg, relay.Options{HubID: "server-main"})
//
//	id := r.Open(conn, remoteAddr)
//	defer r.Close(id)
//	for frame := range frames {
//		env, err := envelope.Decode(frame)
//		if err != nil {
//			return
//		}
//		if err := r.HandleMessage(id, env); err != nil {
//			return
//		}
//	}
package relay
