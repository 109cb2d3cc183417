// Package websocket provides the WebSocket transport of the relay hub.
//
// The websocket package implements:
//   - HTTP upgrade of operator and agent connections
//   - One read pump and one write pump per connection
//   - Ping/pong keepalive and write deadlines
//   - Non-blocking outbound queues with slow-consumer eviction
//   - Exactly-once teardown per connection
//   - Forced disconnect and graceful shutdown
//
// Architecture:
//
// The Hub supervises connections; it does not route. Each accepted socket is
// wrapped in a Conn, registered through the relay's Open hook, and served by
// two goroutines. The read pump decodes every frame and hands it to the relay
// in arrival order. The write pump drains the Conn's send queue, one envelope
// per text frame.
//
// Message Protocol:
//
// Frames carry JSON envelopes (see package envelope). A frame that does not
// decode closes the connection with status 1007; a failed verification
// closes it with status 1008. Peers never receive error envelopes.
//
// Usage:
//
//	reg := registry.New()
//	r := relay.New(reg, relay.Options{})
//	hub := websocket.NewHub(r, reg, websocket.Options{})
//
//	http.HandleFunc("/ws", hub.ServeWS)
//	...
//	hub.Shutdown(ctx)
//
// Connection Lifecycle:
//
// 1. Client connects; it is registered with role unknown
// 2. Client sends its verification envelope
// 3. Hub replies with assignedID and announces the client to operators
// 4. Client exchanges envelopes with its peers
// 5. Disconnection triggers a single teardown and a clientDisconnected notice
//
// Concurrency:
//
// Send never blocks the caller. If a connection's queue is full the
// connection is closed instead of stalling the sender.
package websocket
