// Package client is a Go client for the relay hub.
//
// It performs the same handshake as the browser UI and the rover firmware:
// connect, send a verification envelope declaring the client type, and wait
// for the assignedID reply. After that, envelopes can be sent to a specific
// connection or broadcast to operators, and everything the hub delivers is
// available on Incoming.
//
// Usage:
//
//	c, err := client.Dial(ctx, "ws://localhost:3000/", client.RoleAgent)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer c.Close()
//
//	c.Send("telemetry", "", map[string]int{"battery": 87})
//
//	for env := range c.Incoming() {
//		fmt.Println(env.Type, env.Source)
//	}
package client
