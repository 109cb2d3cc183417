// Package mcp exposes the relay hub to AI agents over the Model Context
// Protocol.
//
// The Client proxies every tool call to the hub's REST API, so the same
// tool server works against an in-process hub or a remote one.
//
// MCP Tools:
//   - hub_status: hub ID, client counts and delivery counters
//   - list_clients: connected clients, optionally filtered by role
//   - get_client: details of one connection
//   - send_message: publish a hub-originated envelope
//   - disconnect_client: force a connection closed
//   - protocol_reference: envelope format and routing rules
//
// Transport Modes:
//   - Stdio: server.ServeStdio(client.GetMCPServer())
//   - HTTP: the /mcp endpoint passes request bodies to HandleMessage
//
// Usage:
//
//	client := mcp.NewClient("http://localhost:3000", version)
//	if err := server.ServeStdio(client.GetMCPServer()); err != nil {
//		log.Fatal(err)
//	}
package mcp
