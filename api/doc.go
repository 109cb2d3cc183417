// Package api provides the HTTP surface of the relay hub.
//
// Endpoints:
//
//   - GET /api - hub summary (hub id, version, client counts, relay stats)
//   - GET /api/clients?role=operator|agent|unknown - list connections
//   - GET /api/clients/{id} - one connection
//   - DELETE /api/clients/{id} - force a connection closed
//   - POST /api/messages - publish a hub-originated envelope
//
// WebSocket upgrades are accepted on "/" and "/ws" and handed to the
// connection supervisor. Every other path is served from the static UI
// directory when one is configured.
//
// Publishing:
//
//	POST /api/messages
//	{
//	  "msgType": "drive",
//	  "msgTarget": "<connection id>",  // omit to broadcast to operators
//	  "msgPayload": {"dir": "left"}
//	}
//
// The envelope is stamped with the hub ID as msgSource and routed with the
// same target policy as client traffic. Reserved control types are rejected
// with 400.
//
// Errors are returned as JSON with an appropriate status code:
//
//	{"error": "error message"}
package api
