package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/wricardo/rover-relay-hub/api"
)

// Client is a thin MCP client that proxies to the REST API
type Client struct {
	baseURL    string
	version    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// NewClient creates a new MCP client that calls the REST API
func NewClient(baseURL, version string) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		version: version,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	c.initMCPServer()
	return c
}

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		"Rover Relay Hub",
		c.version,
		server.WithToolCapabilities(true),
		server.WithInstructions(`Rover Relay Hub - MCP Interface

This is a thin client that proxies all requests to the hub's REST API.

The hub relays JSON envelopes between operator consoles and rover agents
over WebSocket. Messages you send here are stamped with the hub ID as
msgSource and routed exactly like client traffic.

AVAILABLE TOOLS:
- hub_status: Hub ID, client counts and delivery counters
- list_clients: List connections, optionally filtered by role
- get_client: Details of one connection
- send_message: Publish an envelope to one client, or to all operators
- disconnect_client: Force a connection closed
- protocol_reference: Envelope format and routing rules`),
	)

	c.registerTools()
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "hub_status",
		Description: "Get the hub ID, connected client counts and relay counters",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleHubStatus)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_clients",
		Description: "List connected clients",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"role": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"operator", "agent", "unknown"},
					"description": "Only list clients with this role (optional)",
				},
			},
		},
	}, c.handleListClients)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_client",
		Description: "Get details of a specific client",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"client_id": map[string]interface{}{
					"type":        "string",
					"description": "Connection ID assigned by the hub",
				},
			},
			Required: []string{"client_id"},
		},
	}, c.handleGetClient)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "send_message",
		Description: "Publish a message from the hub. Without a target it goes to every operator.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"msg_type": map[string]interface{}{
					"type":        "string",
					"description": "Application message type, e.g. drive or stop. Reserved control types are rejected.",
				},
				"target": map[string]interface{}{
					"type":        "string",
					"description": "Connection ID of the recipient (optional)",
				},
				"payload": map[string]interface{}{
					"type":        "object",
					"description": "Message payload (optional)",
				},
			},
			Required: []string{"msg_type"},
		},
	}, c.handleSendMessage)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "disconnect_client",
		Description: "Close a client connection",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"client_id": map[string]interface{}{
					"type":        "string",
					"description": "Connection ID to close",
				},
			},
			Required: []string{"client_id"},
		},
	}, c.handleDisconnectClient)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "protocol_reference",
		Description: "Describe the envelope format, control messages and routing rules",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleProtocolReference)
}

// GetMCPServer returns the underlying MCP server
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// apiCall makes an HTTP call to the REST API
func (c *Client) apiCall(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp map[string]string
		json.NewDecoder(resp.Body).Decode(&errResp)
		if msg, ok := errResp["error"]; ok {
			return fmt.Errorf("%s", msg)
		}
		return fmt.Errorf("API error: %d", resp.StatusCode)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

func arguments(request mcp.CallToolRequest) map[string]interface{} {
	args, _ := request.Params.Arguments.(map[string]interface{})
	if args == nil {
		return map[string]interface{}{}
	}
	return args
}

func (c *Client) handleHubStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var summary api.Summary
	if err := c.apiCall(ctx, "GET", "/api", nil, &summary); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatSummary(&summary)), nil
}

func (c *Client) handleListClients(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	role, _ := args["role"].(string)

	path := "/api/clients"
	if role != "" {
		path += "?role=" + url.QueryEscape(role)
	}

	var list api.ClientList
	if err := c.apiCall(ctx, "GET", path, nil, &list); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatClientList(&list)), nil
}

func (c *Client) handleGetClient(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	clientID, _ := args["client_id"].(string)
	if clientID == "" {
		return mcp.NewToolResultError("client_id is required"), nil
	}

	var view api.ClientView
	if err := c.apiCall(ctx, "GET", "/api/clients/"+url.PathEscape(clientID), nil, &view); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatClient(&view)), nil
}

func (c *Client) handleSendMessage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	msgType, _ := args["msg_type"].(string)
	if msgType == "" {
		return mcp.NewToolResultError("msg_type is required"), nil
	}
	target, _ := args["target"].(string)

	body := api.PublishRequest{Type: msgType, Target: target}
	if payload, ok := args["payload"]; ok && payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid payload: %v", err)), nil
		}
		body.Payload = raw
	}

	var resp api.PublishResponse
	if err := c.apiCall(ctx, "POST", "/api/messages", body, &resp); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatPublish(&resp)), nil
}

func (c *Client) handleDisconnectClient(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	clientID, _ := args["client_id"].(string)
	if clientID == "" {
		return mcp.NewToolResultError("client_id is required"), nil
	}

	var resp map[string]string
	if err := c.apiCall(ctx, "DELETE", "/api/clients/"+url.PathEscape(clientID), nil, &resp); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(resp["message"]), nil
}

func (c *Client) handleProtocolReference(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reference := `Rover Relay Hub - Protocol Reference

ENVELOPE:
Every frame is one JSON object:
  msgID         unique message ID
  msgType       message type (required)
  msgSource     sender connection ID, or the hub ID
  msgTarget     recipient connection ID, or null
  msgTimestamp  ISO-8601 UTC time
  msgPayload    type-specific object

HANDSHAKE:
1. A client connects and is registered as 'unknown'.
2. Its first message must be 'verification' with
   msgPayload {"clientType": "operator"} or {"clientType": "agent"}.
3. The hub answers with 'assignedID' {"assignedID": "<connection id>"}.
4. Operators already connected receive 'clientConnected' {"id", "type"}.
Anything else as the first message closes the connection.

ROUTING:
• msgTarget set: delivered only to that verified client
• msgTarget null: delivered to every verified operator
• msgTarget equal to the hub ID: consumed by the hub
• Unknown or unverified targets: dropped
• Verified clients that disconnect are announced with 'clientDisconnected'

RESERVED TYPES:
verification, assignedID, clientConnected, clientDisconnected
These are produced by the hub and cannot be sent with send_message.`

	return mcp.NewToolResultText(reference), nil
}

// Formatting helpers

func formatSummary(s *api.Summary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Hub: %s (v%s)\n", s.HubID, s.Version)
	fmt.Fprintf(&b, "Clients: %d\n", s.Clients)

	roles := make([]string, 0, len(s.ByRole))
	for role := range s.ByRole {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	for _, role := range roles {
		fmt.Fprintf(&b, "  %s: %d\n", role, s.ByRole[role])
	}

	st := s.Stats
	fmt.Fprintf(&b, "\nConnections: %d total, %d verified, %d rejected, %d disconnected\n",
		st.Connections, st.Verified, st.Rejected, st.Disconnected)
	fmt.Fprintf(&b, "Messages: %d routed, %d delivered, %d failed, %d unroutable, %d ignored\n",
		st.Routed, st.Delivered, st.Failed, st.Unroutable, st.IgnoredFrames)

	return b.String()
}

func formatClientList(list *api.ClientList) string {
	if list.Count == 0 {
		return "No clients connected"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Clients (%d):\n\n", list.Count)
	for _, c := range list.Clients {
		fmt.Fprintf(&b, "- %s [%s] from %s, connected %s\n",
			c.ID, c.Type, c.RemoteAddr, c.ConnectedAt.Format("15:04:05"))
	}
	return b.String()
}

func formatClient(c *api.ClientView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Client: %s\n", c.ID)
	fmt.Fprintf(&b, "Type: %s\n", c.Type)
	fmt.Fprintf(&b, "State: %s\n", c.State)
	fmt.Fprintf(&b, "Remote: %s\n", c.RemoteAddr)
	fmt.Fprintf(&b, "Connected: %s\n", c.ConnectedAt.Format("2006-01-02 15:04:05"))
	if c.VerifiedAt != nil {
		fmt.Fprintf(&b, "Verified: %s\n", c.VerifiedAt.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

func formatPublish(resp *api.PublishResponse) string {
	d := resp.Delivery
	if resp.Envelope == nil {
		return fmt.Sprintf("Published to %d recipient(s)", d.Recipients)
	}

	target := "all operators"
	if resp.Envelope.HasTarget() {
		target = resp.Envelope.TargetID()
	}

	status := "✓"
	switch {
	case d.Recipients == 0:
		status = "⚠️ no recipients"
	case d.Failed > 0:
		status = fmt.Sprintf("⚠️ %d failed", d.Failed)
	}

	return fmt.Sprintf("%s %s → %s\nMessage ID: %s\nDelivered: %d/%d\n",
		status, resp.Envelope.Type, target, resp.Envelope.ID, d.Delivered, d.Recipients)
}
