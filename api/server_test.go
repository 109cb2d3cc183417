package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/wricardo/rover-relay-hub/hub/envelope"
	"github.com/wricardo/rover-relay-hub/hub/registry"
	"github.com/wricardo/rover-relay-hub/hub/relay"
	hubws "github.com/wricardo/rover-relay-hub/transport/websocket"
)

// stubChannel records frames sent to a client that has no socket.
type stubChannel struct {
	mu     sync.Mutex
	frames [][]byte
}

func (c *stubChannel) Send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, data)
	return true
}

func (c *stubChannel) last(t *testing.T) *envelope.Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		t.Fatal("Expected at least one frame")
	}
	env, err := envelope.Decode(c.frames[len(c.frames)-1])
	if err != nil {
		t.Fatalf("Failed to decode frame: %v", err)
	}
	return env
}

type testEnv struct {
	server  *Server
	relay   *relay.Relay
	clients *registry.Registry
	hub     *hubws.Hub
}

func setupTestServer(t *testing.T, staticDir string) *testEnv {
	t.Helper()

	quiet := func(string, ...any) {}
	reg := registry.New()
	r := relay.New(reg, relay.Options{Logf: quiet})
	hub := hubws.NewHub(r, reg, hubws.Options{Logf: quiet})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		hub.Shutdown(ctx)
	})

	return &testEnv{
		server:  NewServer(r, reg, hub, Options{StaticDir: staticDir, Version: "test"}),
		relay:   r,
		clients: reg,
		hub:     hub,
	}
}

// connect registers a socketless client and verifies it as role.
func (e *testEnv) connect(t *testing.T, role string) (string, *stubChannel) {
	t.Helper()
	ch := &stubChannel{}
	id := e.relay.Open(ch, "10.0.0.7:4242")
	if role == "" {
		return id, ch
	}
	env, _ := envelope.New(id, envelope.TypeVerification, envelope.VerificationPayload{ClientType: role}, relay.DefaultHubID)
	if err := e.relay.HandleMessage(id, env); err != nil {
		t.Fatalf("Verification as %s failed: %v", role, err)
	}
	return id, ch
}

func makeRequest(method, path string, body interface{}) *http.Request {
	var bodyBytes []byte
	if body != nil {
		bodyBytes, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewBuffer(bodyBytes))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder, target interface{}) {
	if err := json.Unmarshal(w.Body.Bytes(), target); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
}

func TestSummary(t *testing.T) {
	env := setupTestServer(t, "")
	env.connect(t, "operator")
	env.connect(t, "agent")
	env.connect(t, "agent")
	env.connect(t, "")

	w := httptest.NewRecorder()
	env.server.ServeHTTP(w, makeRequest("GET", "/api", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var resp Summary
	parseResponse(t, w, &resp)
	if resp.HubID != relay.DefaultHubID {
		t.Errorf("Expected hub id %s, got %s", relay.DefaultHubID, resp.HubID)
	}
	if resp.Version != "test" {
		t.Errorf("Expected version test, got %s", resp.Version)
	}
	if resp.Clients != 4 {
		t.Errorf("Expected 4 clients, got %d", resp.Clients)
	}
	if resp.ByRole["agent"] != 2 || resp.ByRole["operator"] != 1 || resp.ByRole["unknown"] != 1 {
		t.Errorf("Unexpected role counts: %v", resp.ByRole)
	}
	if resp.Stats.Connections != 4 || resp.Stats.Verified != 3 {
		t.Errorf("Unexpected stats: %+v", resp.Stats)
	}
}

func TestListClients(t *testing.T) {
	env := setupTestServer(t, "")
	opID, _ := env.connect(t, "operator")
	agentID, _ := env.connect(t, "agent")
	pendingID, _ := env.connect(t, "")

	tests := []struct {
		name           string
		query          string
		expectedStatus int
		expectedIDs    []string
	}{
		{name: "All clients", query: "", expectedStatus: http.StatusOK, expectedIDs: []string{opID, agentID, pendingID}},
		{name: "Operators only", query: "?role=operator", expectedStatus: http.StatusOK, expectedIDs: []string{opID}},
		{name: "Agents only", query: "?role=agent", expectedStatus: http.StatusOK, expectedIDs: []string{agentID}},
		{name: "Unverified only", query: "?role=unknown", expectedStatus: http.StatusOK, expectedIDs: []string{pendingID}},
		{name: "Invalid role", query: "?role=ui", expectedStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			env.server.ServeHTTP(w, makeRequest("GET", "/api/clients"+tt.query, nil))

			if w.Code != tt.expectedStatus {
				t.Fatalf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			if tt.expectedStatus != http.StatusOK {
				return
			}

			var resp ClientList
			parseResponse(t, w, &resp)
			if resp.Count != len(tt.expectedIDs) {
				t.Fatalf("Expected %d clients, got %d", len(tt.expectedIDs), resp.Count)
			}
			got := make(map[string]bool)
			for _, c := range resp.Clients {
				got[c.ID] = true
			}
			for _, id := range tt.expectedIDs {
				if !got[id] {
					t.Errorf("Expected client %s in response", id)
				}
			}
		})
	}
}

func TestGetClient(t *testing.T) {
	env := setupTestServer(t, "")
	agentID, _ := env.connect(t, "agent")
	pendingID, _ := env.connect(t, "")

	tests := []struct {
		name           string
		clientID       string
		expectedStatus int
		validateResp   func(*testing.T, *httptest.ResponseRecorder)
	}{
		{
			name:           "Verified agent",
			clientID:       agentID,
			expectedStatus: http.StatusOK,
			validateResp: func(t *testing.T, w *httptest.ResponseRecorder) {
				var resp ClientView
				parseResponse(t, w, &resp)
				if resp.Type != "agent" || resp.State != "verified" {
					t.Errorf("Unexpected client view: %+v", resp)
				}
				if resp.VerifiedAt == nil {
					t.Error("Expected verified_at to be set")
				}
				if resp.RemoteAddr != "10.0.0.7:4242" {
					t.Errorf("Expected remote address to be kept, got %s", resp.RemoteAddr)
				}
			},
		},
		{
			name:           "Unverified connection",
			clientID:       pendingID,
			expectedStatus: http.StatusOK,
			validateResp: func(t *testing.T, w *httptest.ResponseRecorder) {
				var resp ClientView
				parseResponse(t, w, &resp)
				if resp.Type != "unknown" || resp.State != "unverified" {
					t.Errorf("Unexpected client view: %+v", resp)
				}
				if resp.VerifiedAt != nil {
					t.Error("Expected verified_at to be omitted")
				}
			},
		},
		{
			name:           "Client not found",
			clientID:       "nonexistent",
			expectedStatus: http.StatusNotFound,
			validateResp: func(t *testing.T, w *httptest.ResponseRecorder) {
				var resp map[string]string
				parseResponse(t, w, &resp)
				if resp["error"] == "" {
					t.Error("Expected error message")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := makeRequest("GET", "/api/clients/"+tt.clientID, nil)
			req = mux.SetURLVars(req, map[string]string{"id": tt.clientID})

			env.server.handleGetClient(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			if tt.validateResp != nil {
				tt.validateResp(t, w)
			}
		})
	}
}

func TestPublish(t *testing.T) {
	env := setupTestServer(t, "")
	_, opCh := env.connect(t, "operator")
	agentID, agentCh := env.connect(t, "agent")

	tests := []struct {
		name           string
		body           interface{}
		expectedStatus int
		validateResp   func(*testing.T, *httptest.ResponseRecorder)
	}{
		{
			name: "Broadcast to operators",
			body: map[string]interface{}{
				"msgType":    "notice",
				"msgPayload": map[string]string{"text": "battery swap in 5"},
			},
			expectedStatus: http.StatusAccepted,
			validateResp: func(t *testing.T, w *httptest.ResponseRecorder) {
				var resp PublishResponse
				parseResponse(t, w, &resp)
				if resp.Delivery.Recipients != 1 || resp.Delivery.Delivered != 1 {
					t.Errorf("Unexpected delivery: %+v", resp.Delivery)
				}
				got := opCh.last(t)
				if got.Type != "notice" || got.Source != relay.DefaultHubID {
					t.Errorf("Unexpected envelope at operator: %+v", got)
				}
				if got.ID != resp.Envelope.ID {
					t.Errorf("Expected delivered ID %s, got %s", resp.Envelope.ID, got.ID)
				}
			},
		},
		{
			name: "Targeted at agent",
			body: map[string]interface{}{
				"msgType":    "drive",
				"msgTarget":  agentID,
				"msgPayload": map[string]string{"dir": "left"},
			},
			expectedStatus: http.StatusAccepted,
			validateResp: func(t *testing.T, w *httptest.ResponseRecorder) {
				got := agentCh.last(t)
				if got.Type != "drive" || got.TargetID() != agentID {
					t.Errorf("Unexpected envelope at agent: %+v", got)
				}
				var payload map[string]string
				got.DecodePayload(&payload)
				if payload["dir"] != "left" {
					t.Errorf("Expected payload to be relayed unchanged, got %v", payload)
				}
			},
		},
		{
			name:           "Unknown target",
			body:           map[string]interface{}{"msgType": "drive", "msgTarget": "ghost"},
			expectedStatus: http.StatusAccepted,
			validateResp: func(t *testing.T, w *httptest.ResponseRecorder) {
				var resp PublishResponse
				parseResponse(t, w, &resp)
				if resp.Delivery.Recipients != 0 {
					t.Errorf("Expected no recipients, got %+v", resp.Delivery)
				}
			},
		},
		{
			name:           "Reserved type",
			body:           map[string]interface{}{"msgType": envelope.TypeClientConnected},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Missing type",
			body:           map[string]interface{}{"msgPayload": map[string]int{"x": 1}},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Invalid body",
			body:           "not an object",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			env.server.ServeHTTP(w, makeRequest("POST", "/api/messages", tt.body))

			if w.Code != tt.expectedStatus {
				t.Fatalf("Expected status %d, got %d: %s", tt.expectedStatus, w.Code, w.Body.String())
			}
			if tt.validateResp != nil {
				tt.validateResp(t, w)
			}
		})
	}
}

func TestDisconnectClient_NotFound(t *testing.T) {
	env := setupTestServer(t, "")

	w := httptest.NewRecorder()
	env.server.ServeHTTP(w, makeRequest("DELETE", "/api/clients/nonexistent", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func dialVerified(t *testing.T, url, role string) (*websocket.Conn, string) {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to connect to %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })

	verify, _ := envelope.New("", envelope.TypeVerification, envelope.VerificationPayload{ClientType: role}, relay.DefaultHubID)
	if err := conn.WriteJSON(verify); err != nil {
		t.Fatalf("Failed to send verification: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var assigned envelope.Envelope
	if err := conn.ReadJSON(&assigned); err != nil {
		t.Fatalf("Failed to read assignedID: %v", err)
	}
	var payload envelope.AssignedIDPayload
	if err := assigned.DecodePayload(&payload); err != nil {
		t.Fatalf("Failed to decode assignedID: %v", err)
	}
	return conn, payload.AssignedID
}

func TestWebSocketRoutes(t *testing.T) {
	env := setupTestServer(t, "")
	server := httptest.NewServer(env.server)
	defer server.Close()

	base := "ws" + strings.TrimPrefix(server.URL, "http")

	for _, path := range []string{"/", "/ws"} {
		_, id := dialVerified(t, base+path, "agent")
		if id == "" {
			t.Errorf("Expected an assigned ID on %s", path)
		}
	}

	if n := env.clients.Count(); n != 2 {
		t.Errorf("Expected 2 registered clients, got %d", n)
	}
}

func TestDisconnectClient(t *testing.T) {
	env := setupTestServer(t, "")
	server := httptest.NewServer(env.server)
	defer server.Close()

	conn, id := dialVerified(t, "ws"+strings.TrimPrefix(server.URL, "http")+"/ws", "agent")

	req, _ := http.NewRequest("DELETE", server.URL+"/api/clients/"+id, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("Expected normal closure, got %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := env.clients.Lookup(id); err != nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("Expected client to be removed from the registry")
}

func TestStaticFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>rover</h1>"), 0o644); err != nil {
		t.Fatal(err)
	}

	env := setupTestServer(t, dir)

	w := httptest.NewRecorder()
	env.server.ServeHTTP(w, makeRequest("GET", "/", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "rover") {
		t.Errorf("Expected index.html body, got %q", w.Body.String())
	}
}

func TestStaticFiles_Disabled(t *testing.T) {
	env := setupTestServer(t, "")

	w := httptest.NewRecorder()
	env.server.ServeHTTP(w, makeRequest("GET", "/index.html", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}
