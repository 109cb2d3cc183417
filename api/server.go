package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/wricardo/rover-relay-hub/hub/envelope"
	"github.com/wricardo/rover-relay-hub/hub/registry"
	"github.com/wricardo/rover-relay-hub/hub/relay"
	hubws "github.com/wricardo/rover-relay-hub/transport/websocket"
)

// Summary is the body of GET /api.
type Summary struct {
	HubID   string         `json:"hub_id"`
	Version string         `json:"version"`
	Clients int            `json:"clients"`
	ByRole  map[string]int `json:"by_role"`
	Stats   relay.Stats    `json:"stats"`
}

// ClientView is the public representation of a registered connection.
type ClientView struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	State       string     `json:"state"`
	RemoteAddr  string     `json:"remote_addr"`
	ConnectedAt time.Time  `json:"connected_at"`
	VerifiedAt  *time.Time `json:"verified_at,omitempty"`
}

// ClientList is the body of GET /api/clients.
type ClientList struct {
	Count   int          `json:"count"`
	Clients []ClientView `json:"clients"`
}

// PublishRequest is the body of POST /api/messages.
type PublishRequest struct {
	Type    string          `json:"msgType"`
	Target  string          `json:"msgTarget,omitempty"`
	Payload json.RawMessage `json:"msgPayload,omitempty"`
}

// PublishResponse reports the published envelope and its delivery.
type PublishResponse struct {
	Envelope *envelope.Envelope `json:"envelope"`
	Delivery relay.Delivery     `json:"delivery"`
}

// Options configures the API server.
type Options struct {
	// StaticDir is served for every path not handled elsewhere. Empty disables it.
	StaticDir string
	Version   string
}

// Server represents the REST API server
type Server struct {
	relay   *relay.Relay
	clients *registry.Registry
	hub     *hubws.Hub
	opts    Options
	router  *mux.Router
}

// NewServer creates a new API server
func NewServer(r *relay.Relay, clients *registry.Registry, hub *hubws.Hub, opts Options) *Server {
	s := &Server{
		relay:   r,
		clients: clients,
		hub:     hub,
		opts:    opts,
		router:  mux.NewRouter(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("", s.handleSummary).Methods("GET")
	api.HandleFunc("/clients", s.handleListClients).Methods("GET")
	api.HandleFunc("/clients/{id}", s.handleGetClient).Methods("GET")
	api.HandleFunc("/clients/{id}", s.handleDisconnectClient).Methods("DELETE")
	api.HandleFunc("/messages", s.handlePublish).Methods("POST")

	// Rover firmware and the browser UI connect at the root path.
	s.router.MatcherFunc(isWebSocketUpgrade).HandlerFunc(s.hub.ServeWS)
	s.router.HandleFunc("/ws", s.hub.ServeWS)

	if s.opts.StaticDir != "" {
		s.router.PathPrefix("/").Handler(http.FileServer(http.Dir(s.opts.StaticDir)))
	}
}

func isWebSocketUpgrade(r *http.Request, _ *mux.RouteMatch) bool {
	return websocket.IsWebSocketUpgrade(r)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) view(c registry.Client) ClientView {
	v := ClientView{
		ID:          c.ID,
		Type:        string(c.Role),
		State:       s.relay.State(c.ID).String(),
		RemoteAddr:  c.RemoteAddr,
		ConnectedAt: c.ConnectedAt,
	}
	if !c.VerifiedAt.IsZero() {
		verifiedAt := c.VerifiedAt
		v.VerifiedAt = &verifiedAt
	}
	return v
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	byRole := make(map[string]int)
	total := 0
	for role, n := range s.clients.CountByRole() {
		byRole[string(role)] = n
		total += n
	}

	respondJSON(w, http.StatusOK, Summary{
		HubID:   s.relay.HubID(),
		Version: s.opts.Version,
		Clients: total,
		ByRole:  byRole,
		Stats:   s.relay.Stats(),
	})
}

func (s *Server) handleListClients(w http.ResponseWriter, r *http.Request) {
	roleFilter := r.URL.Query().Get("role")
	if roleFilter != "" {
		switch registry.Role(roleFilter) {
		case registry.RoleUnknown, registry.RoleOperator, registry.RoleAgent:
		default:
			respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid role filter %q", roleFilter))
			return
		}
	}

	all := s.clients.List()
	sort.Slice(all, func(i, j int) bool {
		return all[i].ConnectedAt.Before(all[j].ConnectedAt)
	})

	views := make([]ClientView, 0, len(all))
	for _, c := range all {
		if roleFilter != "" && string(c.Role) != roleFilter {
			continue
		}
		views = append(views, s.view(c))
	}

	respondJSON(w, http.StatusOK, ClientList{Count: len(views), Clients: views})
}

func (s *Server) handleGetClient(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	client, err := s.clients.Lookup(id)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, s.view(client))
}

func (s *Server) handleDisconnectClient(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.hub.Disconnect(id); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}

	log.Printf("[DISCONNECT] client=%s via API", id)
	respondJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Client %s disconnected", id),
	})
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	env, err := envelope.New(s.relay.HubID(), req.Type, req.Payload, req.Target)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	delivery, err := s.relay.Publish(env)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, relay.ErrReservedType) || errors.Is(err, envelope.ErrMissingType) {
			status = http.StatusBadRequest
		}
		respondError(w, status, err.Error())
		return
	}

	log.Printf("[PUBLISH] type=%s target=%q recipients=%d delivered=%d failed=%d",
		req.Type, req.Target, delivery.Recipients, delivery.Delivered, delivery.Failed)

	respondJSON(w, http.StatusAccepted, PublishResponse{Envelope: env, Delivery: delivery})
}
