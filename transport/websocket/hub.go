package websocket

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wricardo/rover-relay-hub/hub/envelope"
	"github.com/wricardo/rover-relay-hub/hub/registry"
)

const (
	// Time allowed to write a message to the peer.
	defaultWriteWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	defaultPongWait = 60 * time.Second

	// Maximum message size allowed from peer.
	defaultMaxMessageSize = 64 * 1024

	defaultSendBufferSize = 256
)

var ErrShuttingDown = errors.New("hub is shutting down")

// Relay receives the lifecycle events of every connection.
type Relay interface {
	Open(ch registry.Channel, remoteAddr string) string
	HandleMessage(id string, env *envelope.Envelope) error
	Close(id string) (registry.Client, bool)
}

// Directory gives the hub read access to registered clients.
type Directory interface {
	Lookup(id string) (registry.Client, error)
	List() []registry.Client
}

// Options configures a Hub. Zero values fall back to defaults.
type Options struct {
	SendBufferSize int
	MaxMessageSize int64
	WriteWait      time.Duration
	PongWait       time.Duration
	// PingPeriod must be less than PongWait.
	PingPeriod time.Duration
	// AllowedOrigins restricts browser origins. Empty allows all.
	AllowedOrigins []string
	Logf           func(format string, args ...any)
}

func (o Options) withDefaults() Options {
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = defaultSendBufferSize
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = defaultMaxMessageSize
	}
	if o.WriteWait <= 0 {
		o.WriteWait = defaultWriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = defaultPongWait
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = (o.PongWait * 9) / 10
	}
	if o.Logf == nil {
		o.Logf = log.Printf
	}
	return o
}

// Hub accepts WebSocket connections and supervises their pumps.
type Hub struct {
	relay    Relay
	clients  Directory
	opts     Options
	logf     func(format string, args ...any)
	upgrader websocket.Upgrader

	// mu orders connection admission against Shutdown.
	mu      sync.Mutex
	closing bool
	pumps   sync.WaitGroup
}

// NewHub creates a new WebSocket hub
func NewHub(relay Relay, clients Directory, opts Options) *Hub {
	opts = opts.withDefaults()
	return &Hub{
		relay:   relay,
		clients: clients,
		opts:    opts,
		logf:    opts.Logf,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(opts.AllowedOrigins),
		},
	}
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}

	originSet := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		originSet[o] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Non-browser clients (rover firmware, CLI)
			return true
		}
		return originSet[origin]
	}
}

// ServeWS handles WebSocket requests from clients
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if h.isClosing() {
		http.Error(w, ErrShuttingDown.Error(), http.StatusServiceUnavailable)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logf("WebSocket upgrade failed: %v", err)
		return
	}

	conn := &Conn{
		hub:  h,
		ws:   ws,
		send: make(chan []byte, h.opts.SendBufferSize),
		done: make(chan struct{}),
	}

	// Shutdown either sees this connection or refuses it.
	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ErrShuttingDown.Error()),
			time.Now().Add(h.opts.WriteWait))
		ws.Close()
		return
	}
	conn.id = h.relay.Open(conn, r.RemoteAddr)
	h.pumps.Add(2)
	h.mu.Unlock()

	go conn.writePump()
	go conn.readPump()
}

func (h *Hub) isClosing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closing
}

// Disconnect closes the connection registered under id.
func (h *Hub) Disconnect(id string) error {
	client, err := h.clients.Lookup(id)
	if err != nil {
		return err
	}

	conn, ok := client.Channel.(*Conn)
	if !ok {
		return registry.ErrClientNotFound
	}
	conn.CloseWithStatus(websocket.CloseNormalClosure, "disconnected by hub")
	return nil
}

// Shutdown closes every connection with "going away" and waits for their
// pumps to exit, or for ctx to expire.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	for _, client := range h.clients.List() {
		if conn, ok := client.Channel.(*Conn); ok {
			conn.CloseWithStatus(websocket.CloseGoingAway, "server shutting down")
		}
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.pumps.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
