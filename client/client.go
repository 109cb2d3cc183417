package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wricardo/rover-relay-hub/hub/envelope"
	"github.com/wricardo/rover-relay-hub/hub/relay"
)

// Client types accepted by the hub.
const (
	RoleOperator = "operator"
	RoleAgent    = "agent"
)

const writeWait = 10 * time.Second

var (
	ErrNotAssigned = errors.New("hub did not assign an ID")
	ErrClosed      = errors.New("client closed")
)

// Options tunes Dial.
type Options struct {
	// HubID is used as msgTarget of the verification envelope.
	HubID string
	// HandshakeTimeout bounds the wait for assignedID.
	HandshakeTimeout time.Duration
	// Buffer is the capacity of the Incoming channel.
	Buffer int
}

// Client is a verified connection to the hub.
type Client struct {
	conn     *websocket.Conn
	id       string
	role     string
	incoming chan *envelope.Envelope

	writeMu   sync.Mutex
	done      chan struct{}
	err       error
	closing   chan struct{}
	closeOnce sync.Once
}

// Dial connects to url and verifies as role.
func Dial(ctx context.Context, url, role string) (*Client, error) {
	return DialWithOptions(ctx, url, role, Options{})
}

// DialWithOptions connects to url and verifies as role.
func DialWithOptions(ctx context.Context, url, role string, opts Options) (*Client, error) {
	if opts.HubID == "" {
		opts.HubID = relay.DefaultHubID
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	c := &Client{
		conn:     conn,
		role:     role,
		incoming: make(chan *envelope.Envelope, opts.Buffer),
		done:     make(chan struct{}),
		closing:  make(chan struct{}),
	}

	if err := c.handshake(opts); err != nil {
		conn.Close()
		return nil, err
	}

	go c.readLoop()
	return c, nil
}

func (c *Client) handshake(opts Options) error {
	if _, err := c.Send(envelope.TypeVerification, opts.HubID, envelope.VerificationPayload{ClientType: c.role}); err != nil {
		return err
	}

	c.conn.SetReadDeadline(time.Now().Add(opts.HandshakeTimeout))
	defer c.conn.SetReadDeadline(time.Time{})

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("verification as %s rejected: %w", c.role, err)
	}

	env, err := envelope.Decode(data)
	if err != nil {
		return err
	}
	if env.Type != envelope.TypeAssignedID {
		return fmt.Errorf("%w: got %s", ErrNotAssigned, env.Type)
	}

	var payload envelope.AssignedIDPayload
	if err := env.DecodePayload(&payload); err != nil {
		return err
	}
	if payload.AssignedID == "" {
		return ErrNotAssigned
	}

	c.id = payload.AssignedID
	return nil
}

func (c *Client) readLoop() {
	defer close(c.incoming)
	defer close(c.done)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.err = err
			return
		}
		env, err := envelope.Decode(data)
		if err != nil {
			c.err = err
			return
		}
		select {
		case c.incoming <- env:
		case <-c.closing:
			return
		}
	}
}

// ID returns the connection ID assigned by the hub.
func (c *Client) ID() string {
	return c.id
}

// Role returns the declared client type.
func (c *Client) Role() string {
	return c.role
}

// Incoming delivers every envelope received after verification. It is
// closed when the connection ends.
func (c *Client) Incoming() <-chan *envelope.Envelope {
	return c.incoming
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the connection, once Done is closed.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Send builds and writes an envelope. An empty target broadcasts to
// operators.
func (c *Client) Send(msgType, target string, payload any) (*envelope.Envelope, error) {
	env, err := envelope.New(c.id, msgType, payload, target)
	if err != nil {
		return nil, err
	}
	return env, c.SendEnvelope(env)
}

// SendEnvelope writes a prepared envelope.
func (c *Client) SendEnvelope(env *envelope.Envelope) error {
	data, err := envelope.Encode(env)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send %s: %w", env.Type, err)
	}
	return nil
}

// Close sends a normal close frame and closes the connection.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.closing) })

	c.writeMu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.writeMu.Unlock()
	return c.conn.Close()
}
