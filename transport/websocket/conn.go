package websocket

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wricardo/rover-relay-hub/hub/envelope"
	"github.com/wricardo/rover-relay-hub/hub/relay"
)

// Conn is one supervised WebSocket connection. It implements
// registry.Channel.
type Conn struct {
	hub  *Hub
	id   string
	ws   *websocket.Conn
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
	closeCode int
	closeText string

	teardownOnce sync.Once
}

// ID returns the connection ID assigned by the registry.
func (c *Conn) ID() string {
	return c.id
}

// Send queues a frame without blocking. A full queue closes the connection.
func (c *Conn) Send(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	default:
		c.hub.logf("Send buffer full for %s, closing connection", c.id)
		c.CloseWithStatus(websocket.CloseTryAgainLater, "send buffer full")
		return false
	}
}

// CloseWithStatus asks the write pump to send a close frame and shut the
// socket. Only the first call has any effect.
func (c *Conn) CloseWithStatus(code int, text string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeText = text
		close(c.done)
	})
}

// Close closes the connection normally.
func (c *Conn) Close() error {
	c.CloseWithStatus(websocket.CloseNormalClosure, "")
	return nil
}

// teardown removes the connection from the relay exactly once.
func (c *Conn) teardown() {
	c.teardownOnce.Do(func() {
		c.hub.relay.Close(c.id)
	})
}

// readPump pumps frames from the WebSocket connection to the relay
func (c *Conn) readPump() {
	defer func() {
		c.teardown()
		c.CloseWithStatus(websocket.CloseNormalClosure, "")
		c.hub.pumps.Done()
	}()

	c.ws.SetReadLimit(c.hub.opts.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.hub.opts.PongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.hub.opts.PongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.hub.logf("WebSocket error from %s: %v", c.id, err)
			}
			return
		}

		env, err := envelope.Decode(data)
		if err != nil {
			c.hub.logf("Invalid envelope from %s, disconnecting: %v", c.id, err)
			c.CloseWithStatus(websocket.CloseInvalidFramePayloadData, "malformed envelope")
			return
		}

		if err := c.hub.relay.HandleMessage(c.id, env); err != nil {
			c.hub.logf("Closing %s: %v", c.id, err)
			c.CloseWithStatus(websocket.ClosePolicyViolation, closeReason(err))
			return
		}
	}
}

// closeReason is the close frame text for a fatal HandleMessage error.
func closeReason(err error) string {
	switch {
	case errors.Is(err, relay.ErrVerificationFailed):
		return "verification failed"
	default:
		return "protocol violation"
	}
}

// writePump pumps frames from the send queue to the WebSocket connection
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.hub.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
		c.hub.pumps.Done()
	}()

	for {
		select {
		case message := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logf("Write to %s failed: %v", c.id, err)
				c.CloseWithStatus(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.CloseWithStatus(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteWait))
			// Flush whatever was queued before the close was requested.
			for n := len(c.send); n > 0; n-- {
				if err := c.ws.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}
			c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(c.closeCode, c.closeText))
			return
		}
	}
}
