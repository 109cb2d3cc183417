package relay

import (
	"sync/atomic"

	"github.com/wricardo/rover-relay-hub/hub/registry"
)

// DefaultHubID is the msgSource of hub-originated envelopes.
const DefaultHubID = "server-main"

// Registry defines the client storage operations the relay needs.
type Registry interface {
	Register(ch registry.Channel, remoteAddr string) string
	Lookup(id string) (registry.Client, error)
	SetRole(id string, role registry.Role) error
	Remove(id string) (registry.Client, bool)
	AllWithRole(role registry.Role) []registry.Client
}

// Options configures a Relay.
type Options struct {
	// HubID identifies the hub in msgSource and msgTarget. Defaults to DefaultHubID.
	HubID string

	// Logf receives diagnostic output. Defaults to log.Printf.
	Logf func(format string, args ...any)
}

// Delivery describes the outcome of dispatching one envelope.
type Delivery struct {
	Recipients int `json:"recipients"`
	Delivered  int `json:"delivered"`
	Failed     int `json:"failed"`
}

// Stats is a point-in-time copy of the relay counters.
type Stats struct {
	Connections   int64 `json:"connections"`
	Verified      int64 `json:"verified"`
	Rejected      int64 `json:"rejected"`
	Disconnected  int64 `json:"disconnected"`
	Routed        int64 `json:"routed"`
	Delivered     int64 `json:"delivered"`
	Failed        int64 `json:"failed"`
	Unroutable    int64 `json:"unroutable"`
	IgnoredFrames int64 `json:"ignored_frames"`
}

type counters struct {
	connections   atomic.Int64
	verified      atomic.Int64
	rejected      atomic.Int64
	disconnected  atomic.Int64
	routed        atomic.Int64
	delivered     atomic.Int64
	failed        atomic.Int64
	unroutable    atomic.Int64
	ignoredFrames atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Connections:   c.connections.Load(),
		Verified:      c.verified.Load(),
		Rejected:      c.rejected.Load(),
		Disconnected:  c.disconnected.Load(),
		Routed:        c.routed.Load(),
		Delivered:     c.delivered.Load(),
		Failed:        c.failed.Load(),
		Unroutable:    c.unroutable.Load(),
		IgnoredFrames: c.ignoredFrames.Load(),
	}
}
