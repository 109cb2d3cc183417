// Package registry owns the set of live hub connections.
//
// The registry is the single source of truth for who is connected and which
// role each connection has verified as. It is created once at start-up and
// shared by the relay service and the connection supervisor; no other
// component keeps a parallel copy of client state.
//
// Core Types:
//
// Registry is a mutex-guarded map from connection ID to Client. Client is a
// value snapshot of one connection: its ID, Role and the Channel used to push
// outbound frames. Lookups hand out copies, so the only way to change a
// client's role is SetRole.
//
// Roles:
//
// Every client starts as RoleUnknown and moves exactly once to RoleOperator
// or RoleAgent. SetRole refuses any other transition without mutating state.
//
// Usage:
//
//	reg := registry.New()
//
//	id := reg.Register(conn, r.RemoteAddr)
//	if err := reg.SetRole(id, registry.RoleOperator); err != nil {
//		// ErrAlreadyVerified, ErrInvalidRole or ErrClientNotFound
//	}
//
//	for _, op := range reg.AllWithRole(registry.RoleOperator) {
//		op.Channel.Send(frame)
//	}
//
//	reg.Remove(id)
//
// Concurrency:
//
// All operations are atomic with respect to each other. AllWithRole and List
// return snapshots taken under the lock; they are not live views.
package registry
