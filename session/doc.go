// Package session provides Redis-backed idle-timeout sessions.
//
// A session is independent of refresh tokens: it expires after a role-specific
// period of inactivity and slides forward on [Store.Refresh]. Clients present
// the opaque session token; listings expose only a public session id.
//
// # Binary encoding
//
// Records are stored as a compact versioned binary format (see [Encode]). The
// token itself is the key and is never written into the record.
//
// # Architecture boundaries
//
// This package owns the [Store] (Redis operations), the [Session] model and the
// role timeout table. It does NOT interpret JWT tokens, evaluate permissions, or
// enforce authentication policy; those responsibilities belong to the Engine.
//
// # What this package must NOT do
//
//   - Import authcore, jwt, or permission (no upward imports).
//   - Perform application-level authorization decisions.
//   - Return tokens in listing views.
package session
