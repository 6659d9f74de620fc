// Package stores provides Redis-backed, short-lived record stores for the
// code-based authentication flows: email OTP codes, password reset tokens and
// MFA login challenges.
//
// # Design
//
// Each store persists a versioned, binary-encoded record with a TTL. Mutations
// that read before writing (Verify, Consume, RecordFailure) use WATCH/MULTI
// optimistic transactions retried on contention. Records are single-use: a
// successful check deletes them. Secrets are stored as SHA-256 digests and
// compared in constant time.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for transient records.
// It does NOT generate codes, enforce request throttles, or make
// authentication decisions; those belong to the Engine.
//
// # What this package must NOT do
//
//   - Import authcore or any sibling internal package.
//   - Log or expose plaintext secrets.
//   - Use non-constant-time comparisons for secret matching.
package stores
