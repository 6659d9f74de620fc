// Package rate provides a Redis-backed fixed-window counter used to throttle
// code and link requests.
//
// # Window semantics
//
// INCR + conditional EXPIRE on the first hit. Keys are {prefix}:{scope}:{id}.
//
// # What this package must NOT do
//
//   - Implement domain-specific policies (those live in internal/limiters).
//   - Be imported outside the authcore module.
package rate
