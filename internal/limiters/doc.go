// Package limiters provides the Redis-backed counters that gate authentication.
//
// # Limiters
//
//   - [AttemptGuard]: sliding-window login failure ledger and lockout decision.
//   - [RequestLimiter]: per-email and per-IP throttle for OTP and reset requests,
//     built on internal/rate.
//   - [CodeGuard]: per-account budget of wrong MFA codes outside the login
//     challenge.
//
// # Architecture boundaries
//
// Each limiter owns its own Redis key namespace and error types. Thresholds come
// from config structs supplied at construction time.
//
// # What this package must NOT do
//
//   - Import authcore or any sibling internal package except internal/rate.
//   - Make policy decisions beyond counting; the Engine decides consequences.
package limiters
