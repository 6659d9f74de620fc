// Package authcore is the authentication and session security core of the
// recruiting platform: password and email-OTP login, brute-force lockout,
// rotating refresh tokens, TOTP step-up and per-role idle sessions.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build]. All coordination lives in Redis and
// the [AccountStore]; an Engine holds no state that another instance would
// need to see.
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config] and
// value types. Stores, limiters, encoding and audit dispatch live under
// internal/ or in leaf packages (session, refresh, jwt, totp, password,
// permission) that never import authcore.
//
// # What this package must NOT do
//
//   - Expose Redis clients or record encodings in its public API.
//   - Await notifier delivery on a request path.
//   - Reveal whether an email is registered through forgot-password results.
package authcore
