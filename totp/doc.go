// Package totp implements the time-based one-time-password primitives used for
// multi-factor authentication: a tolerant Base32 codec, RFC 4226 HOTP, RFC 6238
// window verification, otpauth provisioning URIs with a renderable QR payload,
// and single-use backup codes.
//
// # Architecture boundaries
//
// This package is pure computation. Secrets arrive as raw bytes or Base32 text and
// leave the same way; persistence of secrets and backup-code hashes belongs to the
// account store, and enforcement policy belongs to the Engine.
//
// # What this package must NOT do
//
//   - Access Redis, PostgreSQL, or any other I/O besides crypto/rand.
//   - Import authcore or any sibling package.
//   - Keep replay state; callers decide whether a matched counter may be reused.
package totp
