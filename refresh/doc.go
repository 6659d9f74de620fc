// Package refresh stores opaque, single-use refresh tokens in Redis.
//
// # Token format
//
// Tokens are 32 random bytes, base64url encoded. Only the SHA-256 digest of a
// token is used as a key, so a Redis dump does not yield usable tokens.
//
// # Rotation
//
// [Store.Rotate] runs a Lua script that deletes the presented token and
// creates its successor in one step. A replayed token finds nothing and fails;
// a crash can at worst lose the successor, never mint two.
//
// # What this package must NOT do
//
//   - Sign access tokens or resolve permissions.
//   - Import authcore, jwt, or session.
//   - Decide whether an account may still refresh; the Engine checks that.
package refresh
