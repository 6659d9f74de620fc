// Package jwt signs and verifies access tokens carrying an account's identity,
// role, tenant and resolved permissions.
//
// Tokens are standard JWTs (HS256 or EdDSA). Validation is strict: the
// algorithm is pinned, exp is required, and issuer/audience are enforced when
// configured.
package jwt
