// Package permission resolves an account's effective permission strings.
//
// Resolution is an ordered list of [Strategy] layers. The default order is:
//
//  1. [Custom]: a non-empty per-account list overrides everything.
//  2. [DynamicRole]: the permission set of a tenant-defined role.
//  3. [StaticTable]: the built-in [DefaultRolePermissions] table.
//
// Every layer is a pure function of the account record.
//
// # Architecture boundaries
//
// The Engine converts its account record into a [Subject] and embeds the
// result of [Resolver.Resolve] in access-token claims.
//
// # What this package must NOT do
//
//   - Access Redis, databases, or the network.
//   - Import authcore, jwt, or session.
//   - Return slices that alias the caller's record or the static table.
package permission
