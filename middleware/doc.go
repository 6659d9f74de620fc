// Package middleware adapts authcore.Engine to HTTP handlers.
//
// The gin handlers ([ClientContext], [RequireAuth], [RequireSession],
// [RequirePermission], [RequireRole]) power the bundled API. [Guard] offers
// the same bearer check for plain net/http stacks.
//
// The package translates HTTP into engine calls. Token parsing, session
// lookups and permission resolution all happen in the engine.
package middleware
