package middleware

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/talentx/authcore"
	"github.com/talentx/authcore/permission"
)

// SessionHeader carries the idle-session token next to the access token.
const SessionHeader = "X-Session-Token"

const (
	identityKey   = "authcore.identity"
	sessionKey    = "authcore.session"
	accessKey     = "authcore.accessToken"
	sessionTokKey = "authcore.sessionToken"
)

// ClientContext copies the client IP and User-Agent into the request context
// so the engine can record them on sessions and the login ledger.
func ClientContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := authcore.WithClientIP(c.Request.Context(), c.ClientIP())
		ctx = authcore.WithUserAgent(ctx, c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireAuth verifies the bearer access token.
func RequireAuth(engine *authcore.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		id, err := engine.Authenticate(c.Request.Context(), token)
		if err != nil {
			slog.Debug("access token rejected", slog.String("path", c.FullPath()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		c.Set(identityKey, id)
		c.Set(accessKey, token)
		c.Next()
	}
}

// RequireSession checks the idle session named by [SessionHeader]. It must
// run after [RequireAuth]; a session owned by another account is rejected.
func RequireSession(engine *authcore.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader(SessionHeader)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing session token"})
			return
		}

		v, err := engine.ValidateSession(c.Request.Context(), token)
		if err != nil {
			slog.Error("session validation failed", slog.String("error", err.Error()))
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "session store unavailable"})
			return
		}
		if !v.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session expired", "code": "SESSION_EXPIRED"})
			return
		}
		if id, ok := Identity(c); ok && id.AccountID != v.AccountID {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session does not match token"})
			return
		}

		c.Set(sessionKey, v)
		c.Set(sessionTokKey, token)
		c.Next()
	}
}

// RequirePermission lets the request through when the identity holds any of
// perms.
func RequirePermission(perms ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := Identity(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		for _, p := range perms {
			if permission.Has(id.Permissions, p) {
				c.Next()
				return
			}
		}
		slog.Warn("permission denied",
			slog.String("accountId", id.AccountID),
			slog.String("role", id.Role),
			slog.Any("required", perms),
		)
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
	}
}

// RequireRole lets the request through when the identity has one of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := Identity(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		for _, r := range roles {
			if id.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
	}
}

// Identity returns the identity set by [RequireAuth].
func Identity(c *gin.Context) (authcore.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return authcore.Identity{}, false
	}
	id, ok := v.(authcore.Identity)
	return id, ok
}

// Session returns the validation set by [RequireSession].
func Session(c *gin.Context) (authcore.SessionValidation, bool) {
	v, ok := c.Get(sessionKey)
	if !ok {
		return authcore.SessionValidation{}, false
	}
	s, ok := v.(authcore.SessionValidation)
	return s, ok
}

// SessionToken returns the raw session token accepted by [RequireSession].
func SessionToken(c *gin.Context) string {
	return c.GetString(sessionTokKey)
}
