package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/k1s0-platform/system-server-go-superoffice-proxy/internal/session"
)

const (
	// SessionKey is the gin context key where the *session.Token is stored.
	SessionKey = "superoffice_session"

	// SessionIDKey is the gin context key where the session ID is stored.
	SessionIDKey = "superoffice_session_id"
)

// SessionMiddleware resolves the session named by the cookie and stores it in
// the gin context. It never rejects a request; a missing, expired or
// unreadable session simply leaves the context without one.
func SessionMiddleware(store session.Store, cookieName string, ttl time.Duration, sliding bool, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}

	return func(c *gin.Context) {
		sessionID, err := c.Cookie(cookieName)
		if err != nil || sessionID == "" {
			c.Next()
			return
		}

		tok, err := store.Get(c.Request.Context(), sessionID)
		if err != nil {
			RequestLogger(c, logger).Warn("failed to load session",
				slog.String("error", err.Error()),
			)
			c.Next()
			return
		}
		if tok == nil {
			c.Next()
			return
		}

		c.Set(SessionKey, tok)
		c.Set(SessionIDKey, sessionID)

		if sliding && ttl > 0 {
			if err := store.Touch(c.Request.Context(), sessionID, ttl); err != nil {
				RequestLogger(c, logger).Warn("failed to extend session TTL",
					slog.String("error", err.Error()),
				)
			}
		}

		c.Next()
	}
}

// GetSession retrieves the session token from the gin context.
func GetSession(c *gin.Context) (*session.Token, bool) {
	val, exists := c.Get(SessionKey)
	if !exists {
		return nil, false
	}
	tok, ok := val.(*session.Token)
	return tok, ok && tok != nil
}

// GetSessionID retrieves the session ID from the gin context.
func GetSessionID(c *gin.Context) (string, bool) {
	val, exists := c.Get(SessionIDKey)
	if !exists {
		return "", false
	}
	id, ok := val.(string)
	return id, ok
}
