package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/k1s0-platform/system-server-go-superoffice-proxy/internal/authz"
	"github.com/k1s0-platform/system-server-go-superoffice-proxy/internal/httpx"
)

// AuthorizationMiddleware applies the authorization gate to the session put in
// the context by SessionMiddleware: 401 without a session, 403 for a mutating
// method from a non-administrator.
func AuthorizationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, ok := GetSession(c)
		decision := authz.Authorize(ok, ok && tok.IsAdmin, c.Request.Method)
		if decision != authz.Allow {
			httpx.AbortWithError(c, decision.HTTPStatus())
			return
		}
		c.Next()
	}
}
