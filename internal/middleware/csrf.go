package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/k1s0-platform/system-server-go-superoffice-proxy/internal/authz"
	"github.com/k1s0-platform/system-server-go-superoffice-proxy/internal/httpx"
)

// DefaultCSRFHeader is the default header name for CSRF tokens.
const DefaultCSRFHeader = "X-CSRF-Token"

// CSRFMiddleware requires mutating requests to echo the session's CSRF token
// in headerName. It runs after SessionMiddleware; safe methods are exempt.
func CSRFMiddleware(headerName string) gin.HandlerFunc {
	if headerName == "" {
		headerName = DefaultCSRFHeader
	}

	return func(c *gin.Context) {
		if authz.IsSafeMethod(c.Request.Method) {
			c.Next()
			return
		}

		tok, ok := GetSession(c)
		if !ok {
			httpx.AbortWithError(c, http.StatusUnauthorized)
			return
		}

		got := c.GetHeader(headerName)
		if got == "" || tok.CSRFToken == "" ||
			subtle.ConstantTimeCompare([]byte(got), []byte(tok.CSRFToken)) != 1 {
			httpx.AbortWithError(c, http.StatusForbidden)
			return
		}

		c.Next()
	}
}
