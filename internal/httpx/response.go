package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error is the body of every error the proxy itself produces.
type Error struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// NewError returns the canonical body for status.
func NewError(status int) Error {
	return Error{Status: status, Message: http.StatusText(status)}
}

// WriteJSON writes v as JSON with the given status code.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	NoCache(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes the {status, message} body for status.
func WriteError(w http.ResponseWriter, status int) {
	WriteJSON(w, status, NewError(status))
}

// AbortWithError stops the gin chain and writes the {status, message} body.
func AbortWithError(c *gin.Context, status int) {
	NoCache(c.Writer)
	c.AbortWithStatusJSON(status, NewError(status))
}

// NoCache sets the Cache-Control and Pragma headers to prevent caching.
func NoCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}
