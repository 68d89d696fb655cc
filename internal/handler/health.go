package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/k1s0-platform/system-server-go-superoffice-proxy/internal/health"
)

// HealthHandler provides liveness and readiness probes.
type HealthHandler struct {
	checker *health.Checker
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(checker *health.Checker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

// Healthz is the liveness probe. Returns 200 if the process is alive.
func (h *HealthHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz is the readiness probe. It returns 503 with per-check detail when
// the session store or the identity provider is unavailable.
func (h *HealthHandler) Readyz(c *gin.Context) {
	resp := h.checker.RunAll(c.Request.Context())
	if resp.Status != health.StatusHealthy {
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}
