package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/k1s0-platform/system-server-go-superoffice-proxy/internal/httpx"
	"github.com/k1s0-platform/system-server-go-superoffice-proxy/internal/lifecycle"
	"github.com/k1s0-platform/system-server-go-superoffice-proxy/internal/middleware"
	"github.com/k1s0-platform/system-server-go-superoffice-proxy/internal/session"
	"github.com/k1s0-platform/system-server-go-superoffice-proxy/internal/telemetry"
	"github.com/k1s0-platform/system-server-go-superoffice-proxy/internal/upstream"
)

// TokenProvider yields a fresh access token for a session.
type TokenProvider interface {
	EnsureFresh(ctx context.Context, sessionID string, tok *session.Token) (*lifecycle.Result, error)
}

// ProxySettings holds the routing parameters of the proxy.
type ProxySettings struct {
	// Prefix is the inbound path prefix stripped before forwarding.
	Prefix string
	// APIVersion is the path segment inserted after the tenant base URL.
	APIVersion string
	// SessionTTL is applied when a refreshed session is written back.
	SessionTTL time.Duration
	// CSRFHeader is removed from forwarded requests when set.
	CSRFHeader string
}

// ProxyHandler forwards authorized requests to the tenant REST API with the
// session's bearer token, refreshing it first when it has expired.
type ProxyHandler struct {
	tokens       TokenProvider
	forwarder    *upstream.Forwarder
	sessionStore session.Store
	settings     ProxySettings
	metrics      *telemetry.Metrics
	logger       *slog.Logger
}

// NewProxyHandler creates a new ProxyHandler.
func NewProxyHandler(
	tokens TokenProvider,
	forwarder *upstream.Forwarder,
	sessionStore session.Store,
	settings ProxySettings,
	metrics *telemetry.Metrics,
	logger *slog.Logger,
) *ProxyHandler {
	if settings.APIVersion == "" {
		settings.APIVersion = upstream.DefaultAPIVersion
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProxyHandler{
		tokens:       tokens,
		forwarder:    forwarder,
		sessionStore: sessionStore,
		settings:     settings,
		metrics:      metrics,
		logger:       logger,
	}
}

// Handle runs behind SessionMiddleware and AuthorizationMiddleware. It makes
// the access token fresh, persists any change to the session, rewrites the
// path and forwards. Every path writes exactly one response.
func (h *ProxyHandler) Handle(c *gin.Context) {
	log := middleware.RequestLogger(c, h.logger)

	tok, ok := middleware.GetSession(c)
	if !ok {
		httpx.AbortWithError(c, http.StatusUnauthorized)
		return
	}
	sessionID, _ := middleware.GetSessionID(c)
	ctx := c.Request.Context()

	res, err := h.tokens.EnsureFresh(ctx, sessionID, tok)
	if err != nil {
		if errors.Is(err, lifecycle.ErrRefreshFailed) && res != nil {
			h.persist(ctx, log, sessionID, res.Token)
		}
		log.Warn("no usable access token for session", slog.String("error", err.Error()))
		httpx.AbortWithError(c, http.StatusInternalServerError)
		return
	}
	if res.Refreshed {
		h.persist(ctx, log, sessionID, res.Token)
	}

	rel, err := upstream.RelativePath(h.settings.Prefix, c.Request.URL.Path)
	if err != nil {
		h.metrics.ObserveUpstream(telemetry.UpstreamNotFound)
		httpx.AbortWithError(c, http.StatusNotFound)
		return
	}

	target, err := upstream.TargetURL(res.Token.UpstreamBaseURL, h.settings.APIVersion, rel, c.Request.URL.RawQuery)
	if err != nil {
		log.Error("session has no usable upstream base URL", slog.String("error", err.Error()))
		httpx.AbortWithError(c, http.StatusInternalServerError)
		return
	}

	if cid := c.GetString(middleware.CorrelationIDKey); cid != "" {
		c.Request.Header.Set(middleware.HeaderCorrelationID, cid)
	}
	if tid := c.GetString(middleware.TraceIDKey); tid != "" {
		c.Request.Header.Set(middleware.HeaderTraceID, tid)
	}
	if h.settings.CSRFHeader != "" {
		c.Request.Header.Del(h.settings.CSRFHeader)
	}

	h.forwarder.Forward(c.Writer, c.Request, target, res.AccessToken)
}

func (h *ProxyHandler) persist(ctx context.Context, log *slog.Logger, sessionID string, tok *session.Token) {
	if sessionID == "" {
		return
	}
	if err := h.sessionStore.Update(ctx, sessionID, tok, h.settings.SessionTTL); err != nil {
		log.Error("failed to update session after refresh", slog.String("error", err.Error()))
	}
}
