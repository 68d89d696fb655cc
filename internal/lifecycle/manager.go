package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/k1s0-platform/system-server-go-superoffice-proxy/internal/oauth"
	"github.com/k1s0-platform/system-server-go-superoffice-proxy/internal/session"
	"github.com/k1s0-platform/system-server-go-superoffice-proxy/internal/telemetry"
	"github.com/k1s0-platform/system-server-go-superoffice-proxy/internal/tokencrypt"
)

// ErrRefreshFailed is returned when an access token could not be made fresh.
// The session must not be used upstream for this request.
var ErrRefreshFailed = errors.New(session.RefreshErrorMarker)

// Refresher performs the refresh_token grant.
type Refresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*oauth.TokenResponse, error)
}

// Result is what EnsureFresh hands back to the caller.
type Result struct {
	// AccessToken is the plaintext bearer token for this request only.
	AccessToken string
	// Token is the caller's own copy of the session token, updated on refresh
	// or marked with session.RefreshErrorMarker on failure.
	Token *session.Token
	// Refreshed is true when Token differs from the input and must be stored.
	Refreshed bool
}

// Manager keeps session access tokens fresh.
type Manager struct {
	keys      *tokencrypt.Keys
	refresher Refresher
	group     singleflight.Group
	now       func() time.Time
	logger    *slog.Logger
	metrics   *telemetry.Metrics
	tracer    trace.Tracer
}

// Option configures the Manager.
type Option func(*Manager)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics records refresh outcomes.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// NewManager creates a Manager.
func NewManager(keys *tokencrypt.Keys, refresher Refresher, opts ...Option) *Manager {
	m := &Manager{
		keys:      keys,
		refresher: refresher,
		now:       time.Now,
		logger:    slog.Default(),
		tracer:    otel.Tracer(telemetry.TracerName),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// refreshed is the part of a refresh shared between concurrent callers.
type refreshed struct {
	accessToken string
	encrypted   []byte
	expiresAt   int64
}

// EnsureFresh returns a usable access token for tok. An unexpired token is
// decrypted and returned without a network call. An expired one is renewed
// once with the refresh token; concurrent calls for the same sessionID share
// that renewal. The refresh token itself is never replaced.
//
// On failure the error wraps ErrRefreshFailed and Result.Token is a copy of
// tok with its tokens unchanged and Error set to session.RefreshErrorMarker.
func (m *Manager) EnsureFresh(ctx context.Context, sessionID string, tok *session.Token) (*Result, error) {
	if !tok.IsExpired(m.now()) {
		accessToken, err := m.keys.Access.Decrypt(tok.EncryptedAccessToken)
		if err != nil {
			return m.fail(ctx, tok, err)
		}
		return &Result{AccessToken: accessToken, Token: tok.Clone()}, nil
	}

	var (
		v   any
		err error
	)
	if sessionID == "" {
		v, err = m.refresh(ctx, tok)
	} else {
		v, err, _ = m.group.Do(sessionID, func() (any, error) {
			return m.refresh(context.WithoutCancel(ctx), tok)
		})
	}
	if err != nil {
		return m.fail(ctx, tok, err)
	}

	r := v.(*refreshed)
	updated := tok.Clone()
	updated.EncryptedAccessToken = append([]byte(nil), r.encrypted...)
	updated.AccessTokenExpiresAt = r.expiresAt
	updated.Error = ""

	return &Result{AccessToken: r.accessToken, Token: updated, Refreshed: true}, nil
}

func (m *Manager) refresh(ctx context.Context, tok *session.Token) (_ *refreshed, err error) {
	ctx, span := m.tracer.Start(ctx, "lifecycle.RefreshAccessToken")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "refresh failed")
			m.metrics.ObserveRefresh(telemetry.RefreshFailed)
		} else {
			m.metrics.ObserveRefresh(telemetry.RefreshSucceeded)
		}
		span.End()
	}()

	refreshToken, err := m.keys.Refresh.Decrypt(tok.EncryptedRefreshToken)
	if err != nil {
		return nil, err
	}

	resp, err := m.refresher.RefreshToken(ctx, refreshToken)
	if err != nil {
		var tokenErr *oauth.TokenError
		if errors.As(err, &tokenErr) {
			span.SetAttributes(attribute.Int("http.status_code", tokenErr.StatusCode))
		}
		return nil, err
	}

	encrypted, err := m.keys.Access.Encrypt(resp.AccessToken)
	if err != nil {
		return nil, err
	}

	return &refreshed{
		accessToken: resp.AccessToken,
		encrypted:   encrypted,
		expiresAt:   session.ExpiresAtMillis(m.now(), resp.ExpiresIn),
	}, nil
}

func (m *Manager) fail(ctx context.Context, tok *session.Token, cause error) (*Result, error) {
	telemetry.LogWithTrace(ctx, m.logger).Warn("access token refresh failed",
		slog.String("error", cause.Error()),
	)

	marked := tok.Clone()
	marked.Error = session.RefreshErrorMarker
	return &Result{Token: marked}, fmt.Errorf("%w: %w", ErrRefreshFailed, cause)
}
