package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/k1s0-platform/system-server-go-superoffice-proxy/internal/httpx"
	"github.com/k1s0-platform/system-server-go-superoffice-proxy/internal/middleware"
	"github.com/k1s0-platform/system-server-go-superoffice-proxy/internal/oauth"
	"github.com/k1s0-platform/system-server-go-superoffice-proxy/internal/session"
	"github.com/k1s0-platform/system-server-go-superoffice-proxy/internal/tokencrypt"
	"github.com/k1s0-platform/system-server-go-superoffice-proxy/internal/upstream"
)

const (
	// stateCookieName holds the OAuth state for CSRF protection during login.
	stateCookieName = "superoffice_oauth_state"

	// verifierCookieName holds the PKCE code_verifier during the auth flow.
	verifierCookieName = "superoffice_pkce_verifier"

	flowCookieMaxAge = 300
)

// Authenticator is the identity provider surface the auth flow needs.
type Authenticator interface {
	AuthCodeURL(state, codeChallenge string) (string, error)
	ExchangeCode(ctx context.Context, code, codeVerifier string) (*oauth.TokenResponse, error)
	VerifyIDToken(ctx context.Context, rawIDToken string) (map[string]any, error)
	LogoutURL(postLogoutRedirectURI string) (string, error)
}

// PrincipalFetcher loads the signed-in user's upstream profile.
type PrincipalFetcher func(ctx context.Context, baseURL, accessToken string) (*upstream.Principal, error)

// AuthSettings holds the cookie and session parameters of the auth flow.
type AuthSettings struct {
	CookieName    string
	SessionTTL    time.Duration
	PostLogoutURI string
	SecureCookie  bool
	// Environment is the SuperOffice environment recorded on each session.
	Environment string
}

// AuthHandler handles the OAuth2/OIDC browser flow.
type AuthHandler struct {
	auth           Authenticator
	sessionStore   session.Store
	keys           *tokencrypt.Keys
	fetchPrincipal PrincipalFetcher
	settings       AuthSettings
	now            func() time.Time
	logger         *slog.Logger
}

// NewAuthHandler creates a new AuthHandler. A nil fetchPrincipal uses
// upstream.FetchPrincipal with a 10s client.
func NewAuthHandler(
	auth Authenticator,
	sessionStore session.Store,
	keys *tokencrypt.Keys,
	fetchPrincipal PrincipalFetcher,
	settings AuthSettings,
	logger *slog.Logger,
) *AuthHandler {
	if fetchPrincipal == nil {
		client := &http.Client{Timeout: 10 * time.Second}
		fetchPrincipal = func(ctx context.Context, baseURL, accessToken string) (*upstream.Principal, error) {
			return upstream.FetchPrincipal(ctx, client, baseURL, accessToken)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		auth:           auth,
		sessionStore:   sessionStore,
		keys:           keys,
		fetchPrincipal: fetchPrincipal,
		settings:       settings,
		now:            time.Now,
		logger:         logger,
	}
}

// Login initiates the OIDC authorization code flow with PKCE.
func (h *AuthHandler) Login(c *gin.Context) {
	log := middleware.RequestLogger(c, h.logger)

	pkce, err := oauth.NewPKCE()
	if err != nil {
		log.Error("failed to generate PKCE", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "BFF_AUTH_PKCE_ERROR"})
		return
	}

	state, err := generateRandomString(32)
	if err != nil {
		log.Error("failed to generate state", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "BFF_AUTH_STATE_ERROR"})
		return
	}

	authURL, err := h.auth.AuthCodeURL(state, pkce.CodeChallenge)
	if err != nil {
		log.Error("failed to build auth URL", slog.String("error", err.Error()))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "BFF_AUTH_URL_ERROR"})
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(stateCookieName, state, flowCookieMaxAge, "/", "", h.settings.SecureCookie, true)
	c.SetCookie(verifierCookieName, pkce.CodeVerifier, flowCookieMaxAge, "/", "", h.settings.SecureCookie, true)

	c.Redirect(http.StatusFound, authURL)
}

// Callback completes the login: it exchanges the code, verifies the ID token,
// loads the user's principal, seals both tokens and creates the session.
func (h *AuthHandler) Callback(c *gin.Context) {
	log := middleware.RequestLogger(c, h.logger)
	ctx := c.Request.Context()

	state, err := c.Cookie(stateCookieName)
	if err != nil || state == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "BFF_AUTH_STATE_MISSING"})
		return
	}
	if c.Query("state") != state {
		c.JSON(http.StatusBadRequest, gin.H{"error": "BFF_AUTH_STATE_MISMATCH"})
		return
	}

	if errCode := c.Query("error"); errCode != "" {
		log.Warn("OIDC callback error",
			slog.String("error", errCode),
			slog.String("description", c.Query("error_description")),
		)
		c.JSON(http.StatusBadRequest, gin.H{
			"error":       "BFF_AUTH_IDP_ERROR",
			"description": c.Query("error_description"),
		})
		return
	}

	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "BFF_AUTH_CODE_MISSING"})
		return
	}

	verifier, err := c.Cookie(verifierCookieName)
	if err != nil || verifier == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "BFF_AUTH_VERIFIER_MISSING"})
		return
	}

	tokenResp, err := h.auth.ExchangeCode(ctx, code, verifier)
	if err != nil {
		log.Error("token exchange failed", slog.String("error", err.Error()))
		c.JSON(http.StatusBadGateway, gin.H{"error": "BFF_AUTH_TOKEN_EXCHANGE_FAILED"})
		return
	}
	if tokenResp.RefreshToken == "" || tokenResp.ExpiresIn <= 0 {
		log.Error("token response lacks refresh token or lifetime")
		c.JSON(http.StatusBadGateway, gin.H{"error": "BFF_AUTH_TOKEN_INCOMPLETE"})
		return
	}

	claims, err := h.auth.VerifyIDToken(ctx, tokenResp.IDToken)
	if err != nil {
		log.Warn("ID token rejected", slog.String("error", err.Error()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "BFF_AUTH_ID_TOKEN_INVALID"})
		return
	}
	identity, err := oauth.IdentityFromClaims(claims)
	if err != nil {
		log.Warn("ID token claims incomplete", slog.String("error", err.Error()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "BFF_AUTH_CLAIMS_INCOMPLETE"})
		return
	}

	principal, err := h.fetchPrincipal(ctx, identity.RestURL, tokenResp.AccessToken)
	if err != nil {
		log.Error("failed to load current principal", slog.String("error", err.Error()))
		c.JSON(http.StatusBadGateway, gin.H{"error": "BFF_AUTH_PRINCIPAL_FAILED"})
		return
	}

	tok, err := h.newToken(tokenResp, identity, principal)
	if err != nil {
		log.Error("failed to build session token", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "BFF_AUTH_SESSION_BUILD_FAILED"})
		return
	}

	sessionID, err := h.sessionStore.Create(ctx, tok, h.settings.SessionTTL)
	if err != nil {
		log.Error("failed to create session", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "BFF_AUTH_SESSION_CREATE_FAILED"})
		return
	}

	c.SetCookie(stateCookieName, "", -1, "/", "", h.settings.SecureCookie, true)
	c.SetCookie(verifierCookieName, "", -1, "/", "", h.settings.SecureCookie, true)

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.settings.CookieName, sessionID, int(h.settings.SessionTTL.Seconds()), "/", "", h.settings.SecureCookie, true)

	log.Info("session created",
		slog.String("tenant", identity.TenantID),
		slog.Bool("admin", identity.IsAdmin),
	)

	httpx.NoCache(c.Writer)
	c.JSON(http.StatusOK, gin.H{
		"status":     "authenticated",
		"csrf_token": tok.CSRFToken,
	})
}

func (h *AuthHandler) newToken(resp *oauth.TokenResponse, id *oauth.Identity, p *upstream.Principal) (*session.Token, error) {
	encAccess, err := h.keys.Access.Encrypt(resp.AccessToken)
	if err != nil {
		return nil, err
	}
	encRefresh, err := h.keys.Refresh.Encrypt(resp.RefreshToken)
	if err != nil {
		return nil, err
	}
	csrfToken, err := generateRandomString(32)
	if err != nil {
		return nil, err
	}

	email := id.Email
	if email == "" {
		email = p.EMailAddress
	}

	return &session.Token{
		EncryptedAccessToken:  encAccess,
		EncryptedRefreshToken: encRefresh,
		AccessTokenExpiresAt:  session.ExpiresAtMillis(h.now(), resp.ExpiresIn),
		IsAdmin:               id.IsAdmin,
		UpstreamBaseURL:       id.RestURL,
		Subject:               id.Subject,
		Name:                  p.FullName,
		Email:                 email,
		TenantID:              id.TenantID,
		Environment:           h.settings.Environment,
		ContactID:             p.ContactID,
		PersonID:              p.PersonID,
		GroupID:               p.GroupID,
		SecondaryGroupIDs:     p.SecondaryGroups,
		RoleID:                p.RoleID,
		Initials:              id.Initials,
		CSRFToken:             csrfToken,
	}, nil
}

// Session returns the client-visible projection of the current session.
func (h *AuthHandler) Session(c *gin.Context) {
	tok, ok := middleware.GetSession(c)
	if !ok {
		httpx.AbortWithError(c, http.StatusUnauthorized)
		return
	}
	httpx.NoCache(c.Writer)
	c.JSON(http.StatusOK, tok.View())
}

// Logout destroys the session and redirects to the IdP end-session endpoint.
func (h *AuthHandler) Logout(c *gin.Context) {
	sessionID, err := c.Cookie(h.settings.CookieName)
	if err == nil && sessionID != "" {
		if err := h.sessionStore.Delete(c.Request.Context(), sessionID); err != nil {
			middleware.RequestLogger(c, h.logger).Warn("failed to delete session",
				slog.String("error", err.Error()),
			)
		}
		c.SetCookie(h.settings.CookieName, "", -1, "/", "", h.settings.SecureCookie, true)

		if logoutURL, err := h.auth.LogoutURL(h.settings.PostLogoutURI); err == nil {
			c.Redirect(http.StatusFound, logoutURL)
			return
		}
	}

	if h.settings.PostLogoutURI != "" {
		c.Redirect(http.StatusFound, h.settings.PostLogoutURI)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}

// generateRandomString generates a hex-encoded random string of the given byte length.
func generateRandomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
