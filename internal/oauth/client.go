package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// DefaultHTTPTimeout bounds every call to the identity provider.
const DefaultHTTPTimeout = 10 * time.Second

// ErrNotDiscovered is returned by operations that need provider metadata
// before Discover has succeeded.
var ErrNotDiscovered = errors.New("OIDC discovery not performed; call Discover() first")

// Config holds the identity provider settings.
type Config struct {
	// DiscoveryURL is where "/.well-known/openid-configuration" is served.
	DiscoveryURL string
	// Issuer is the expected "iss" value when it differs from DiscoveryURL,
	// as it does for SuperOffice ("https://<env>.superoffice.com" vs ".../login").
	Issuer string
	// TokenURL is the endpoint used for the refresh_token grant.
	TokenURL     string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
}

// TokenResponse represents an OAuth2 token endpoint response.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// TokenError describes a token endpoint response that was not a success.
type TokenError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *TokenError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("token endpoint returned status %d: %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("token endpoint returned status %d", e.StatusCode)
}

// Client handles identity provider interactions for the proxy.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger

	mu                 sync.RWMutex
	provider           *oidc.Provider
	verifier           *oidc.IDTokenVerifier
	oauth2Config       *oauth2.Config
	endSessionEndpoint string
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates an identity provider client. No network call is made
// until Discover or RefreshToken.
func NewClient(cfg Config, opts ...ClientOption) *Client {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{oidc.ScopeOpenID}
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Discover fetches the provider metadata once and prepares the code exchange
// configuration and the ID token verifier.
func (c *Client) Discover(ctx context.Context) error {
	if c.Discovered() {
		return nil
	}

	ctx = oidc.ClientContext(ctx, c.httpClient)
	if c.cfg.Issuer != "" {
		ctx = oidc.InsecureIssuerURLContext(ctx, c.cfg.Issuer)
	}

	provider, err := oidc.NewProvider(ctx, strings.TrimSuffix(c.cfg.DiscoveryURL, "/"))
	if err != nil {
		return fmt.Errorf("OIDC discovery failed: %w", err)
	}

	var extra struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := provider.Claims(&extra); err != nil {
		return fmt.Errorf("failed to parse discovery document: %w", err)
	}

	c.logger.Info("OIDC discovery completed",
		slog.String("discovery_url", c.cfg.DiscoveryURL),
		slog.String("token_endpoint", provider.Endpoint().TokenURL),
	)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.provider = provider
	c.verifier = provider.Verifier(&oidc.Config{ClientID: c.cfg.ClientID})
	c.oauth2Config = &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  c.cfg.RedirectURI,
		Scopes:       c.cfg.Scopes,
	}
	c.endSessionEndpoint = extra.EndSessionEndpoint
	return nil
}

// Discovered reports whether provider metadata is available.
func (c *Client) Discovered() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.provider != nil
}

// AuthCodeURL builds the authorization URL with PKCE parameters.
func (c *Client) AuthCodeURL(state, codeChallenge string) (string, error) {
	cfg, err := c.ensureDiscovered()
	if err != nil {
		return "", err
	}

	return cfg.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	), nil
}

// ExchangeCode exchanges an authorization code for tokens using PKCE.
func (c *Client) ExchangeCode(ctx context.Context, code, codeVerifier string) (*TokenResponse, error) {
	cfg, err := c.ensureDiscovered()
	if err != nil {
		return nil, err
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}

	resp := &TokenResponse{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresIn:    tok.ExpiresIn,
	}
	if resp.ExpiresIn == 0 && !tok.Expiry.IsZero() {
		resp.ExpiresIn = int64(time.Until(tok.Expiry).Round(time.Second) / time.Second)
	}
	if raw, ok := tok.Extra("id_token").(string); ok {
		resp.IDToken = raw
	}
	return resp, nil
}

// VerifyIDToken checks the ID token signature, issuer, audience and expiry and
// returns its claims.
func (c *Client) VerifyIDToken(ctx context.Context, rawIDToken string) (map[string]any, error) {
	c.mu.RLock()
	verifier := c.verifier
	c.mu.RUnlock()
	if verifier == nil {
		return nil, ErrNotDiscovered
	}

	idToken, err := verifier.Verify(oidc.ClientContext(ctx, c.httpClient), rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("ID token verification failed: %w", err)
	}

	claims := make(map[string]any)
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to decode ID token claims: %w", err)
	}
	return claims, nil
}

// LogoutURL returns the OIDC end-session endpoint URL.
func (c *Client) LogoutURL(postLogoutRedirectURI string) (string, error) {
	if _, err := c.ensureDiscovered(); err != nil {
		return "", err
	}

	c.mu.RLock()
	endpoint := c.endSessionEndpoint
	c.mu.RUnlock()
	if endpoint == "" {
		return "", fmt.Errorf("end_session_endpoint not available")
	}

	params := url.Values{}
	if postLogoutRedirectURI != "" {
		params.Set("post_logout_redirect_uri", postLogoutRedirectURI)
	}
	if len(params) == 0 {
		return endpoint, nil
	}
	return endpoint + "?" + params.Encode(), nil
}

// RefreshToken runs the refresh_token grant against the configured token URL.
// Parameters travel in the query string, as the SuperOffice token endpoint
// expects. The response must carry an access token and a positive lifetime.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	endpoint, err := url.Parse(c.cfg.TokenURL)
	if err != nil {
		return nil, fmt.Errorf("invalid token URL: %w", err)
	}

	params := url.Values{
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		tokenErr := &TokenError{StatusCode: resp.StatusCode}
		var oauthErr struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		if json.Unmarshal(body, &oauthErr) == nil {
			tokenErr.Code = oauthErr.Error
			tokenErr.Description = oauthErr.ErrorDescription
		}
		return nil, tokenErr
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, errors.New("token response has no access_token")
	}
	if tokenResp.ExpiresIn <= 0 {
		return nil, errors.New("token response has no positive expires_in")
	}

	return &tokenResp, nil
}

func (c *Client) ensureDiscovered() (*oauth2.Config, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.oauth2Config == nil {
		return nil, ErrNotDiscovered
	}
	return c.oauth2Config, nil
}
