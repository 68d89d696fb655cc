package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k1s0-platform/system-server-go-superoffice-proxy/internal/middleware"
	"github.com/k1s0-platform/system-server-go-superoffice-proxy/internal/oauth"
	"github.com/k1s0-platform/system-server-go-superoffice-proxy/internal/session"
	"github.com/k1s0-platform/system-server-go-superoffice-proxy/internal/tokencrypt"
	"github.com/k1s0-platform/system-server-go-superoffice-proxy/internal/upstream"
)

type fakeAuthenticator struct {
	authURLErr   error
	exchangeResp *oauth.TokenResponse
	exchangeErr  error
	claims       map[string]any
	verifyErr    error
	logoutErr    error

	gotState, gotChallenge, gotCode, gotVerifier string
}

func (f *fakeAuthenticator) AuthCodeURL(state, challenge string) (string, error) {
	f.gotState, f.gotChallenge = state, challenge
	if f.authURLErr != nil {
		return "", f.authURLErr
	}
	return "https://sod.superoffice.com/login/common/oauth/authorize?state=" + url.QueryEscape(state), nil
}

func (f *fakeAuthenticator) ExchangeCode(_ context.Context, code, verifier string) (*oauth.TokenResponse, error) {
	f.gotCode, f.gotVerifier = code, verifier
	return f.exchangeResp, f.exchangeErr
}

func (f *fakeAuthenticator) VerifyIDToken(_ context.Context, raw string) (map[string]any, error) {
	return f.claims, f.verifyErr
}

func (f *fakeAuthenticator) LogoutURL(postLogout string) (string, error) {
	if f.logoutErr != nil {
		return "", f.logoutErr
	}
	return "https://sod.superoffice.com/login/logout?post_logout_redirect_uri=" + url.QueryEscape(postLogout), nil
}

type authEnv struct {
	auth      *fakeAuthenticator
	store     *session.RedisStore
	keys      *tokencrypt.Keys
	handler   *AuthHandler
	router    *gin.Engine
	principal *upstream.Principal
	princErr  error
}

var authNow = time.UnixMilli(1_700_000_000_000)

func newAuthEnv(t *testing.T) *authEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	keys, err := tokencrypt.NewKeys(
		tokencrypt.Secret{Key: "access-secret-0123456789", IV: "access-iv"},
		tokencrypt.Secret{Key: "refresh-secret-0123456789", IV: "refresh-iv"},
	)
	require.NoError(t, err)

	env := &authEnv{
		auth: &fakeAuthenticator{
			exchangeResp: &oauth.TokenResponse{
				AccessToken:  "access-1",
				RefreshToken: "refresh-1",
				IDToken:      "id-token",
				ExpiresIn:    3600,
			},
			claims: map[string]any{
				"sub":                   "user-1",
				oauth.ClaimRestURL:      "https://sod.superoffice.com/Cust1/api/",
				oauth.ClaimTenantID:     "Cust1",
				oauth.ClaimIsAdmin:      "True",
				oauth.ClaimInitials:     "AL",
				oauth.ClaimPrimaryEmail: "ada@example.com",
			},
		},
		store: session.NewRedisStore(rdb, ""),
		keys:  keys,
		principal: &upstream.Principal{
			PersonID:        7,
			ContactID:       2,
			GroupID:         3,
			RoleID:          4,
			SecondaryGroups: []int64{5},
			FullName:        "Ada Lovelace",
		},
	}

	fetch := func(_ context.Context, baseURL, accessToken string) (*upstream.Principal, error) {
		assert.Equal(t, "https://sod.superoffice.com/Cust1/api/", baseURL)
		assert.Equal(t, "access-1", accessToken)
		return env.principal, env.princErr
	}

	env.handler = NewAuthHandler(env.auth, env.store, keys, fetch, AuthSettings{
		CookieName:    testCookie,
		SessionTTL:    30 * time.Minute,
		PostLogoutURI: "http://localhost:3000/",
		Environment:   "sod",
	}, nil)
	env.handler.now = func() time.Time { return authNow }

	router := gin.New()
	router.GET("/auth/login", env.handler.Login)
	router.GET("/auth/callback", env.handler.Callback)
	router.POST("/auth/logout", env.handler.Logout)
	router.GET("/auth/session",
		middleware.SessionMiddleware(env.store, testCookie, 30*time.Minute, false, nil),
		env.handler.Session,
	)
	env.router = router
	return env
}

func (e *authEnv) callback(query string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth/callback?"+query, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	e.router.ServeHTTP(w, req)
	return w
}

func flowCookies() []*http.Cookie {
	return []*http.Cookie{
		{Name: stateCookieName, Value: "state-1"},
		{Name: verifierCookieName, Value: "verifier-1"},
	}
}

func responseCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestLogin_RedirectsWithPKCE(t *testing.T) {
	env := newAuthEnv(t)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/login", nil))

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Contains(t, w.Header().Get("Location"), "https://sod.superoffice.com/login/common/oauth/authorize")

	state := responseCookie(w, stateCookieName)
	verifier := responseCookie(w, verifierCookieName)
	require.NotNil(t, state)
	require.NotNil(t, verifier)
	assert.True(t, state.HttpOnly)
	assert.Equal(t, env.auth.gotState, state.Value)
	assert.Len(t, verifier.Value, 43)
	assert.NotEqual(t, verifier.Value, env.auth.gotChallenge)
}

func TestLogin_ProviderUnavailable(t *testing.T) {
	env := newAuthEnv(t)
	env.auth.authURLErr = oauth.ErrNotDiscovered

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/login", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCallback_CreatesSession(t *testing.T) {
	env := newAuthEnv(t)

	w := env.callback("state=state-1&code=code-1", flowCookies()...)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, "code-1", env.auth.gotCode)
	assert.Equal(t, "verifier-1", env.auth.gotVerifier)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "authenticated", body["status"])

	cookie := responseCookie(w, testCookie)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, 1800, cookie.MaxAge)

	tok, err := env.store.Get(context.Background(), cookie.Value)
	require.NoError(t, err)
	require.NotNil(t, tok)

	at, err := env.keys.Access.Decrypt(tok.EncryptedAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "access-1", at)
	rt, err := env.keys.Refresh.Decrypt(tok.EncryptedRefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", rt)
	assert.NotContains(t, string(tok.EncryptedAccessToken), "access-1")

	assert.Equal(t, authNow.UnixMilli()+3_600_000, tok.AccessTokenExpiresAt)
	assert.True(t, tok.IsAdmin)
	assert.Equal(t, "https://sod.superoffice.com/Cust1/api/", tok.UpstreamBaseURL)
	assert.Equal(t, "Cust1", tok.TenantID)
	assert.Equal(t, "sod", tok.Environment)
	assert.Equal(t, "user-1", tok.Subject)
	assert.Equal(t, "Ada Lovelace", tok.Name)
	assert.Equal(t, "ada@example.com", tok.Email)
	assert.Equal(t, int64(7), tok.PersonID)
	assert.Equal(t, int64(2), tok.ContactID)
	assert.Equal(t, int64(3), tok.GroupID)
	assert.Equal(t, int64(4), tok.RoleID)
	assert.Equal(t, []int64{5}, tok.SecondaryGroupIDs)
	assert.Equal(t, "AL", tok.Initials)
	assert.Equal(t, body["csrf_token"], tok.CSRFToken)
	assert.Len(t, tok.CSRFToken, 64)
}

func TestCallback_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		cookies []*http.Cookie
		mutate  func(*authEnv)
		status  int
		code    string
	}{
		{"state cookie missing", "state=state-1&code=c", nil, nil, http.StatusBadRequest, "BFF_AUTH_STATE_MISSING"},
		{"state mismatch", "state=other&code=c", flowCookies(), nil, http.StatusBadRequest, "BFF_AUTH_STATE_MISMATCH"},
		{"idp error", "state=state-1&error=access_denied", flowCookies(), nil, http.StatusBadRequest, "BFF_AUTH_IDP_ERROR"},
		{"code missing", "state=state-1", flowCookies(), nil, http.StatusBadRequest, "BFF_AUTH_CODE_MISSING"},
		{"verifier missing", "state=state-1&code=c", flowCookies()[:1], nil, http.StatusBadRequest, "BFF_AUTH_VERIFIER_MISSING"},
		{"exchange fails", "state=state-1&code=c", flowCookies(), func(e *authEnv) {
			e.auth.exchangeErr = errors.New("invalid_grant")
		}, http.StatusBadGateway, "BFF_AUTH_TOKEN_EXCHANGE_FAILED"},
		{"no refresh token", "state=state-1&code=c", flowCookies(), func(e *authEnv) {
			e.auth.exchangeResp.RefreshToken = ""
		}, http.StatusBadGateway, "BFF_AUTH_TOKEN_INCOMPLETE"},
		{"id token invalid", "state=state-1&code=c", flowCookies(), func(e *authEnv) {
			e.auth.verifyErr = errors.New("bad signature")
		}, http.StatusUnauthorized, "BFF_AUTH_ID_TOKEN_INVALID"},
		{"claims incomplete", "state=state-1&code=c", flowCookies(), func(e *authEnv) {
			delete(e.auth.claims, oauth.ClaimRestURL)
		}, http.StatusUnauthorized, "BFF_AUTH_CLAIMS_INCOMPLETE"},
		{"principal lookup fails", "state=state-1&code=c", flowCookies(), func(e *authEnv) {
			e.princErr = errors.New("401")
		}, http.StatusBadGateway, "BFF_AUTH_PRINCIPAL_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newAuthEnv(t)
			if tt.mutate != nil {
				tt.mutate(env)
			}

			w := env.callback(tt.query, tt.cookies...)

			assert.Equal(t, tt.status, w.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body["error"])
			assert.Nil(t, responseCookie(w, testCookie))
		})
	}
}

func TestSession_View(t *testing.T) {
	env := newAuthEnv(t)
	at, err := env.keys.Access.Encrypt("secret-access")
	require.NoError(t, err)

	sid, err := env.store.Create(context.Background(), &session.Token{
		EncryptedAccessToken: at,
		UpstreamBaseURL:      "https://sod.superoffice.com/Cust1/api/",
		TenantID:             "Cust1",
		Environment:          "sod",
		IsAdmin:              true,
		ContactID:            2,
		Initials:             "AL",
		CSRFToken:            "csrf-1",
	}, time.Minute)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
	req.AddCookie(&http.Cookie{Name: testCookie, Value: sid})
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "access_token")

	var view session.View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, "https://sod.superoffice.com/Cust1/api/", view.RestURL)
	assert.Equal(t, "Cust1", view.Ctx)
	assert.Equal(t, "sod", view.Env)
	assert.True(t, view.User.Admin)
	assert.Equal(t, int64(2), view.User.Company)
	assert.Equal(t, "AL", view.User.Initials)
	assert.Equal(t, "csrf-1", view.CSRFToken)
}

func TestSession_NoSession(t *testing.T) {
	env := newAuthEnv(t)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/session", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"status":401,"message":"Unauthorized"}`, w.Body.String())
}

func TestLogout_DeletesSessionAndRedirectsToProvider(t *testing.T) {
	env := newAuthEnv(t)
	sid, err := env.store.Create(context.Background(), &session.Token{TenantID: "Cust1"}, time.Minute)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: testCookie, Value: sid})
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Contains(t, w.Header().Get("Location"), "/login/logout?post_logout_redirect_uri=")

	cleared := responseCookie(w, testCookie)
	require.NotNil(t, cleared)
	assert.Negative(t, cleared.MaxAge)

	tok, err := env.store.Get(context.Background(), sid)
	require.NoError(t, err)
	assert.Nil(t, tok)
}

func TestLogout_FallbackToPostLogoutURI(t *testing.T) {
	env := newAuthEnv(t)
	env.auth.logoutErr = oauth.ErrNotDiscovered

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: testCookie, Value: "whatever"})
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "http://localhost:3000/", w.Header().Get("Location"))
}

func TestLogout_NoSessionNoRedirect(t *testing.T) {
	env := newAuthEnv(t)
	env.handler.settings.PostLogoutURI = ""

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"logged_out"}`, w.Body.String())
}

func TestGenerateRandomString(t *testing.T) {
	s, err := generateRandomString(32)
	require.NoError(t, err)
	assert.Len(t, s, 64)

	s2, err := generateRandomString(32)
	require.NoError(t, err)
	assert.NotEqual(t, s, s2)
}
