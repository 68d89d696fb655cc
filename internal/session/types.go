package session

import "time"

// RefreshErrorMarker is recorded on a Token whose last refresh attempt failed.
const RefreshErrorMarker = "RefreshAccessTokenError"

// Token is the per-user session state carried between requests. Both OAuth
// tokens are held only as ciphertext.
type Token struct {
	// EncryptedAccessToken is the sealed upstream bearer token.
	EncryptedAccessToken []byte `json:"access_token"`

	// EncryptedRefreshToken is the sealed long-lived refresh token.
	EncryptedRefreshToken []byte `json:"refresh_token"`

	// AccessTokenExpiresAt is the access token expiry in epoch milliseconds.
	AccessTokenExpiresAt int64 `json:"access_token_expires_at"`

	// IsAdmin is taken from the identity provider at login and never re-derived.
	IsAdmin bool `json:"is_admin"`

	// UpstreamBaseURL is the tenant REST API base URL (webapi_url claim).
	UpstreamBaseURL string `json:"rest_url"`

	Subject           string  `json:"sub"`
	Name              string  `json:"name,omitempty"`
	Email             string  `json:"email,omitempty"`
	TenantID          string  `json:"ctx"`
	Environment       string  `json:"env"`
	ContactID         int64   `json:"contact_id,omitempty"`
	PersonID          int64   `json:"person_id,omitempty"`
	GroupID           int64   `json:"group_id,omitempty"`
	SecondaryGroupIDs []int64 `json:"secondary_group_ids,omitempty"`
	RoleID            int64   `json:"role_id,omitempty"`
	Initials          string  `json:"initials,omitempty"`

	// CSRFToken is the per-session CSRF token bound to this session.
	CSRFToken string `json:"csrf_token"`

	// Error holds RefreshErrorMarker after a failed refresh, empty otherwise.
	Error string `json:"error,omitempty"`

	// CreatedAt is when the session was created (Unix timestamp).
	CreatedAt int64 `json:"created_at"`
}

// IsExpired reports whether the access token is no longer valid at now.
func (t *Token) IsExpired(now time.Time) bool {
	return now.UnixMilli() >= t.AccessTokenExpiresAt
}

// Clone returns a deep copy of the token.
func (t *Token) Clone() *Token {
	c := *t
	c.EncryptedAccessToken = append([]byte(nil), t.EncryptedAccessToken...)
	c.EncryptedRefreshToken = append([]byte(nil), t.EncryptedRefreshToken...)
	if t.SecondaryGroupIDs != nil {
		c.SecondaryGroupIDs = append([]int64(nil), t.SecondaryGroupIDs...)
	}
	return &c
}

// ExpiresAtMillis converts a token lifetime in seconds into an absolute expiry.
func ExpiresAtMillis(now time.Time, expiresIn int64) int64 {
	return now.UnixMilli() + expiresIn*1000
}

// View is the client-visible projection of a session. It never carries tokens.
type View struct {
	RestURL   string   `json:"restUrl"`
	Ctx       string   `json:"ctx"`
	Env       string   `json:"env"`
	User      UserView `json:"user"`
	Error     string   `json:"error,omitempty"`
	CSRFToken string   `json:"csrfToken,omitempty"`
}

// UserView is the user part of View.
type UserView struct {
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Admin    bool   `json:"admin"`
	Company  int64  `json:"company,omitempty"`
	Initials string `json:"initials,omitempty"`
}

// View returns the client-visible projection of the token.
func (t *Token) View() View {
	return View{
		RestURL: t.UpstreamBaseURL,
		Ctx:     t.TenantID,
		Env:     t.Environment,
		User: UserView{
			Name:     t.Name,
			Email:    t.Email,
			Admin:    t.IsAdmin,
			Company:  t.ContactID,
			Initials: t.Initials,
		},
		Error:     t.Error,
		CSRFToken: t.CSRFToken,
	}
}
