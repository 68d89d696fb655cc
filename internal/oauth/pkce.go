package oauth

import "golang.org/x/oauth2"

// PKCE holds code_verifier and code_challenge for RFC 7636.
type PKCE struct {
	CodeVerifier  string
	CodeChallenge string
}

// NewPKCE generates a new PKCE pair using the S256 method. The verifier is
// 32 random bytes encoded as unpadded base64url (43 characters).
func NewPKCE() (*PKCE, error) {
	verifier := oauth2.GenerateVerifier()
	return &PKCE{
		CodeVerifier:  verifier,
		CodeChallenge: oauth2.S256ChallengeFromVerifier(verifier),
	}, nil
}
