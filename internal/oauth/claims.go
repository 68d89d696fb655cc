package oauth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// SuperOffice identity claim names.
const (
	claimPrefix = "http://schemes.superoffice.net/identity/"

	ClaimAssociateID  = claimPrefix + "associateid"
	ClaimEmail        = claimPrefix + "email"
	ClaimPrimaryEmail = claimPrefix + "so_primary_email_address"
	ClaimIsAdmin      = claimPrefix + "is_administrator"
	ClaimTenantID     = claimPrefix + "ctx"
	ClaimCompanyName  = claimPrefix + "company_name"
	ClaimRestURL      = claimPrefix + "webapi_url"
	ClaimInitials     = claimPrefix + "initials"
)

// ErrMissingClaim is returned when a claim the proxy cannot work without is absent.
var ErrMissingClaim = errors.New("required identity claim missing")

// Identity is the part of the ID token the session is built from.
type Identity struct {
	Subject     string
	Email       string
	TenantID    string
	CompanyName string
	RestURL     string
	Initials    string
	AssociateID int64
	IsAdmin     bool
}

// IdentityFromClaims maps SuperOffice ID token claims to an Identity. The
// REST URL and tenant are required; an absent or unparseable administrator
// claim yields IsAdmin=false.
func IdentityFromClaims(claims map[string]any) (*Identity, error) {
	id := &Identity{
		Subject:     stringClaim(claims, "sub"),
		Email:       stringClaim(claims, ClaimPrimaryEmail),
		TenantID:    stringClaim(claims, ClaimTenantID),
		CompanyName: stringClaim(claims, ClaimCompanyName),
		RestURL:     stringClaim(claims, ClaimRestURL),
		Initials:    stringClaim(claims, ClaimInitials),
		AssociateID: intClaim(claims, ClaimAssociateID),
		IsAdmin:     boolClaim(claims, ClaimIsAdmin),
	}
	if id.Email == "" {
		id.Email = stringClaim(claims, ClaimEmail)
	}

	if id.RestURL == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingClaim, ClaimRestURL)
	}
	if id.TenantID == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingClaim, ClaimTenantID)
	}
	return id, nil
}

func stringClaim(claims map[string]any, name string) string {
	switch v := claims[name].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func intClaim(claims map[string]any, name string) int64 {
	switch v := claims[name].(type) {
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}

func boolClaim(claims map[string]any, name string) bool {
	switch v := claims[name].(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return err == nil && b
	default:
		return false
	}
}
