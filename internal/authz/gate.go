package authz

import (
	"net/http"
	"strings"
)

// Decision is the outcome of an authorization check. The zero value denies.
type Decision int

const (
	// Unauthenticated means no usable session was presented.
	Unauthenticated Decision = iota
	// Forbidden means the session lacks the role required for the method.
	Forbidden
	// Allow lets the request through.
	Allow
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Forbidden:
		return "forbidden"
	default:
		return "unauthenticated"
	}
}

// HTTPStatus maps the decision to its response status. Allow maps to 200.
func (d Decision) HTTPStatus() int {
	switch d {
	case Allow:
		return http.StatusOK
	case Forbidden:
		return http.StatusForbidden
	default:
		return http.StatusUnauthorized
	}
}

// IsSafeMethod reports whether method is a read that non-admin users may issue.
// Unknown and empty methods are treated as mutating.
func IsSafeMethod(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// Authorize evaluates, in order: a missing session is Unauthenticated, a
// mutating method without the admin flag is Forbidden, anything else is Allow.
func Authorize(hasSession, isAdmin bool, method string) Decision {
	if !hasSession {
		return Unauthenticated
	}
	if !IsSafeMethod(method) && !isAdmin {
		return Forbidden
	}
	return Allow
}
