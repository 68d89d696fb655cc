package upstream

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// DefaultAPIVersion is the REST API version segment inserted after the base URL.
const DefaultAPIVersion = "v1"

// ErrNotFound is returned when a request names no upstream resource.
var ErrNotFound = errors.New("no upstream resource in request path")

// RelativePath strips the routing prefix from requestPath and returns the
// remainder, always starting with "/". An empty remainder or a bare "/"
// yields ErrNotFound.
func RelativePath(prefix, requestPath string) (string, error) {
	prefix = strings.TrimSuffix(prefix, "/")
	rel, ok := strings.CutPrefix(requestPath, prefix)
	if !ok {
		return "", ErrNotFound
	}
	if rel != "" && !strings.HasPrefix(rel, "/") {
		// "/api/superofficeX" is not under "/api/superoffice".
		return "", ErrNotFound
	}
	if strings.Trim(rel, "/") == "" {
		return "", ErrNotFound
	}
	return rel, nil
}

// TargetURL builds <base>/<version><rel>?<rawQuery>. base is normalised to end
// with "/" before the version is appended.
func TargetURL(base, version, rel, rawQuery string) (*url.URL, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("invalid upstream base URL %q", base)
	}
	if version == "" {
		version = DefaultAPIVersion
	}
	if !strings.HasPrefix(rel, "/") {
		rel = "/" + rel
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.Trim(version, "/") + rel
	u.RawPath = ""
	u.RawQuery = rawQuery
	u.Fragment = ""
	return u, nil
}
