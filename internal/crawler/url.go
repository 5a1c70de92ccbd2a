package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL to avoid duplicates.
// Relative references ("/wiki/Foo", "wiki/Foo") are resolved against base.
// It lowercases the scheme and host, removes default ports, sorts query
// parameters and removes fragments.
func NormalizeURL(base *url.URL, rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if i := strings.IndexByte(rawURL, '#'); i >= 0 {
		rawURL = rawURL[:i]
	}
	if rawURL == "" {
		return "", fmt.Errorf("empty url")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if !u.IsAbs() {
		if base == nil {
			return "", fmt.Errorf("relative url %q without base", rawURL)
		}
		if !strings.HasPrefix(u.Path, "/") && u.Host == "" {
			u.Path = "/" + u.Path
		}
		u = base.ResolveReference(u)
	}

	// Lowercase scheme and host
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	// Remove default ports
	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawFragment = ""

	// Sort query parameters
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}

	return u.String(), nil
}
