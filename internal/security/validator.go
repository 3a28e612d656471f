// Package security implements the policy checks the proxy enforces on
// upstream OAuth endpoints and PKCE redirect URIs, ported from the
// URL-handling conventions muster applies in its own OAuth server package,
// narrowed to a single dependency-free validator.
package security

import (
	"fmt"
	"net/url"
)

// loopbackHosts are the hosts permitted for HTTP traffic when a caller
// opts into dev-mode loopback exceptions. 0.0.0.0 is deliberately absent:
// it binds to all interfaces, not just loopback, despite being commonly
// mistaken for one.
var loopbackHosts = map[string]bool{
	"127.0.0.1": true,
	"::1":       true,
	"localhost": true,
}

// InsecureURLError reports a URL that failed the secure-transport policy.
type InsecureURLError struct {
	Field  string
	URL    string
	Reason string
}

func (e *InsecureURLError) Error() string {
	return fmt.Sprintf("insecure url for %s (%s): %s", e.Field, e.URL, e.Reason)
}

// ValidateSecureURL enforces that rawURL uses https, or http restricted to
// an explicit loopback host when allowHTTPLoopback is set. field identifies
// the config attribute being validated, for error messages.
func ValidateSecureURL(rawURL, field string, allowHTTPLoopback bool) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return &InsecureURLError{Field: field, URL: rawURL, Reason: "not a valid URL"}
	}

	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if allowHTTPLoopback && loopbackHosts[u.Hostname()] {
			return nil
		}
		return &InsecureURLError{Field: field, URL: rawURL, Reason: "http is only permitted to an explicit loopback host in dev mode"}
	default:
		return &InsecureURLError{Field: field, URL: rawURL, Reason: fmt.Sprintf("scheme %q is not https or loopback http", u.Scheme)}
	}
}

// ValidatePKCERedirectURI requires the redirect URI to target a loopback
// host, regardless of scheme — a PKCE callback is always local to the
// machine running the proxy, so the https exception ValidateSecureURL
// grants to remote endpoints does not apply here. 0.0.0.0 is rejected even
// though operators sometimes bind callback servers to it, since it is not
// itself a loopback address.
func ValidatePKCERedirectURI(rawURL, field string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return &InsecureURLError{Field: field, URL: rawURL, Reason: "not a valid URL"}
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return &InsecureURLError{Field: field, URL: rawURL, Reason: fmt.Sprintf("scheme %q is not https or loopback http", u.Scheme)}
	}
	if !loopbackHosts[u.Hostname()] {
		return &InsecureURLError{Field: field, URL: rawURL, Reason: fmt.Sprintf("host %q is not a loopback address", u.Hostname())}
	}
	return nil
}
