// Package specconfig models the normalized shape of one upstream server
// declaration and the layered config documents the proxy reads them from.
// ServerSpec is a tagged variant over stdio/http/sse rather than a bag of
// optional fields: downstream code switches on Transport and never inspects
// raw JSON again, per the re-architecture note in the original design about
// dynamic config shapes.
package specconfig

import (
	"fmt"

	"golang.org/x/oauth2"
)

// Transport identifies which wire transport an upstream speaks.
type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportHTTP  Transport = "http"
	TransportSSE   Transport = "sse"
)

// Origin identifies which config layer a ServerSpec or ConfigLayer came
// from, used by the trust gate and the precedence tie-break table.
type Origin string

const (
	OriginHome        Origin = "home"
	OriginProject     Origin = "project"
	OriginEnvOverride Origin = "env-override"
)

// StdioSpec holds the transport-specific fields for a locally-executed
// upstream.
type StdioSpec struct {
	Command string
	Args    []string
	Env     map[string]string
	Cwd     string
}

// OAuthSpec describes the OAuth shape attached to an http/sse ServerSpec.
// Token acquisition itself is out of scope: the proxy only shapes this
// config and, for StaticTokenEnv, reads a preshared bearer token.
type OAuthSpec struct {
	Type             string // "pkce" | "client_credentials" | "bearer"
	AuthorizationURL string
	TokenURL         string
	ClientID         string
	ClientSecret     string
	Scopes           []string
	RedirectURI      string // pkce only
	StaticTokenEnv   string // bearer only — env var holding a preshared token
}

// ToOAuth2Config renders the pkce/client_credentials shape of an OAuthSpec
// as a golang.org/x/oauth2.Config, for callers that want to print an
// authorization URL hint or drive the flow themselves. Token acquisition
// stays out of scope for the proxy itself (see OAuthSpec doc comment);
// this only shapes the config, the way muster's Token.ToOAuth2Token
// shapes a token for the same library.
func (o *OAuthSpec) ToOAuth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     o.ClientID,
		ClientSecret: o.ClientSecret,
		RedirectURL:  o.RedirectURI,
		Scopes:       o.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  o.AuthorizationURL,
			TokenURL: o.TokenURL,
		},
	}
}

// HTTPSpec holds the transport-specific fields for a remote upstream
// reached over streamable-HTTP or SSE.
type HTTPSpec struct {
	URL     string
	Headers map[string]string
	OAuth   *OAuthSpec
}

// ServerSpec is a normalized declaration of one upstream, unique by name
// within a merged view.
type ServerSpec struct {
	Name      string
	Transport Transport
	Origin    Origin

	Stdio *StdioSpec // set iff Transport == TransportStdio
	HTTP  *HTTPSpec  // set iff Transport == TransportHTTP || TransportSSE

	TimeoutS     *float64
	InitTimeoutS *float64
	IdleTTLS     *float64
}

// Validate checks structural invariants of the tagged variant: exactly one
// of Stdio/HTTP is populated, matching Transport.
func (s *ServerSpec) Validate() error {
	switch s.Transport {
	case TransportStdio:
		if s.Stdio == nil {
			return fmt.Errorf("server %q: transport stdio requires a stdio block", s.Name)
		}
		if s.Stdio.Command == "" {
			return fmt.Errorf("server %q: stdio command is required", s.Name)
		}
		if s.HTTP != nil {
			return fmt.Errorf("server %q: stdio server must not carry an http block", s.Name)
		}
	case TransportHTTP, TransportSSE:
		if s.HTTP == nil {
			return fmt.Errorf("server %q: transport %s requires a url block", s.Name, s.Transport)
		}
		if s.HTTP.URL == "" {
			return fmt.Errorf("server %q: url is required", s.Name)
		}
		if s.Stdio != nil {
			return fmt.Errorf("server %q: %s server must not carry a stdio block", s.Name, s.Transport)
		}
	default:
		return fmt.Errorf("server %q: unknown transport %q", s.Name, s.Transport)
	}
	return nil
}

// ConfigLayer is one parsed source document: its normalized servers, any
// entries dropped during normalization, its origin tag, and the
// canonical-JSON SHA-256 digest of its raw mcpServers object.
type ConfigLayer struct {
	Origin   Origin
	Path     string
	Servers  map[string]*ServerSpec
	Warnings []string
	Digest   string
}
