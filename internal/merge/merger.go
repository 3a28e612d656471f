// Package merge implements the Merger: combining the home, project, and
// env-override config layers under the precedence policy, then applying
// the trust-on-first-use gate to locally-executable project upstreams.
package merge

import (
	"fmt"
	"path/filepath"

	"ica-mcp-proxy/internal/policy"
	"ica-mcp-proxy/internal/security"
	"ica-mcp-proxy/internal/specconfig"
	"ica-mcp-proxy/internal/trust"
	"ica-mcp-proxy/pkg/logging"
)

const untrustedProjectStdioReason = "untrusted_project_stdio"

// MergedConfig is the Merger's output: the allowed servers, the blocked
// ones with their reasons, and the digests of each layer that contributed.
type MergedConfig struct {
	Servers        map[string]*specconfig.ServerSpec
	BlockedServers map[string]string
	SourceDigests  map[specconfig.Origin]string
	Warnings       []string
	Policy         *policy.Policy
}

// Merger combines config layers and applies the trust gate. It re-reads
// the environment (via policy.Snapshot) and the config files on every
// call, which keeps tests deterministic at the cost of doing real I/O
// each time — the same trade-off the original design calls out.
type Merger struct {
	loader *specconfig.ConfigLoader
}

// NewMerger returns a Merger backed by a fresh ConfigLoader.
func NewMerger() *Merger {
	return &Merger{loader: specconfig.NewConfigLoader()}
}

// LoadServersMerged computes the merged view of all upstream servers
// visible from cwd.
func (m *Merger) LoadServersMerged(cwd string) (*MergedConfig, error) {
	pol := policy.Snapshot()

	home, err := m.loader.ReadHome(pol.ICAHome)
	if err != nil {
		logging.Warn("merge", "home layer failed to parse: %v", err)
	}
	project, err := m.loader.ReadProject(cwd)
	if err != nil {
		logging.Warn("merge", "project layer failed to parse: %v", err)
	}
	envOverride, err := m.loader.ReadEnvOverride()
	if err != nil {
		logging.Warn("merge", "env-override layer failed to parse: %v", err)
	}

	if home == nil && project == nil && envOverride == nil {
		return nil, fmt.Errorf("no config layer could be read (home, project, and env-override all absent or unparsable)")
	}

	merged := &MergedConfig{
		Servers:        make(map[string]*specconfig.ServerSpec),
		BlockedServers: make(map[string]string),
		SourceDigests:  make(map[specconfig.Origin]string),
		Policy:         pol,
	}

	layers := precedenceOrder(home, project, envOverride, pol.PreferHome)
	for _, layer := range layers {
		if layer == nil {
			continue
		}
		merged.SourceDigests[layer.Origin] = layer.Digest
		merged.Warnings = append(merged.Warnings, layer.Warnings...)
		for name, spec := range layer.Servers {
			merged.Servers[name] = spec // later layer in precedence order wins
		}
	}

	projectDigest := ""
	if project != nil {
		projectDigest = project.Digest
	}

	homeDir := pol.ICAHome
	store := trust.NewStore(homeDir)
	absCwd, err := filepath.Abs(cwd)
	if err != nil {
		absCwd = cwd
	}

	strict := pol.StrictTrust
	explicitAllow := pol.AllowProjectStdio

	for name, spec := range merged.Servers {
		gated := spec.Origin == specconfig.OriginProject && spec.Transport == specconfig.TransportStdio
		if !gated {
			if reason, blocked := validateURLFields(spec, pol); blocked {
				delete(merged.Servers, name)
				merged.BlockedServers[name] = reason
			}
			continue
		}

		allowed := !strict || explicitAllow
		if !allowed {
			trusted, tErr := store.IsTrusted(absCwd, projectDigest)
			if tErr != nil {
				logging.Warn("merge", "trust lookup failed for %s: %v", absCwd, tErr)
			}
			allowed = trusted
		}

		if !allowed {
			delete(merged.Servers, name)
			merged.BlockedServers[name] = untrustedProjectStdioReason
			continue
		}

		if reason, blocked := validateURLFields(spec, pol); blocked {
			delete(merged.Servers, name)
			merged.BlockedServers[name] = reason
		}
	}

	return merged, nil
}

// TrustProject computes the current project config digest and seals it
// via the TrustStore. A subsequent byte-level edit to the project config
// changes the digest and therefore re-gates.
func (m *Merger) TrustProject(cwd string) (*trust.Record, error) {
	pol := policy.Snapshot()

	project, err := m.loader.ReadProject(cwd)
	if err != nil {
		return nil, fmt.Errorf("reading project config: %w", err)
	}
	digest := ""
	if project != nil {
		digest = project.Digest
	}

	absCwd, err := filepath.Abs(cwd)
	if err != nil {
		absCwd = cwd
	}

	store := trust.NewStore(pol.ICAHome)
	rec, err := store.Trust(absCwd, digest)
	if err != nil {
		return nil, err
	}
	logging.Audit(logging.AuditEvent{Action: "trust_project", Outcome: "success", Target: absCwd})
	return rec, nil
}

// precedenceOrder returns the layers in the order they should be applied
// (later wins on key collision). Default order is home, project,
// env-override; ICA_MCP_CONFIG_PREFER_HOME swaps home and project but
// env-override always wins, since it is operator-authored.
func precedenceOrder(home, project, envOverride *specconfig.ConfigLayer, preferHome bool) []*specconfig.ConfigLayer {
	if preferHome {
		return []*specconfig.ConfigLayer{project, home, envOverride}
	}
	return []*specconfig.ConfigLayer{home, project, envOverride}
}

// validateURLFields applies the SecureURLValidator to every URL-bearing
// field of an http/sse ServerSpec, satisfying the invariant that every
// ServerSpec the Merger emits into `servers` has passed C1 validation.
func validateURLFields(spec *specconfig.ServerSpec, pol *policy.Policy) (reason string, blocked bool) {
	if spec.HTTP == nil {
		return "", false
	}
	if err := security.ValidateSecureURL(spec.HTTP.URL, "url", pol.AllowHTTPLoopback); err != nil {
		return fmt.Sprintf("insecure_url: %v", err), true
	}
	oauth := spec.HTTP.OAuth
	if oauth == nil {
		return "", false
	}
	if oauth.AuthorizationURL != "" {
		if err := security.ValidateSecureURL(oauth.AuthorizationURL, "oauth.authorization_url", pol.AllowHTTPLoopback); err != nil {
			return fmt.Sprintf("insecure_url: %v", err), true
		}
	}
	if oauth.TokenURL != "" {
		if err := security.ValidateSecureURL(oauth.TokenURL, "oauth.token_url", pol.AllowHTTPLoopback); err != nil {
			return fmt.Sprintf("insecure_url: %v", err), true
		}
	}
	if oauth.Type == "pkce" && oauth.RedirectURI != "" {
		if err := security.ValidatePKCERedirectURI(oauth.RedirectURI, "oauth.redirect_uri"); err != nil {
			return fmt.Sprintf("insecure_url: %v", err), true
		}
	}
	return "", false
}
