package specconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// document is the on-disk shape of every config layer: an object with an
// mcpServers map and otherwise-ignored top-level keys.
type document struct {
	McpServers map[string]json.RawMessage `json:"mcpServers"`
}

// ConfigLoader reads the three config layers the Merger overlays.
type ConfigLoader struct{}

// NewConfigLoader returns a ConfigLoader. It holds no state; the zero value
// is usable directly, the constructor exists for symmetry with the other
// components and to leave room for future caching.
func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

// ReadProject reads <cwd>/.mcp.json. Returns (nil, nil) if the file does
// not exist.
func (l *ConfigLoader) ReadProject(cwd string) (*ConfigLayer, error) {
	return l.readLayer(filepath.Join(cwd, ".mcp.json"), OriginProject)
}

// ReadHome reads <homeDir>/mcp-servers.json. Returns (nil, nil) if the
// file does not exist or homeDir is empty.
func (l *ConfigLoader) ReadHome(homeDir string) (*ConfigLayer, error) {
	if homeDir == "" {
		return nil, nil
	}
	return l.readLayer(filepath.Join(homeDir, "mcp-servers.json"), OriginHome)
}

// ReadEnvOverride reads the path named by MCP_CONFIG or MCP_CONFIG_PATH.
// If both are set to different paths, MCP_CONFIG wins (the Open Question
// in the original design is resolved this way; see DESIGN.md). Returns
// (nil, nil) if neither variable is set.
func (l *ConfigLoader) ReadEnvOverride() (*ConfigLayer, error) {
	path := os.Getenv("MCP_CONFIG")
	if path == "" {
		path = os.Getenv("MCP_CONFIG_PATH")
	}
	if path == "" {
		return nil, nil
	}
	return l.readLayer(path, OriginEnvOverride)
}

func (l *ConfigLoader) readLayer(path string, origin Origin) (*ConfigLayer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s config %s: %w", origin, path, err)
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s config %s: %w", origin, path, err)
	}

	mcpServersRaw, err := json.Marshal(doc.McpServers)
	if err != nil {
		return nil, fmt.Errorf("re-encoding mcpServers from %s: %w", path, err)
	}
	digest, err := CanonicalDigest(mcpServersRaw)
	if err != nil {
		return nil, fmt.Errorf("digesting mcpServers from %s: %w", path, err)
	}

	layer := &ConfigLayer{
		Origin:  origin,
		Path:    path,
		Servers: make(map[string]*ServerSpec, len(doc.McpServers)),
		Digest:  digest,
	}

	for name, rawSpec := range doc.McpServers {
		spec, err := normalizeServerSpec(name, origin, rawSpec)
		if err != nil {
			layer.Warnings = append(layer.Warnings, fmt.Sprintf("server %q in %s: %v", name, path, err))
			continue
		}
		layer.Servers[name] = spec
	}

	return layer, nil
}

// rawServerSpec mirrors the JSON shape accepted for one mcpServers entry,
// used only as a decoding target before normalization into ServerSpec.
type rawServerSpec struct {
	Transport    string            `json:"transport"`
	Type         string            `json:"type"` // accepted alias for transport
	Command      string            `json:"command"`
	Args         []string          `json:"args"`
	Env          map[string]string `json:"env"`
	Cwd          string            `json:"cwd"`
	URL          string            `json:"url"`
	Headers      map[string]string `json:"headers"`
	OAuth        *rawOAuthSpec     `json:"oauth"`
	TimeoutS     *float64          `json:"timeout_s"`
	InitTimeoutS *float64          `json:"init_timeout_s"`
	IdleTTLS     *float64          `json:"idle_ttl_s"`
}

type rawOAuthSpec struct {
	Type             string   `json:"type"`
	AuthorizationURL string   `json:"authorization_url"`
	TokenURL         string   `json:"token_url"`
	ClientID         string   `json:"client_id"`
	ClientSecret     string   `json:"client_secret"`
	Scopes           []string `json:"scopes"`
	RedirectURI      string   `json:"redirect_uri"`
	StaticTokenEnv   string   `json:"static_token_env"`
}

// normalizeServerSpec converts one raw JSON entry into a ServerSpec,
// inferring the transport when the field is omitted (stdio configs in the
// wild commonly omit it, carrying only "command"). Malformed entries
// return an error; the caller records it as a per-entry warning rather
// than failing the whole layer.
func normalizeServerSpec(name string, origin Origin, raw json.RawMessage) (*ServerSpec, error) {
	var r rawServerSpec
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	transport := Transport(r.Transport)
	if transport == "" {
		transport = Transport(r.Type)
	}
	if transport == "" {
		switch {
		case r.Command != "":
			transport = TransportStdio
		case r.URL != "":
			transport = TransportHTTP
		default:
			return nil, fmt.Errorf("cannot infer transport: neither \"transport\", \"command\", nor \"url\" present")
		}
	}

	spec := &ServerSpec{
		Name:         name,
		Transport:    transport,
		Origin:       origin,
		TimeoutS:     r.TimeoutS,
		InitTimeoutS: r.InitTimeoutS,
		IdleTTLS:     r.IdleTTLS,
	}

	switch transport {
	case TransportStdio:
		spec.Stdio = &StdioSpec{Command: r.Command, Args: r.Args, Env: r.Env, Cwd: r.Cwd}
	case TransportHTTP, TransportSSE:
		spec.HTTP = &HTTPSpec{URL: r.URL, Headers: r.Headers}
		if r.OAuth != nil {
			spec.HTTP.OAuth = &OAuthSpec{
				Type:             r.OAuth.Type,
				AuthorizationURL: r.OAuth.AuthorizationURL,
				TokenURL:         r.OAuth.TokenURL,
				ClientID:         r.OAuth.ClientID,
				ClientSecret:     r.OAuth.ClientSecret,
				Scopes:           r.OAuth.Scopes,
				RedirectURI:      r.OAuth.RedirectURI,
				StaticTokenEnv:   r.OAuth.StaticTokenEnv,
			}
		}
	default:
		return nil, fmt.Errorf("unsupported transport %q", transport)
	}

	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}
