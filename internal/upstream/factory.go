package upstream

import (
	"context"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"ica-mcp-proxy/internal/specconfig"
	"ica-mcp-proxy/pkg/logging"
)

const protocolVersion = "2024-11-05"

func initializeRequest() mcp.InitializeRequest {
	return mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: protocolVersion,
			ClientInfo:      mcp.Implementation{Name: "ica-mcp-proxy", Version: "1.0.0"},
			Capabilities:    mcp.ClientCapabilities{},
		},
	}
}

// NewSession constructs a Session for spec, dispatching on its Transport.
func NewSession(spec *specconfig.ServerSpec) (*Session, error) {
	switch spec.Transport {
	case specconfig.TransportStdio:
		return newStdioSession(spec), nil
	case specconfig.TransportHTTP:
		return newStreamableHTTPSession(spec), nil
	case specconfig.TransportSSE:
		return newSSESession(spec), nil
	default:
		return nil, fmt.Errorf("unsupported transport %q for server %q", spec.Transport, spec.Name)
	}
}

// effectiveHeaders merges spec.HTTP.Headers with a bearer Authorization
// header derived from OAuthSpec.StaticTokenEnv, if present. An explicit
// Authorization header in the config always wins, mirroring the
// bearer-token precedence other proxies in the example pack apply.
func effectiveHeaders(spec *specconfig.ServerSpec) map[string]string {
	headers := make(map[string]string, len(spec.HTTP.Headers)+1)
	for k, v := range spec.HTTP.Headers {
		headers[k] = v
	}

	oauth := spec.HTTP.OAuth
	if oauth == nil || oauth.Type != "bearer" || oauth.StaticTokenEnv == "" {
		return headers
	}
	if _, exists := headers["Authorization"]; exists {
		return headers
	}
	token := os.Getenv(oauth.StaticTokenEnv)
	if token == "" {
		return headers
	}
	if claims, expired := diagnoseBearerToken(token); claims {
		if expired {
			logging.Warn("upstream", "preshared bearer token for %s (env %s) appears expired", spec.Name, oauth.StaticTokenEnv)
		}
	}
	headers["Authorization"] = "Bearer " + token
	return headers
}

func newStdioSession(spec *specconfig.ServerSpec) *Session {
	command := spec.Stdio.Command
	args := spec.Stdio.Args
	env := spec.Stdio.Env

	starter := func(ctx context.Context) (client, error) {
		var envStrings []string
		for k, v := range env {
			envStrings = append(envStrings, fmt.Sprintf("%s=%s", k, v))
		}

		logging.Debug("upstream", "starting stdio upstream %s: %s %v", spec.Name, command, args)
		mcpClient, err := client.NewStdioMCPClient(command, envStrings, args...)
		if err != nil {
			return nil, fmt.Errorf("creating stdio client for %s: %w", spec.Name, err)
		}

		if _, err := mcpClient.Initialize(ctx, initializeRequest()); err != nil {
			_ = mcpClient.Close()
			return nil, fmt.Errorf("initializing stdio upstream %s: %w", spec.Name, err)
		}
		return mcpClient, nil
	}

	return newSession(spec.Name, starter)
}

func newStreamableHTTPSession(spec *specconfig.ServerSpec) *Session {
	url := spec.HTTP.URL
	headers := effectiveHeaders(spec)

	starter := func(ctx context.Context) (client, error) {
		var opts []transport.StreamableHTTPCOption
		if len(headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(headers))
		}

		logging.Debug("upstream", "connecting streamable-http upstream %s: %s", spec.Name, url)
		mcpClient, err := client.NewStreamableHttpClient(url, opts...)
		if err != nil {
			return nil, fmt.Errorf("creating streamable-http client for %s: %w", spec.Name, err)
		}
		if _, err := mcpClient.Initialize(ctx, initializeRequest()); err != nil {
			_ = mcpClient.Close()
			return nil, fmt.Errorf("initializing streamable-http upstream %s: %w", spec.Name, err)
		}
		return mcpClient, nil
	}

	return newSession(spec.Name, starter)
}

func newSSESession(spec *specconfig.ServerSpec) *Session {
	url := spec.HTTP.URL
	headers := effectiveHeaders(spec)

	starter := func(ctx context.Context) (client, error) {
		var opts []transport.ClientOption
		if len(headers) > 0 {
			opts = append(opts, transport.WithHeaders(headers))
		}

		logging.Debug("upstream", "connecting sse upstream %s: %s", spec.Name, url)
		mcpClient, err := client.NewSSEMCPClient(url, opts...)
		if err != nil {
			return nil, fmt.Errorf("creating sse client for %s: %w", spec.Name, err)
		}
		if err := mcpClient.Start(ctx); err != nil {
			return nil, fmt.Errorf("starting sse transport for %s: %w", spec.Name, err)
		}
		if _, err := mcpClient.Initialize(ctx, initializeRequest()); err != nil {
			_ = mcpClient.Close()
			return nil, fmt.Errorf("initializing sse upstream %s: %w", spec.Name, err)
		}
		return mcpClient, nil
	}

	return newSession(spec.Name, starter)
}
