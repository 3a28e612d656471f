// Package proxyserver implements the ProxyServer: the downstream MCP
// surface the proxy presents over stdio. Built on
// github.com/mark3labs/mcp-go/server exactly as muster's
// internal/aggregator/server.go wires its stdio transport
// (server.NewMCPServer + server.NewStdioServer(...).Listen). Tool
// registration follows muster's tool_factory.go/server_helpers.go pattern
// of building server.ServerTool{Tool, Handler} pairs from a dynamic
// source — here ToolMirror's entries instead of muster's static provider
// set — rebuilt whenever proxy.refresh runs.
package proxyserver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"ica-mcp-proxy/internal/merge"
	"ica-mcp-proxy/internal/mirror"
	"ica-mcp-proxy/pkg/logging"
)

const (
	proxyToolPrefix = "proxy."
	serverName      = "ica-mcp-proxy"
	serverVersion   = "1.0.0"
)

// ProxyServer owns the ToolMirror (which in turn owns the SessionPool)
// backing this process's downstream MCP surface.
type ProxyServer struct {
	merger *merge.Merger
	mirror *mirror.Mirror

	mcpServer *server.MCPServer
}

// New wires a ProxyServer around an already-built Mirror.
func New(merger *merge.Merger, m *mirror.Mirror) *ProxyServer {
	ps := &ProxyServer{merger: merger, mirror: m}

	ps.mcpServer = server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithToolCapabilities(true),
	)

	ps.registerProxyTools()
	ps.syncMirrorTools()

	return ps
}

// Serve discovers tools for every configured server, notifies systemd
// readiness if applicable, then blocks serving the downstream stdio MCP
// transport until ctx is cancelled.
func (ps *ProxyServer) Serve(ctx context.Context) error {
	if err := ps.mirror.Refresh(ctx, ""); err != nil {
		logging.Warn("proxyserver", "initial tool discovery had errors: %v", err)
	}
	ps.syncMirrorTools()

	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logging.Warn("proxyserver", "systemd notify failed: %v", err)
	} else if sent {
		logging.Debug("proxyserver", "sent systemd READY=1 after initial discovery")
	}

	stdioServer := server.NewStdioServer(ps.mcpServer)
	logging.Info("proxyserver", "serving downstream MCP over stdio")
	if err := stdioServer.Listen(ctx, os.Stdin, os.Stdout); err != nil {
		return fmt.Errorf("stdio transport error: %w", err)
	}
	return nil
}

// registerProxyTools adds the always-present proxy.* control tools, which
// never touch upstreams for their own catalog.
func (ps *ProxyServer) registerProxyTools() {
	tools := []server.ServerTool{
		{
			Tool: mcp.Tool{
				Name:        "proxy.list_servers",
				Description: "List every allowed upstream server with its transport, trust, and readiness.",
				InputSchema: mcp.ToolInputSchema{Type: "object"},
			},
			Handler: ps.handleListServers,
		},
		{
			Tool: mcp.Tool{
				Name:        "proxy.list_blocked",
				Description: "List upstream servers blocked by the trust gate or URL validation, with reasons.",
				InputSchema: mcp.ToolInputSchema{Type: "object"},
			},
			Handler: ps.handleListBlocked,
		},
		{
			Tool: mcp.Tool{
				Name:        "proxy.call",
				Description: "Call an upstream tool by server and tool name, for clients that cannot express dotted tool names.",
				InputSchema: mcp.ToolInputSchema{
					Type: "object",
					Properties: map[string]interface{}{
						"server": map[string]interface{}{"type": "string"},
						"tool":   map[string]interface{}{"type": "string"},
						"args":   map[string]interface{}{"type": "object"},
					},
					Required: []string{"server", "tool"},
				},
			},
			Handler: ps.handleCall,
		},
		{
			Tool: mcp.Tool{
				Name:        "proxy.refresh",
				Description: "Re-discover tools for one upstream server, or every server if none given.",
				InputSchema: mcp.ToolInputSchema{
					Type: "object",
					Properties: map[string]interface{}{
						"server": map[string]interface{}{"type": "string"},
					},
				},
			},
			Handler: ps.handleRefresh,
		},
	}
	ps.mcpServer.AddTools(tools...)
}

// syncMirrorTools registers every entry of the current mirror snapshot as a
// dynamic `<server>.<tool>` tool, overwriting any tool of the same name.
// Tools registered earlier that are no longer in the mirror stay
// registered; their handlers resolve to UnknownTool through Mirror.Call.
func (ps *ProxyServer) syncMirrorTools() {
	entries := ps.mirror.Entries()
	tools := make([]server.ServerTool, 0, len(entries))
	for _, entry := range entries {
		e := entry
		tools = append(tools, server.ServerTool{
			Tool: mcp.Tool{
				Name:        e.QualifiedName,
				Description: e.Description,
				InputSchema: e.SchemaSnapshot,
			},
			Handler: ps.handleMirroredCall(e.ServerName, e.UpstreamToolName),
		})
	}
	ps.mcpServer.AddTools(tools...)
}

// handleMirroredCall routes a dotted "<server>.<tool>" call through
// Mirror.Call rather than the pool directly, so a server that became
// blocked or disappeared since this handler was registered is reported
// as TrustRequired/UnknownTool instead of silently executing or falling
// through to mcp-go's generic tool-not-found handling.
func (ps *ProxyServer) handleMirroredCall(serverName, toolName string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := extractArgs(req)
		result, err := ps.mirror.Call(ctx, serverName, toolName, args)
		if err != nil {
			return errorResult(err), nil
		}
		return result, nil
	}
}

func (ps *ProxyServer) handleListServers(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonToolResult(ps.mirror.ListServers())
}

func (ps *ProxyServer) handleListBlocked(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonToolResult(ps.mirror.ListBlocked())
}

func (ps *ProxyServer) handleCall(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := extractArgs(req)
	serverArg, _ := args["server"].(string)
	tool, _ := args["tool"].(string)
	if serverArg == "" || tool == "" {
		return mcp.NewToolResultError("server and tool are required"), nil
	}
	callArgs, _ := args["args"].(map[string]interface{})

	result, err := ps.mirror.Call(ctx, serverArg, tool, callArgs)
	if err != nil {
		return errorResult(err), nil
	}
	return result, nil
}

func (ps *ProxyServer) handleRefresh(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := extractArgs(req)
	target, _ := args["server"].(string)

	if err := ps.mirror.Refresh(ctx, target); err != nil {
		return errorResult(err), nil
	}
	ps.syncMirrorTools()
	return mcp.NewToolResultText("refreshed"), nil
}

func extractArgs(req mcp.CallToolRequest) map[string]interface{} {
	if req.Params.Arguments == nil {
		return map[string]interface{}{}
	}
	if m, ok := req.Params.Arguments.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{}
}

// Route dispatches a raw tool name the way ProxyServer's call_tool handler
// does: proxy.* names go to the internal handlers already registered on
// mcpServer, anything else is split at the first '.' and routed through
// the pool. Exposed standalone for tests that want to exercise routing
// without a live stdio transport.
func Route(name string) (isProxyTool bool, upstreamServer, upstreamTool string, ok bool) {
	if strings.HasPrefix(name, proxyToolPrefix) {
		return true, "", "", true
	}
	s, t, split := mirror.SplitQualifiedName(name)
	return false, s, t, split
}

// jsonToolResult renders v as a JSON text block, matching the pattern
// muster's internal/metatools formatters use for structured tool output.
func jsonToolResult(v interface{}) (*mcp.CallToolResult, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(encoded)), nil
}
