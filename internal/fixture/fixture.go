// Package fixture builds a small stdio MCP server used as a stand-in
// upstream in the SessionPool integration tests, equivalent
// to the FastMCP fixture the original Python test suite used. It exposes
// echo, add, pid, and sleepy_pid exactly as that fixture did, built with
// github.com/mark3labs/mcp-go/server the way kagenti-mcp-gateway's
// internal/tests/server2 demo server is built.
package fixture

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewServer builds the fixture's MCP server with its four tools
// registered. It is exported so tests that want an in-process upstream
// (rather than a separately built binary) can wire it directly.
func NewServer() *server.MCPServer {
	s := server.NewMCPServer("fixture-upstream", "1.0.0", server.WithToolCapabilities(true))

	s.AddTool(mcp.NewTool("echo",
		mcp.WithDescription("Return the given text unchanged"),
		mcp.WithString("text", mcp.Required(), mcp.Description("text to echo back")),
	), echoHandler)

	s.AddTool(mcp.NewTool("add",
		mcp.WithDescription("Add two numbers"),
		mcp.WithNumber("a", mcp.Required(), mcp.Description("first addend")),
		mcp.WithNumber("b", mcp.Required(), mcp.Description("second addend")),
	), addHandler)

	s.AddTool(mcp.NewTool("pid",
		mcp.WithDescription("Return this process's pid, to detect whether pooling reused it"),
	), pidHandler)

	s.AddTool(mcp.NewTool("sleepy_pid",
		mcp.WithDescription("Sleep for the given seconds, then return this process's pid"),
		mcp.WithNumber("seconds", mcp.Required(), mcp.Description("seconds to sleep before responding")),
	), sleepyPIDHandler)

	return s
}

// Run serves the fixture over stdio until ctx is cancelled, the shape
// cmd/fixture's main uses to run this as a standalone upstream process.
func Run(ctx context.Context) error {
	return server.NewStdioServer(NewServer()).Listen(ctx, os.Stdin, os.Stdout)
}

func echoHandler(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(text), nil
}

func addHandler(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a, err := req.RequireInt("a")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	b, err := req.RequireInt("b")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%d", a+b)), nil
}

func pidHandler(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(fmt.Sprintf("%d", os.Getpid())), nil
}

func sleepyPIDHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	seconds, err := req.RequireInt("seconds")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	select {
	case <-time.After(time.Duration(seconds) * time.Second):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return mcp.NewToolResultText(fmt.Sprintf("%d", os.Getpid())), nil
}
