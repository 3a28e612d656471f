package proxyserver

import (
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"

	"ica-mcp-proxy/internal/mirror"
	"ica-mcp-proxy/internal/pool"
	"ica-mcp-proxy/internal/upstream"
)

// ErrorKind is the stable, machine-readable category a call_tool failure
// is tagged with in the proxy's tool_error responses: ConfigError,
// InsecureURL, TrustRequired, UnknownServer, UnknownTool,
// UpstreamUnavailable, UpstreamError, Timeout, SessionFailed.
//
// ConfigError only surfaces at startup, through the CLI's own exit-code
// path rather than a tool_error. InsecureURL rejections are made while
// merging: the server is moved into blocked_servers with an
// "insecure_url: ..." reason, so a later call to it is tagged
// TrustRequired like any other blocked server. Both are named here for a
// complete taxonomy, not because classify produces them.
type ErrorKind string

const (
	KindConfigError         ErrorKind = "ConfigError"
	KindInsecureURL         ErrorKind = "InsecureURL"
	KindTrustRequired       ErrorKind = "TrustRequired"
	KindUnknownServer       ErrorKind = "UnknownServer"
	KindUnknownTool         ErrorKind = "UnknownTool"
	KindUpstreamUnavailable ErrorKind = "UpstreamUnavailable"
	KindUpstreamError       ErrorKind = "UpstreamError"
	KindTimeout             ErrorKind = "Timeout"
	KindSessionFailed       ErrorKind = "SessionFailed"
)

// classify maps an error surfaced from the mirror/pool/upstream layers to
// its stable kind tag. Anything that doesn't match a known type is an
// error the upstream itself returned, tagged UpstreamError.
func classify(err error) ErrorKind {
	var blocked *mirror.ErrBlocked
	if errors.As(err, &blocked) {
		return KindTrustRequired
	}
	var unknownServer *pool.ErrUnknownServer
	if errors.As(err, &unknownServer) {
		return KindUnknownServer
	}
	var unknownTool *mirror.ErrUnknownTool
	if errors.As(err, &unknownTool) {
		return KindUnknownTool
	}
	var timeout *upstream.TimeoutError
	if errors.As(err, &timeout) {
		return KindTimeout
	}
	var sessionFailed *upstream.SessionFailedError
	if errors.As(err, &sessionFailed) {
		return KindSessionFailed
	}
	return KindUpstreamError
}

// errorResult renders err as an MCP tool_error result: a JSON object
// carrying classify's stable kind tag plus a human-readable message,
// following the same JSON-text-result convention jsonToolResult uses for
// structured success payloads.
func errorResult(err error) *mcp.CallToolResult {
	payload := struct {
		Kind    ErrorKind `json:"kind"`
		Message string    `json:"message"`
	}{Kind: classify(err), Message: err.Error()}

	encoded, encErr := json.Marshal(payload)
	if encErr != nil {
		return mcp.NewToolResultError(err.Error())
	}
	result := mcp.NewToolResultText(string(encoded))
	result.IsError = true
	return result
}
