package proxyserver

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"ica-mcp-proxy/internal/mirror"
	"ica-mcp-proxy/internal/pool"
	"ica-mcp-proxy/internal/upstream"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"blocked", &mirror.ErrBlocked{Server: "risky", Reason: "untrusted_project_stdio"}, KindTrustRequired},
		{"unknown server", &pool.ErrUnknownServer{Name: "ghost"}, KindUnknownServer},
		{"unknown tool", &mirror.ErrUnknownTool{Name: "filesystem.nope"}, KindUnknownTool},
		{"timeout", &upstream.TimeoutError{Server: "filesystem", Tool: "read_file", DeadlineS: 5}, KindTimeout},
		{"session failed", &upstream.SessionFailedError{Server: "filesystem", Cause: errors.New("boom")}, KindSessionFailed},
		{"unrecognized", errors.New("upstream exploded"), KindUpstreamError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.err); got != tt.want {
				t.Errorf("classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestErrorResult_CarriesKindAndMessage(t *testing.T) {
	err := &mirror.ErrBlocked{Server: "risky", Reason: "untrusted_project_stdio"}
	result := errorResult(err)

	if !result.IsError {
		t.Fatal("expected IsError to be true")
	}

	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", result.Content[0])
	}

	var payload struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(text.Text), &payload); err != nil {
		t.Fatalf("result content is not valid JSON: %v (%q)", err, text.Text)
	}
	if payload.Kind != string(KindTrustRequired) {
		t.Errorf("expected kind %q, got %q", KindTrustRequired, payload.Kind)
	}
	if payload.Message != err.Error() {
		t.Errorf("expected message %q, got %q", err.Error(), payload.Message)
	}
}
