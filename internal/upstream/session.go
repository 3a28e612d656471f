// Package upstream implements UpstreamSession: one live connection to one
// upstream MCP server, speaking stdio, streamable-HTTP, or SSE through
// github.com/mark3labs/mcp-go/client. The library already demultiplexes
// responses by request id behind a single reader goroutine per
// connection, so Session mainly adds the state machine, tool-list
// caching, and call-timeout semantics the pool depends on.
package upstream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"ica-mcp-proxy/pkg/logging"
)

// State is one point in an UpstreamSession's lifecycle.
type State int

const (
	StateStarting State = iota
	StateReady
	StateClosing
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// DefaultToolCacheTTL bounds how long a cached list_tools response is
// served before a fresh call to the upstream is made.
const DefaultToolCacheTTL = 60 * time.Second

// SessionFailedError reports that an upstream's transport is no longer
// usable; the pool treats this as a signal to replace the session.
type SessionFailedError struct {
	Server string
	Cause  error
}

func (e *SessionFailedError) Error() string {
	return fmt.Sprintf("session for %q failed: %v", e.Server, e.Cause)
}
func (e *SessionFailedError) Unwrap() error { return e.Cause }

// TimeoutError reports that a tool call did not complete before its
// effective deadline. Unlike SessionFailedError, a timeout says nothing
// about the transport's health, so callers should not treat it as a
// reason to discard the session.
type TimeoutError struct {
	Server    string
	Tool      string
	DeadlineS float64
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("call to %q on %q timed out after %.3fs", e.Tool, e.Server, e.DeadlineS)
}

// client is the subset of mark3labs/mcp-go's client.MCPClient this package
// depends on, narrowed so the three transports share one interface.
type client interface {
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// Session owns one transport to one upstream server.
type Session struct {
	ServerName string
	ID         string

	mu    sync.RWMutex
	state State
	err   error

	underlying client
	starter    func(ctx context.Context) (client, error)

	cacheMu      sync.Mutex
	cachedTools  []mcp.Tool
	cachedAt     time.Time
	toolCacheTTL time.Duration
}

func newSession(serverName string, starter func(ctx context.Context) (client, error)) *Session {
	return &Session{
		ServerName:   serverName,
		ID:           uuid.NewString(),
		state:        StateStarting,
		starter:      starter,
		toolCacheTTL: DefaultToolCacheTTL,
	}
}

// EnsureReady blocks until the session reaches Ready or Failed.
func (s *Session) EnsureReady(ctx context.Context, initTimeout time.Duration) error {
	s.mu.Lock()
	if s.state == StateReady {
		s.mu.Unlock()
		return nil
	}
	if s.state == StateFailed {
		err := s.err
		s.mu.Unlock()
		return &SessionFailedError{Server: s.ServerName, Cause: err}
	}
	s.mu.Unlock()

	initCtx := ctx
	if initTimeout > 0 {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, initTimeout)
		defer cancel()
	}

	c, err := s.starter(initCtx)
	if err != nil {
		s.mu.Lock()
		s.state = StateFailed
		s.err = err
		s.mu.Unlock()
		logging.Error("upstream", err, "session for %s failed to start (id=%s)", s.ServerName, logging.TruncateSessionID(s.ID))
		return &SessionFailedError{Server: s.ServerName, Cause: err}
	}

	s.mu.Lock()
	s.underlying = c
	s.state = StateReady
	s.mu.Unlock()
	logging.Debug("upstream", "session for %s ready (id=%s)", s.ServerName, logging.TruncateSessionID(s.ID))
	return nil
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// ListTools returns the upstream's tool catalog, served from a cache
// refreshed at most every toolCacheTTL unless invalidated.
func (s *Session) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	s.cacheMu.Lock()
	if s.cachedTools != nil && time.Since(s.cachedAt) < s.toolCacheTTL {
		tools := s.cachedTools
		s.cacheMu.Unlock()
		return tools, nil
	}
	s.cacheMu.Unlock()

	c, err := s.readyClient()
	if err != nil {
		return nil, err
	}

	result, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		s.markFailed(err)
		return nil, &SessionFailedError{Server: s.ServerName, Cause: err}
	}

	s.cacheMu.Lock()
	s.cachedTools = result.Tools
	s.cachedAt = time.Now()
	s.cacheMu.Unlock()

	return result.Tools, nil
}

// Invalidate clears the cached tool catalog so the next ListTools call
// re-queries the upstream.
func (s *Session) Invalidate() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.cachedTools = nil
}

// CallTool invokes one tool on the upstream, bounded by timeout.
func (s *Session) CallTool(ctx context.Context, name string, args map[string]interface{}, timeout time.Duration) (*mcp.CallToolResult, error) {
	c, err := s.readyClient()
	if err != nil {
		return nil, err
	}

	callCtx := ctx
	deadlineS := timeout.Seconds()
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	} else if d, ok := ctx.Deadline(); ok {
		deadlineS = time.Until(d).Seconds()
	}

	result, err := c.CallTool(callCtx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: args},
	})
	if err != nil {
		if callCtx.Err() != nil {
			return nil, &TimeoutError{Server: s.ServerName, Tool: name, DeadlineS: deadlineS}
		}
		s.markFailed(err)
		return nil, &SessionFailedError{Server: s.ServerName, Cause: err}
	}
	return result, nil
}

// Shutdown transitions the session to Closing then Closed, releasing its
// transport. grace bounds how long it waits for the underlying close to
// complete: past grace it returns an error and marks the session Closed,
// while the underlying Close keeps running in the background.
func (s *Session) Shutdown(ctx context.Context, grace time.Duration) error {
	s.mu.Lock()
	if s.state == StateClosed || s.state == StateClosing {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosing
	c := s.underlying
	s.mu.Unlock()

	var err error
	if c != nil {
		done := make(chan error, 1)
		go func() { done <- c.Close() }()
		select {
		case err = <-done:
		case <-time.After(grace):
			err = fmt.Errorf("shutdown of %s exceeded grace period %s", s.ServerName, grace)
		}
	}

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	return err
}

func (s *Session) readyClient() (client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateReady || s.underlying == nil {
		return nil, &SessionFailedError{Server: s.ServerName, Cause: fmt.Errorf("session not ready (state=%s)", s.state)}
	}
	return s.underlying, nil
}

func (s *Session) markFailed(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateClosed && s.state != StateClosing {
		s.state = StateFailed
		s.err = cause
	}
}
