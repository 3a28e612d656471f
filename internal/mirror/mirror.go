// Package mirror implements the ToolMirror: the qualified-name catalog of
// every upstream tool plus the always-present proxy.* control tools. The
// qualified-name bookkeeping is grounded on muster's
// internal/aggregator/name_tracker.go and registry.go (GetAllTools,
// ResolveToolName), adapted from muster's collision-avoidance prefixing
// to a fixed "<server>.<tool>" rule: prefixes make every name unique by
// construction, so no collision tracking is needed.
package mirror

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"ica-mcp-proxy/internal/merge"
	"ica-mcp-proxy/internal/metrics"
	"ica-mcp-proxy/internal/pool"
	"ica-mcp-proxy/internal/specconfig"
	"ica-mcp-proxy/pkg/logging"
)

// Entry is one upstream tool as exposed under its qualified name.
type Entry struct {
	QualifiedName    string
	ServerName       string
	UpstreamToolName string
	SchemaSnapshot   mcp.ToolInputSchema
	Description      string
}

// ServerStatus summarizes one server for proxy.list_servers.
type ServerStatus struct {
	Name      string `json:"name"`
	Transport string `json:"transport"`
	Trusted   bool   `json:"trusted"`
	Ready     bool   `json:"ready"`
}

// BlockedStatus summarizes one blocked server for proxy.list_blocked.
type BlockedStatus struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Mirror owns the qualified-name tool catalog built from one MergedConfig
// and a Pool used to discover and invoke upstream tools.
type Mirror struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	merged  *merge.MergedConfig

	pool    *pool.Pool
	metrics *metrics.Metrics
}

// New builds an empty Mirror bound to pool and the given merged config.
// Callers must call Refresh before the mirror reflects any real tools.
func New(merged *merge.MergedConfig, p *pool.Pool, m *metrics.Metrics) *Mirror {
	return &Mirror{
		entries: make(map[string]*Entry),
		merged:  merged,
		pool:    p,
		metrics: m,
	}
}

// Refresh re-discovers tools for one server, or for every server in the
// merged config when server is empty.
func (m *Mirror) Refresh(ctx context.Context, server string) error {
	m.mu.RLock()
	servers := m.merged.Servers
	m.mu.RUnlock()

	if server != "" {
		spec, ok := servers[server]
		if !ok {
			return &pool.ErrUnknownServer{Name: server}
		}
		return m.refreshOne(ctx, spec)
	}

	var firstErr error
	for _, spec := range servers {
		if err := m.refreshOne(ctx, spec); err != nil {
			logging.Warn("mirror", "refresh failed for %s: %v", spec.Name, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (m *Mirror) refreshOne(ctx context.Context, spec *specconfig.ServerSpec) error {
	tools, err := m.pool.ListToolsFor(ctx, spec.Name)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	before := 0
	for _, e := range m.entries {
		if e.ServerName == spec.Name {
			before++
		}
	}
	for name, e := range m.entries {
		if e.ServerName == spec.Name {
			delete(m.entries, name)
		}
	}
	for _, tool := range tools {
		qualified := QualifiedName(spec.Name, tool.Name)
		m.entries[qualified] = &Entry{
			QualifiedName:    qualified,
			ServerName:       spec.Name,
			UpstreamToolName: tool.Name,
			SchemaSnapshot:   tool.InputSchema,
			Description:      tool.Description,
		}
	}

	if m.metrics != nil {
		m.metrics.SetMirrorSize(ctx, int64(len(tools)-before))
	}
	return nil
}

// QualifiedName renders the fixed "<server>.<tool>" naming rule.
func QualifiedName(server, tool string) string {
	return server + "." + tool
}

// SplitQualifiedName splits a qualified tool name at the first '.', the
// inverse of QualifiedName.
func SplitQualifiedName(qualified string) (server, tool string, ok bool) {
	idx := strings.Index(qualified, ".")
	if idx < 0 {
		return "", "", false
	}
	return qualified[:idx], qualified[idx+1:], true
}

// Entries returns a stable-ordered snapshot of the current mirror.
func (m *Mirror) Entries() []*Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QualifiedName < out[j].QualifiedName })
	return out
}

// Lookup resolves a qualified name to its Entry.
func (m *Mirror) Lookup(qualified string) (*Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[qualified]
	return e, ok
}

// ListServers implements proxy.list_servers.
func (m *Mirror) ListServers() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ServerStatus, 0, len(m.merged.Servers))
	for name, spec := range m.merged.Servers {
		out = append(out, ServerStatus{
			Name:      name,
			Transport: string(spec.Transport),
			Trusted:   true, // only trust-passing servers ever reach merged.Servers
			Ready:     m.hasEntriesFor(name),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *Mirror) hasEntriesFor(server string) bool {
	for _, e := range m.entries {
		if e.ServerName == server {
			return true
		}
	}
	return false
}

// ListBlocked implements proxy.list_blocked.
func (m *Mirror) ListBlocked() []BlockedStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]BlockedStatus, 0, len(m.merged.BlockedServers))
	for name, reason := range m.merged.BlockedServers {
		out = append(out, BlockedStatus{Name: name, Reason: reason})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ErrBlocked reports a call routed to a server present in blocked_servers.
type ErrBlocked struct {
	Server string
	Reason string
}

func (e *ErrBlocked) Error() string {
	return fmt.Sprintf("server %q is blocked: %s", e.Server, e.Reason)
}

// ErrUnknownTool reports a call to a name that resolves to neither a
// proxy.* control tool nor a known mirror entry.
type ErrUnknownTool struct{ Name string }

func (e *ErrUnknownTool) Error() string { return fmt.Sprintf("unknown tool %q", e.Name) }

// Call resolves server/tool against the live blocked-servers and mirror
// state and dispatches through the pool. It backs both proxy.call and the
// dotted "<server>.<tool>" mirrored tools, so a server that becomes
// blocked or disappears between one refresh and the next is reported the
// same way — TrustRequired or UnknownTool — regardless of which path the
// caller used to reach it.
func (m *Mirror) Call(ctx context.Context, server, tool string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	if reason, blocked := m.blockedReason(server); blocked {
		return nil, &ErrBlocked{Server: server, Reason: reason}
	}
	qualified := QualifiedName(server, tool)
	if _, ok := m.Lookup(qualified); !ok {
		return nil, &ErrUnknownTool{Name: qualified}
	}
	return m.pool.CallTool(ctx, server, tool, args, 0)
}

func (m *Mirror) blockedReason(server string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reason, ok := m.merged.BlockedServers[server]
	return reason, ok
}
