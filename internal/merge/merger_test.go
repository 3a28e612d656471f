package merge

import (
	"os"
	"path/filepath"
	"testing"
)

func writeJSON(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadServersMerged_PrecedenceDefault(t *testing.T) {
	project := t.TempDir()
	home := t.TempDir()
	writeJSON(t, filepath.Join(project, ".mcp.json"), `{"mcpServers": {"shared": {"command": "python", "args": ["-c", "print('project')"]}}}`)
	writeJSON(t, filepath.Join(home, "mcp-servers.json"), `{"mcpServers": {"shared": {"command": "python", "args": ["-c", "print('home')"]}}}`)

	t.Setenv("ICA_HOME", home)

	merged, err := NewMerger().LoadServersMerged(project)
	if err != nil {
		t.Fatal(err)
	}
	shared, ok := merged.Servers["shared"]
	if !ok {
		t.Fatal("expected shared server present")
	}
	last := shared.Stdio.Args[len(shared.Stdio.Args)-1]
	if last != "print('project')" {
		t.Errorf("expected project layer to win by default, got %q", last)
	}
}

func TestLoadServersMerged_PrecedenceSwappedWithPreferHome(t *testing.T) {
	project := t.TempDir()
	home := t.TempDir()
	writeJSON(t, filepath.Join(project, ".mcp.json"), `{"mcpServers": {"shared": {"command": "python", "args": ["-c", "print('project')"]}}}`)
	writeJSON(t, filepath.Join(home, "mcp-servers.json"), `{"mcpServers": {"shared": {"command": "python", "args": ["-c", "print('home')"]}}}`)

	t.Setenv("ICA_HOME", home)
	t.Setenv("ICA_MCP_CONFIG_PREFER_HOME", "1")

	merged, err := NewMerger().LoadServersMerged(project)
	if err != nil {
		t.Fatal(err)
	}
	shared := merged.Servers["shared"]
	last := shared.Stdio.Args[len(shared.Stdio.Args)-1]
	if last != "print('home')" {
		t.Errorf("expected home layer to win when preferred, got %q", last)
	}
}

func TestLoadServersMerged_TrustGateStrict(t *testing.T) {
	project := t.TempDir()
	home := t.TempDir()
	writeJSON(t, filepath.Join(project, ".mcp.json"), `{
		"mcpServers": {
			"project-stdio": {"command": "python"},
			"project-http": {"transport": "http", "url": "https://example.com/mcp"}
		}
	}`)
	writeJSON(t, filepath.Join(home, "mcp-servers.json"), `{"mcpServers": {"home-stdio": {"command": "python"}}}`)

	t.Setenv("ICA_HOME", home)
	t.Setenv("ICA_MCP_STRICT_TRUST", "1")

	m := NewMerger()
	merged, err := m.LoadServersMerged(project)
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := merged.Servers["project-http"]; !ok {
		t.Error("expected project-http to pass through (not stdio)")
	}
	if _, ok := merged.Servers["home-stdio"]; !ok {
		t.Error("expected home-stdio to pass through (not project origin)")
	}
	if _, ok := merged.Servers["project-stdio"]; ok {
		t.Error("expected project-stdio to be gated")
	}
	if reason := merged.BlockedServers["project-stdio"]; reason != untrustedProjectStdioReason {
		t.Errorf("expected reason %q, got %q", untrustedProjectStdioReason, reason)
	}

	if _, err := m.TrustProject(project); err != nil {
		t.Fatal(err)
	}

	merged, err = m.LoadServersMerged(project)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := merged.Servers["project-stdio"]; !ok {
		t.Error("expected project-stdio to be allowed after trust_project")
	}
	if len(merged.BlockedServers) != 0 {
		t.Errorf("expected no blocked servers after trust, got %v", merged.BlockedServers)
	}

	// Editing the project config changes its digest and re-gates.
	writeJSON(t, filepath.Join(project, ".mcp.json"), `{
		"mcpServers": {
			"project-stdio": {"command": "python", "args": ["--new-flag"]},
			"project-http": {"transport": "http", "url": "https://example.com/mcp"}
		}
	}`)

	merged, err = m.LoadServersMerged(project)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := merged.Servers["project-stdio"]; ok {
		t.Error("expected edited project config to re-gate project-stdio")
	}
}

func TestLoadServersMerged_InsecureURLBlocked(t *testing.T) {
	project := t.TempDir()
	writeJSON(t, filepath.Join(project, ".mcp.json"), `{"mcpServers": {"bad": {"transport": "http", "url": "http://example.com/mcp"}}}`)

	merged, err := NewMerger().LoadServersMerged(project)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := merged.Servers["bad"]; ok {
		t.Error("expected insecure http url to be blocked, not passed through")
	}
	if _, ok := merged.BlockedServers["bad"]; !ok {
		t.Error("expected bad server to appear in blocked_servers (no silent drop)")
	}
}

func TestLoadServersMerged_NoSilentDrops(t *testing.T) {
	project := t.TempDir()
	writeJSON(t, filepath.Join(project, ".mcp.json"), `{
		"mcpServers": {
			"a": {"command": "python"},
			"b": {"transport": "http", "url": "https://example.com/mcp"}
		}
	}`)

	merged, err := NewMerger().LoadServersMerged(project)
	if err != nil {
		t.Fatal(err)
	}
	total := len(merged.Servers) + len(merged.BlockedServers)
	if total != 2 {
		t.Errorf("expected every input name to land in exactly one mapping, got %d total", total)
	}
	for name := range merged.Servers {
		if _, alsoBlocked := merged.BlockedServers[name]; alsoBlocked {
			t.Errorf("server %q present in both servers and blocked_servers", name)
		}
	}
}
