package specconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func TestReadProject_MissingFileReturnsNil(t *testing.T) {
	loader := NewConfigLoader()
	layer, err := loader.ReadProject(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if layer != nil {
		t.Fatalf("expected nil layer for missing file, got %+v", layer)
	}
}

func TestReadProject_NormalizesStdioAndHTTP(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".mcp.json"), `{
		"mcpServers": {
			"fixture": {"command": "fixture-bin", "args": ["-c", "print('project')"]},
			"remote": {"transport": "http", "url": "https://example.com/mcp"}
		}
	}`)

	loader := NewConfigLoader()
	layer, err := loader.ReadProject(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if layer == nil {
		t.Fatal("expected a layer")
	}
	if layer.Origin != OriginProject {
		t.Errorf("expected origin project, got %s", layer.Origin)
	}
	if len(layer.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %d: %+v", len(layer.Servers), layer.Servers)
	}
	if layer.Servers["fixture"].Transport != TransportStdio {
		t.Errorf("expected fixture to be stdio")
	}
	if layer.Servers["remote"].Transport != TransportHTTP {
		t.Errorf("expected remote to be http")
	}
}

func TestReadProject_MalformedEntryDroppedWithWarning(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".mcp.json"), `{
		"mcpServers": {
			"ok": {"command": "fixture-bin"},
			"bad": {"args": ["no-command-or-url"]}
		}
	}`)

	loader := NewConfigLoader()
	layer, err := loader.ReadProject(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := layer.Servers["ok"]; !ok {
		t.Error("expected ok server to survive normalization")
	}
	if _, ok := layer.Servers["bad"]; ok {
		t.Error("expected bad server to be dropped")
	}
	if len(layer.Warnings) != 1 {
		t.Errorf("expected 1 warning, got %d: %v", len(layer.Warnings), layer.Warnings)
	}
}

func TestDigest_InvariantUnderKeyReordering(t *testing.T) {
	dir1 := t.TempDir()
	dir2 := t.TempDir()
	writeFile(t, filepath.Join(dir1, ".mcp.json"), `{"mcpServers": {"a": {"command": "x"}, "b": {"command": "y"}}}`)
	writeFile(t, filepath.Join(dir2, ".mcp.json"), `{"mcpServers": {"b": {"command": "y"}, "a": {"command": "x"}}}`)

	loader := NewConfigLoader()
	l1, err := loader.ReadProject(dir1)
	if err != nil {
		t.Fatal(err)
	}
	l2, err := loader.ReadProject(dir2)
	if err != nil {
		t.Fatal(err)
	}
	if l1.Digest != l2.Digest {
		t.Errorf("expected digests to match regardless of key order: %s != %s", l1.Digest, l2.Digest)
	}
}

func TestReadEnvOverride_PrefersMCPConfigOverPath(t *testing.T) {
	dir := t.TempDir()
	primary := filepath.Join(dir, "primary.json")
	secondary := filepath.Join(dir, "secondary.json")
	writeFile(t, primary, `{"mcpServers": {"primary": {"command": "p"}}}`)
	writeFile(t, secondary, `{"mcpServers": {"secondary": {"command": "s"}}}`)

	t.Setenv("MCP_CONFIG", primary)
	t.Setenv("MCP_CONFIG_PATH", secondary)

	loader := NewConfigLoader()
	layer, err := loader.ReadEnvOverride()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := layer.Servers["primary"]; !ok {
		t.Error("expected MCP_CONFIG path to be used")
	}
}

func TestReadHome_EmptyHomeDirReturnsNil(t *testing.T) {
	loader := NewConfigLoader()
	layer, err := loader.ReadHome("")
	if err != nil {
		t.Fatal(err)
	}
	if layer != nil {
		t.Errorf("expected nil layer for empty home dir")
	}
}
