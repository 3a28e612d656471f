package cmd

import (
	"bytes"
	"testing"
)

func TestNewVersionCmd(t *testing.T) {
	versionCmd := newVersionCmd()

	if versionCmd.Use != "version" {
		t.Errorf("Expected Use to be 'version', got %s", versionCmd.Use)
	}
	if versionCmd.Short == "" {
		t.Error("Expected Short description to be set")
	}
	if versionCmd.Long == "" {
		t.Error("Expected Long description to be set")
	}
	if versionCmd.Run == nil {
		t.Error("Expected Run function to be set")
	}
}

func TestVersionCommandExecution(t *testing.T) {
	testVersion := "1.2.3-test"
	originalVersion := rootCmd.Version
	defer func() { rootCmd.Version = originalVersion }()
	rootCmd.Version = testVersion

	versionCmd := newVersionCmd()
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	versionCmd.Run(versionCmd, []string{})

	expected := "ica-mcp-proxy version " + testVersion + "\n"
	if buf.String() != expected {
		t.Errorf("Expected output %q, got %q", expected, buf.String())
	}
}

func TestVersionCommandHelp(t *testing.T) {
	versionCmd := newVersionCmd()
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	versionCmd.SetErr(&buf)
	versionCmd.SetArgs([]string{"--help"})

	if err := versionCmd.Execute(); err != nil {
		t.Fatalf("Error executing version help: %v", err)
	}
	if buf.Len() == 0 {
		t.Error("expected non-empty help output")
	}
}
