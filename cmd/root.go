package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeConfigError indicates config could not be parsed at startup.
	ExitCodeConfigError = 2
	// ExitCodeTransportError indicates a fatal error on the downstream stdio transport.
	ExitCodeTransportError = 3
)

// rootCmd represents the base command for the proxy CLI. It is the entry
// point when the application is called without any subcommands, which
// runs the same stdio proxy loop as the explicit "serve" subcommand.
var rootCmd = &cobra.Command{
	Use:   "ica-mcp-proxy",
	Short: "Aggregate multiple MCP servers behind one stdio MCP endpoint",
	Long: `ica-mcp-proxy discovers configured upstream MCP servers, merges their
layered configuration under a trust-on-first-use policy, and presents
every reachable tool under a single downstream MCP stdio endpoint with
names qualified as "<server>.<tool>".`,
	SilenceUsage: true,
	RunE:         runServe,
}

// SetVersion sets the version for the root command.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "ica-mcp-proxy version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
func getExitCode(err error) int {
	var cfgErr *configError
	if errors.As(err, &cfgErr) {
		return ExitCodeConfigError
	}
	var transportErr *transportError
	if errors.As(err, &transportErr) {
		return ExitCodeTransportError
	}
	return ExitCodeError
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newTrustCmd())
	rootCmd.AddCommand(newServersCmd())
}
