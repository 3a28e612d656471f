package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newVersionCmd creates the Cobra command for displaying the proxy's
// build version. Unlike muster's version command, there is no separate
// running server to query: the proxy speaks only stdio to one client at
// a time, so "the version" is just this binary's.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the proxy's build version",
		Long:  `Prints the ica-mcp-proxy CLI version injected at build time.`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ica-mcp-proxy version %s\n", rootCmd.Version)
		},
	}
}
