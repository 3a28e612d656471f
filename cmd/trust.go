package cmd

import (
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"ica-mcp-proxy/internal/merge"
)

func newTrustCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trust [path]",
		Short: "Seal the current project's stdio servers as trusted",
		Long: `Hashes the project config at path (default: current directory) and
records it as trusted, so its locally-executable stdio servers run
without requiring ICA_MCP_ALLOW_PROJECT_STDIO. Editing the project config
afterward changes its digest and re-gates it.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runTrust,
	}
}

func runTrust(cmd *cobra.Command, args []string) error {
	path := "."
	if len(args) == 1 {
		path = args[0]
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " Hashing project configuration..."
	s.Start()

	merger := merge.NewMerger()
	rec, err := merger.TrustProject(path)
	s.Stop()
	if err != nil {
		return &configError{cause: err}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "trusted %s (config digest %s)\n", rec.ProjectPath, rec.ConfigDigest)
	return nil
}
