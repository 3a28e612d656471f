package cmd

import (
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"ica-mcp-proxy/internal/merge"
	"ica-mcp-proxy/internal/specconfig"
	pkgstrings "ica-mcp-proxy/pkg/strings"
)

func newServersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "servers [path]",
		Short: "List the merged and blocked upstream servers",
		Long: `Loads the layered server configuration visible from path (default:
current directory) and prints which servers are allowed and which are
blocked, with the reason for each block.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runServers,
	}
}

func runServers(cmd *cobra.Command, args []string) error {
	path := "."
	if len(args) == 1 {
		path = args[0]
	}

	merger := merge.NewMerger()
	merged, err := merger.LoadServersMerged(path)
	if err != nil {
		return &configError{cause: err}
	}

	renderServersTable(cmd, merged)
	if len(merged.BlockedServers) > 0 {
		renderBlockedTable(cmd, merged)
	}
	return nil
}

func renderServersTable(cmd *cobra.Command, merged *merge.MergedConfig) {
	names := make([]string, 0, len(merged.Servers))
	for name := range merged.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("SERVER"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("TRANSPORT"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("ORIGIN"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("AUTH"),
	})
	for _, name := range names {
		spec := merged.Servers[name]
		t.AppendRow(table.Row{name, string(spec.Transport), string(spec.Origin), authHint(spec)})
	}
	t.Render()
}

// authHint surfaces the authorization URL a pkce-type upstream would send
// a user to, built via OAuthSpec.ToOAuth2Config. The proxy never drives
// the flow itself; this is purely an operator-facing pointer.
func authHint(spec *specconfig.ServerSpec) string {
	if spec.HTTP == nil || spec.HTTP.OAuth == nil || spec.HTTP.OAuth.Type != "pkce" {
		return "-"
	}
	cfg := spec.HTTP.OAuth.ToOAuth2Config()
	if cfg.Endpoint.AuthURL == "" {
		return "-"
	}
	return pkgstrings.TruncateDescription(cfg.AuthCodeURL("state"), pkgstrings.DefaultDescriptionMaxLen)
}

func renderBlockedTable(cmd *cobra.Command, merged *merge.MergedConfig) {
	names := make([]string, 0, len(merged.BlockedServers))
	for name := range merged.BlockedServers {
		names = append(names, name)
	}
	sort.Strings(names)

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{
		text.Colors{text.FgHiRed, text.Bold}.Sprint("BLOCKED SERVER"),
		text.Colors{text.FgHiRed, text.Bold}.Sprint("REASON"),
	})
	for _, name := range names {
		reason := pkgstrings.TruncateDescription(merged.BlockedServers[name], pkgstrings.DefaultDescriptionMaxLen)
		t.AppendRow(table.Row{name, reason})
	}
	t.Render()
}
