package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ica-mcp-proxy/internal/merge"
	"ica-mcp-proxy/internal/metrics"
	"ica-mcp-proxy/internal/mirror"
	"ica-mcp-proxy/internal/policy"
	"ica-mcp-proxy/internal/pool"
	"ica-mcp-proxy/internal/proxyserver"
	"ica-mcp-proxy/pkg/logging"
)

// configError wraps a failure to load the merged server configuration at
// startup, reported to the CLI as ExitCodeConfigError.
type configError struct{ cause error }

func (e *configError) Error() string { return fmt.Sprintf("loading config: %v", e.cause) }
func (e *configError) Unwrap() error { return e.cause }

// transportError wraps a fatal failure of the downstream stdio transport,
// reported to the CLI as ExitCodeTransportError.
type transportError struct{ cause error }

func (e *transportError) Error() string { return fmt.Sprintf("serving downstream transport: %v", e.cause) }
func (e *transportError) Unwrap() error { return e.cause }

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the stdio MCP proxy loop",
		Long: `Starts the proxy: loads the merged server configuration, discovers
upstream tools, and serves the aggregated tool set over stdio until the
process is terminated.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	pol := policy.Snapshot()
	logging.Init(logging.ParseLogLevel(pol.LogLevel), logging.ParseFormat(pol.LogFormat), os.Stderr)

	cwd, err := os.Getwd()
	if err != nil {
		return &configError{cause: err}
	}

	merger := merge.NewMerger()
	merged, err := merger.LoadServersMerged(cwd)
	if err != nil {
		return &configError{cause: err}
	}

	var m *metrics.Metrics
	if pol.MetricsAddr != "" {
		m, err = metrics.New()
		if err != nil {
			return &configError{cause: fmt.Errorf("initializing metrics: %w", err)}
		}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if m != nil {
		go func() {
			if err := metrics.Serve(ctx, pol.MetricsAddr, m); err != nil {
				logging.Warn("serve", "metrics server stopped: %v", err)
			}
		}()
	}

	p := pool.New(merged.Servers, pool.Config{
		DefaultTimeout: pol.RequestTimeout,
		InitTimeout:    pol.RequestTimeout,
		IdleTTL:        pol.IdleTTL,
		DisablePooling: pol.DisablePooling,
		PoolStdio:      pol.PoolStdio,
	}, m)
	defer p.Shutdown(context.Background(), pol.RequestTimeout)

	mir := mirror.New(merged, p, m)
	ps := proxyserver.New(merger, mir)

	if err := ps.Serve(ctx); err != nil {
		return &transportError{cause: err}
	}
	return nil
}
