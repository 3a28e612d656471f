// Command fixture runs the stdio test fixture upstream standalone, for
// integration tests that exec a real subprocess through internal/upstream
// rather than talking to internal/fixture in-process.
package main

import (
	"context"
	"fmt"
	"os"

	"ica-mcp-proxy/internal/fixture"
)

func main() {
	if err := fixture.Run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
