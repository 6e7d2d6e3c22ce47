// Command fluxgate runs the distributed ingestion and serving engine: the
// scheduler, rate limiter, and WebSocket fan-out wired together per
// SPEC_FULL.md, behind a Cobra command tree mirroring the teacher's own
// cmd/gastrolog CLI shape (a root command plus start/config/instance
// subcommands).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fluxgate",
		Short: "Distributed ingestion and serving engine",
	}
	root.AddCommand(newStartCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newInstanceCmd())
	return root
}
