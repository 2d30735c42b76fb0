// Package cli provides the rexecd command-line interface.
package cli

import (
	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:     "rexecd",
	Short:   "In-memory Remote Execution scheduler core",
	Version: Version,
	Long: `rexecd runs the operation lifecycle engine for a Bazel Remote
Execution API scheduler: the dispatch matcher, watchdog/timeout fabric,
watcher fan-out, and paged operation iteration. It holds no durable
state — every queue, operation record, and watcher registration lives
in process memory for the life of the run.`,
}

// Execute runs the root command and returns an exit code. The caller
// (main) should call os.Exit with this code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
