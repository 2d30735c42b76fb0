// Command rexecd runs the in-memory Remote Execution scheduler core: the
// dispatch matcher, watchdog/timeout fabric, watcher fan-out, and paged
// operation iteration described for a Bazel Remote Execution API
// scheduler. It holds no durable state of its own — the CAS, the action
// cache, and the gRPC transport are external collaborators wired in by
// whatever binary embeds this core for production use.
package main

import (
	"os"

	"github.com/remoteexec/rexecd/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
