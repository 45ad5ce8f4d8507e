// clusterrun executes a single shell command on every node in a
// statically configured cluster over SSH and reports each node's output
// and exit status.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/agent462/clusterrun/internal/ssh"
)

// exitCode is set by commands whose aggregate status must become the
// process exit code (nonzero when any node failed or exited nonzero).
var exitCode int

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCmd().ExecuteContext(ctx)

	stop()
	ssh.CloseAgent()

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}
