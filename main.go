// Command frontgate is a reverse-proxy micro-orchestrator: it reloads a
// declarative manifest whenever an admin endpoint triggers a reconciliation,
// reconciles container backends against it through
// the Docker Engine API, and proxies incoming HTTP/HTTPS requests to the
// backends it started.
package main

import (
	"context"
	"fmt"
	"os"

	"front.evalgo.org/cli"
)

func main() {
	if err := cli.RootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
