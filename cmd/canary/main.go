// Package main implements the canary CLI. It instruments C sources with
// location probes, builds control-flow automata for their functions and
// correlates recorded traces with them to find which tests cover which nodes.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/l3aro/canary/cmd/canary/commands"
)

var (
	version   = "dev"
	buildTime = ""
)

func main() {
	commands.SetVersion(version, buildTime)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := commands.Execute(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
