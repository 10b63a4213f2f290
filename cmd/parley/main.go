// Package main provides the parley CLI process entrypoint.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rbright/parley/internal/app"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run cancels the command context on SIGINT or SIGTERM so an owner session
// tears down before the process exits.
func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return app.Execute(ctx, args, os.Stdout, os.Stderr)
}
