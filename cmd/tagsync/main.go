// Command tagsync applies tag pairing changes to a SQLite store and the
// perftags index engine as one cross-store transaction.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/roach88/tagsync/internal/cli"
)

func main() {
	os.Exit(mainImpl())
}

func mainImpl() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	return cli.Execute(ctx)
}
