package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fleetsight-systems/fleetsight/internal/commands"
)

func main() {
	// Long-running fits abort cleanly on SIGINT/SIGTERM; a cancelled fit
	// never publishes a partial model run.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := commands.Execute(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fleetsight: %v\n", err)
		os.Exit(1)
	}
}
