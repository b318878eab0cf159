// Command searchctl runs one hybrid search from the terminal through the same
// pipeline the API uses.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(bootstrapService).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
