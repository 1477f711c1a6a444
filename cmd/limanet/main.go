package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/limanet/limanet/internal/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "limanet: interrupted")
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "limanet: %v\n", err)
		os.Exit(1)
	}
}
