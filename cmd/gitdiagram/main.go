package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"gitdiagram/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cli.Run(ctx)
	stop()
	os.Exit(code)
}
