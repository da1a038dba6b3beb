package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/openjobspec/ojs-jobrunner/cmd/ojs-jobrunner/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Exit(cmd.Execute(ctx))
}
