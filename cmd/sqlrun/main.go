package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sqlrun/sqlrun/internal/runner"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	options := runner.Options{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}

	code := runner.Run(ctx, os.Args[1:], options)
	stop()
	os.Exit(code)
}
