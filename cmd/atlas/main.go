// Command atlas tracks Norwegian administrative units through their changes.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/roach88/atlas/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.NewRootCommand().ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}
	if !cli.IsReported(err) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	// Errors cobra raises itself (unknown flags, missing arguments) are
	// usage errors.
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) {
		os.Exit(cli.ExitCommandError)
	}
	os.Exit(exitErr.Code)
}
