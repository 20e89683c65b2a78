package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

const name = "facetx"

// overridden during build with ldflags
var version = "dev"

func newApp() *cli.Command {
	return &cli.Command{
		Name:    name,
		Usage:   "Aggregation result finalization",
		Version: version,
		Commands: []*cli.Command{
			finalizeCmd(),
		},
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
