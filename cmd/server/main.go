package main

import (
	"fmt"
	"os"

	"github.com/thoughtstream/thoughtstream/internal/config"
	"github.com/thoughtstream/thoughtstream/internal/observability"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Logs go to stderr: stdout carries command output and the MCP transport.
	observability.Init(os.Stderr, cfg.SlogLevel())

	if err := newCLIApp(cfg).Run(os.Args); err != nil {
		if exitErr, ok := err.(interface{ ExitCode() int }); ok {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(exitErr.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
