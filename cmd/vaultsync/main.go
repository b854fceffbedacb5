package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/thoughtstream/thoughtstream/internal/observability"
	"github.com/thoughtstream/thoughtstream/internal/vault"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func newCLIApp() *cli.App {
	app := &cli.App{
		Name:    "vaultsync",
		Usage:   "Mirror thoughts and conversations into a Markdown vault",
		Version: Version,
		Commands: []*cli.Command{
			{
				Name:  "pull",
				Usage: "Apply every change since the vault's last pull",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "server", Value: "http://localhost:8080", EnvVars: []string{"THOUGHTSTREAM_URL"}, Usage: "Server base URL"},
					&cli.StringFlag{Name: "token", Required: true, EnvVars: []string{"THOUGHTSTREAM_TOKEN"}, Usage: "API token with the read scope"},
					&cli.StringFlag{Name: "dir", Aliases: []string{"d"}, Required: true, Usage: "Vault directory"},
				},
				Action: func(c *cli.Context) error {
					ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
					defer stop()

					syncer := vault.NewSyncer(vault.NewClient(c.String("server"), c.String("token")), c.String("dir"))
					res, err := syncer.Pull(ctx)
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					enc := json.NewEncoder(c.App.Writer)
					enc.SetIndent("", "  ")
					return enc.Encode(res)
				},
			},
		},
	}
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func main() {
	observability.Init(os.Stderr, observability.ParseLevel(os.Getenv("LOG_LEVEL")))
	if err := newCLIApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if exitErr, ok := err.(cli.ExitCoder); ok {
			os.Exit(exitErr.ExitCode())
		}
		os.Exit(1)
	}
}
