package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/thoughtstream/thoughtstream/internal/api"
	"github.com/thoughtstream/thoughtstream/internal/auth"
	"github.com/thoughtstream/thoughtstream/internal/config"
	"github.com/thoughtstream/thoughtstream/internal/errors"
	"github.com/thoughtstream/thoughtstream/internal/mcp"
	"github.com/thoughtstream/thoughtstream/internal/observability"
)

const shutdownTimeout = 30 * time.Second

// newCLIApp creates the CLI application with all commands.
func newCLIApp(cfg *config.Config) *cli.App {
	app := &cli.App{
		Name:    "thoughtstream",
		Usage:   "Capture, enrich and query thoughts",
		Version: Version,
		Commands: []*cli.Command{
			serveCmd(cfg),
			mcpCmd(cfg),
			reindexCmd(cfg),
			tokenCmd(cfg),
			deadLettersCmd(cfg),
			pruneTombstonesCmd(cfg),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// withApp opens the store and services for the duration of fn.
func withApp(c *cli.Context, cfg *config.Config, fn func(*app) error) error {
	a, err := openApp(c.Context, cfg)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer a.Close()
	return fn(a)
}

func serveCmd(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API and the enrichment workers",
		Action: func(c *cli.Context) error {
			if err := cfg.RequireServe(); err != nil {
				return cli.Exit(err.Error(), 1)
			}
			return withApp(c, cfg, func(a *app) error {
				return serve(c.Context, a)
			})
		},
	}
}

func serve(ctx context.Context, a *app) error {
	log := observability.Logger()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:         ":" + a.cfg.HTTPPort,
		Handler:      api.NewRouter(api.NewAPIHandler(a.services, a.cfg.JWTSecret)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // ask waits on the model
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.enricher.Run(gctx)
	})
	g.Go(func() error {
		log.Info("starting server", "addr", srv.Addr, "oracle", a.cfg.OracleProvider)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("could not listen on %s: %w", srv.Addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	log.Info("server exited gracefully")
	return nil
}

func mcpCmd(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the thought tools over MCP stdio",
		Action: func(c *cli.Context) error {
			return withApp(c, cfg, func(a *app) error {
				ctx, cancel := context.WithCancel(c.Context)
				defer cancel()

				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error { return a.enricher.Run(gctx) })
				g.Go(func() error {
					defer cancel()
					return mcp.Run(a.mcpHandlers(), Version)
				})
				return g.Wait()
			})
		},
	}
}

func reindexCmd(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "reindex",
		Usage: "Queue thoughts for enrichment",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "missing-only", Usage: "Only thoughts that were never enriched"},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, cfg, func(a *app) error {
				n, err := a.services.Thoughts.Reindex(c.Context, c.Bool("missing-only"))
				if err != nil {
					return outputError(err)
				}
				return outputJSON(c, map[string]int{"enqueued": n})
			})
		},
	}
}

func tokenCmd(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Mint an API token signed with JWT_SECRET",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "subject", Aliases: []string{"s"}, Value: "owner", Usage: "Token subject"},
			&cli.StringSliceFlag{Name: "scope", Value: cli.NewStringSlice(auth.ScopeRead, auth.ScopeWrite), Usage: "Granted scopes: read, write"},
			&cli.DurationFlag{Name: "ttl", Value: 30 * 24 * time.Hour, Usage: "Token lifetime"},
		},
		Action: func(c *cli.Context) error {
			if cfg.JWTSecret == "" {
				return cli.Exit("JWT_SECRET environment variable is required", 1)
			}
			scopes := c.StringSlice("scope")
			for _, s := range scopes {
				if s != auth.ScopeRead && s != auth.ScopeWrite {
					return outputError(errors.NewValidationf("unknown scope %q", s))
				}
			}
			if c.Duration("ttl") <= 0 {
				return outputError(errors.NewValidation("ttl must be positive"))
			}
			token, err := auth.GenerateJWT(cfg.JWTSecret, c.String("subject"), scopes, c.Duration("ttl"))
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			fmt.Fprintln(c.App.Writer, token)
			return nil
		},
	}
}

func deadLettersCmd(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "dead-letters",
		Usage: "Inspect and retry failed enrichment jobs",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List dead letters, newest first",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 50},
				},
				Action: func(c *cli.Context) error {
					return withApp(c, cfg, func(a *app) error {
						list, err := a.store.ListDeadLetters(c.Context, c.Int("limit"))
						if err != nil {
							return outputError(err)
						}
						return outputJSON(c, map[string]any{"deadLetters": list})
					})
				},
			},
			{
				Name:      "retry",
				Usage:     "Requeue dead letters (all when no seq is given)",
				ArgsUsage: "[seq...]",
				Action: func(c *cli.Context) error {
					seqs := make([]int64, 0, c.NArg())
					for _, arg := range c.Args().Slice() {
						seq, err := strconv.ParseInt(arg, 10, 64)
						if err != nil {
							return outputError(errors.NewValidationf("seq %q is not an integer", arg))
						}
						seqs = append(seqs, seq)
					}
					return withApp(c, cfg, func(a *app) error {
						n, err := a.store.RequeueDeadLetters(c.Context, seqs)
						if err != nil {
							return outputError(err)
						}
						return outputJSON(c, map[string]int64{"requeued": n})
					})
				},
			},
		},
	}
}

func pruneTombstonesCmd(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "prune-tombstones",
		Usage: "Drop tombstones every mirror has synced past",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "before", Required: true, Usage: "Checkpoint in Unix milliseconds; tombstones at or before it are removed"},
		},
		Action: func(c *cli.Context) error {
			before := c.Int64("before")
			if before <= 0 {
				return outputError(errors.NewValidation("before must be a positive timestamp in milliseconds"))
			}
			return withApp(c, cfg, func(a *app) error {
				n, err := a.store.PruneTombstones(c.Context, before)
				if err != nil {
					return outputError(err)
				}
				return outputJSON(c, map[string]int64{"pruned": n})
			})
		},
	}
}

// outputJSON writes v as indented JSON.
func outputJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats err for the terminal.
func outputError(err error) error {
	code, _, msg := errors.PublicMessage(err, "")
	if code == errors.ErrInternal {
		observability.Logger().Error("command failed", "error", err)
	}
	return cli.Exit(fmt.Sprintf("[%s] %s", code, msg), 1)
}

