package main

import (
	"context"
	"fmt"

	"github.com/Sternrassler/respcache/internal/config"
	"github.com/Sternrassler/respcache/pkg/cache"
	"github.com/Sternrassler/respcache/pkg/logging"
	"github.com/Sternrassler/respcache/pkg/redisconn"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type app struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "respcache",
		Short:         "Versioned, stampede-resistant HTTP response cache",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "optional config file (yaml, json, toml or env)")

	root.AddCommand(
		a.serveCmd(),
		a.bumpCmd(),
		a.invalidateCmd(),
		a.flushCmd(),
		versionCmd(),
	)
	return root
}

func (a *app) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, err
	}
	logging.Setup(cfg.Logging())
	return cfg, nil
}

// withEngine runs fn against an engine connected to the configured Redis.
// Administrative commands need Redis, so an unreachable server is an error.
func (a *app) withEngine(ctx context.Context, fn func(ctx context.Context, engine *cache.Engine) error) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	logger := logging.NewLogger("admin")

	client, err := redisconn.Connect(ctx, cfg.Redis(), logger)
	if err != nil {
		client.Close()
		return err
	}
	defer client.Close()

	engine, err := cache.New(cfg.Engine(client), cache.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("create cache engine: %w", err)
	}
	defer engine.Close()

	return fn(ctx, engine)
}

func (a *app) bumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bump <class>",
		Short: "Invalidate every cached response of a resource class",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd.Context(), func(ctx context.Context, engine *cache.Engine) error {
				class, err := engine.Resolver().Parse(args[0])
				if err != nil {
					return err
				}
				v, ok := engine.BumpVersion(ctx, class)
				if !ok {
					return fmt.Errorf("bump %s: version store unavailable", class)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: version %d\n", class, v)
				return nil
			})
		},
	}
}

func (a *app) invalidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate <pattern>",
		Short: "Delete cached responses whose key matches a glob pattern",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd.Context(), func(ctx context.Context, engine *cache.Engine) error {
				n, err := engine.InvalidateByPattern(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d keys\n", n)
				return nil
			})
		},
	}
}

func (a *app) flushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Drop every cached response and reset all versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd.Context(), func(ctx context.Context, engine *cache.Engine) error {
				if err := engine.FlushAll(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "cache flushed")
				return nil
			})
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "respcache %s\n", version)
		},
	}
}
