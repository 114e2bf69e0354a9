package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/platinummonkey/chronicle/pkg/cli"
	"github.com/platinummonkey/chronicle/pkg/config"
	"github.com/platinummonkey/chronicle/pkg/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	rootCmd := cli.NewRootCommand()
	args := os.Args[1:]
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		return rootCmd.Execute(context.Background(), &cli.Env{Out: os.Stdout}, args)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel.String(), os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := cli.NewEnv(ctx, cfg, os.Stdout, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := env.Close(context.Background()); err != nil {
			logger.WithError(err).Warn("Failed to close storage")
		}
	}()

	return rootCmd.Execute(ctx, env, args)
}
