package cli

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/platinummonkey/chronicle/pkg/retention"
)

func newPruneCommand() *Command {
	cmd := &Command{
		Name:        "prune",
		Description: "Delete history rows older than a maximum age",
		Flags:       flag.NewFlagSet("prune", flag.ContinueOnError),
		Run:         runPrune,
	}

	cmd.Flags.String("collection", "", "Live collection name (required)")
	cmd.Flags.Duration("max-age", 90*24*time.Hour, "Rows changed longer ago than this are pruned")
	cmd.Flags.Bool("archive", false, "Upload rows to the archive bucket before deleting them")

	return cmd
}

func runPrune(ctx context.Context, env *Env, args []string) error {
	fs, err := parse(newPruneCommand, env, args)
	if err != nil {
		return err
	}
	name, err := requireCollection(fs)
	if err != nil {
		return err
	}
	maxAge, err := time.ParseDuration(flagString(fs, "max-age"))
	if err != nil {
		return fmt.Errorf("invalid -max-age: %w", err)
	}

	opts := []retention.Option{retention.WithLogger(env.Logger)}
	if flagBool(fs, "archive") {
		archiver, err := requireArchiver(env)
		if err != nil {
			return err
		}
		opts = append(opts, retention.WithArchiver(archiver))
	}

	pruner, err := retention.NewPruner(env.DB, retention.Config{
		MaxAge:      maxAge,
		Collections: []string{name},
	}, opts...)
	if err != nil {
		return err
	}
	res, err := pruner.PruneCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to prune %s: %w", name, err)
	}
	fmt.Fprintf(env.Out, "Pruned %d rows changed before %s\n", res.Pruned, res.Cutoff.Format(time.RFC3339))
	if res.ArchiveKey != "" {
		fmt.Fprintf(env.Out, "Archived to %s\n", res.ArchiveKey)
	}
	return nil
}
