package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/platinummonkey/chronicle/pkg/archive"
)

func newArchiveCommand() *Command {
	cmd := &Command{
		Name:        "archive",
		Description: "Upload history rows to the archive bucket",
		Flags:       flag.NewFlagSet("archive", flag.ContinueOnError),
		Run:         runArchive,
	}

	cmd.Flags.String("collection", "", "Live collection name (required)")
	cmd.Flags.String("before", "", "Only rows changed before this RFC 3339 time")
	cmd.Flags.Bool("delete", false, "Delete archived rows from the history collection")
	cmd.Flags.Bool("list", false, "List existing archives instead of creating one")

	return cmd
}

func runArchive(ctx context.Context, env *Env, args []string) error {
	fs, err := parse(newArchiveCommand, env, args)
	if err != nil {
		return err
	}
	name, err := requireCollection(fs)
	if err != nil {
		return err
	}
	archiver, err := requireArchiver(env)
	if err != nil {
		return err
	}

	if flagBool(fs, "list") {
		keys, err := archiver.List(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to list archives: %w", err)
		}
		for _, key := range keys {
			fmt.Fprintln(env.Out, key)
		}
		return nil
	}

	before, err := parseBefore(fs)
	if err != nil {
		return err
	}
	res, err := archiver.Archive(ctx, name, env.DB.History(name).Live(), archive.Options{
		Before:         before,
		DeleteArchived: flagBool(fs, "delete"),
	})
	if err != nil {
		return fmt.Errorf("failed to archive %s: %w", name, err)
	}
	if res.Rows == 0 {
		fmt.Fprintf(env.Out, "Nothing to archive for %s\n", name)
		return nil
	}
	fmt.Fprintf(env.Out, "Archived %d rows (%d bytes) to %s\n", res.Rows, res.Bytes, res.Key)
	if res.Deleted > 0 {
		fmt.Fprintf(env.Out, "Deleted %d rows from %s\n", res.Deleted, env.DB.Policy().HistoryName(name))
	}
	return nil
}

func newRestoreCommand() *Command {
	cmd := &Command{
		Name:        "restore",
		Description: "Insert archived history rows back into a history collection",
		Flags:       flag.NewFlagSet("restore", flag.ContinueOnError),
		Run:         runRestore,
	}

	cmd.Flags.String("collection", "", "Live collection name (required)")
	cmd.Flags.String("key", "", "Archive object key (required)")

	return cmd
}

func runRestore(ctx context.Context, env *Env, args []string) error {
	fs, err := parse(newRestoreCommand, env, args)
	if err != nil {
		return err
	}
	name, err := requireCollection(fs)
	if err != nil {
		return err
	}
	key := flagString(fs, "key")
	if key == "" {
		return fmt.Errorf("-key is required")
	}
	archiver, err := requireArchiver(env)
	if err != nil {
		return err
	}

	n, err := archiver.Restore(ctx, key, env.DB.History(name).Live())
	if err != nil {
		return fmt.Errorf("failed to restore %s: %w", key, err)
	}
	fmt.Fprintf(env.Out, "Restored %d rows into %s\n", n, env.DB.Policy().HistoryName(name))
	return nil
}
