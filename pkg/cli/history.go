package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/platinummonkey/chronicle/pkg/audit"
	"github.com/platinummonkey/chronicle/pkg/document"
	"github.com/platinummonkey/chronicle/pkg/httputil"
	"github.com/platinummonkey/chronicle/pkg/storage"
	"github.com/platinummonkey/chronicle/pkg/versioning"
)

func newHistoryCommand() *Command {
	cmd := &Command{
		Name:        "history",
		Description: "Print the history of one document",
		Flags:       flag.NewFlagSet("history", flag.ContinueOnError),
		Run:         runHistory,
	}

	cmd.Flags.String("collection", "", "Live collection name (required)")
	cmd.Flags.String("id", "", "Document id (required)")
	cmd.Flags.String("id-type", httputil.IDKindAuto, "Id type: auto, objectid, int or string")
	cmd.Flags.String("format", string(audit.ExportFormatJSON), "Output format: json, ndjson or csv")

	return cmd
}

func runHistory(ctx context.Context, env *Env, args []string) error {
	fs, err := parse(newHistoryCommand, env, args)
	if err != nil {
		return err
	}
	name, err := requireCollection(fs)
	if err != nil {
		return err
	}
	rawID := flagString(fs, "id")
	if rawID == "" {
		return fmt.Errorf("-id is required")
	}
	id, err := httputil.ParseID(rawID, flagString(fs, "id-type"))
	if err != nil {
		return err
	}
	format, err := audit.ParseExportFormat(flagString(fs, "format"))
	if err != nil {
		return err
	}

	rows, err := env.DB.Collection(name).History(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}
	return writeRows(env, rows, format, "")
}

func newExportCommand() *Command {
	cmd := &Command{
		Name:        "export",
		Description: "Export a history collection",
		Flags:       flag.NewFlagSet("export", flag.ContinueOnError),
		Run:         runExport,
	}

	cmd.Flags.String("collection", "", "Live collection name (required)")
	cmd.Flags.String("before", "", "Only rows changed before this RFC 3339 time")
	cmd.Flags.String("format", string(audit.ExportFormatNDJSON), "Output format: json, ndjson or csv")
	cmd.Flags.Int64("limit", 0, "Maximum number of rows (0 for all)")
	cmd.Flags.String("out", "", "Output file (default stdout)")

	return cmd
}

func runExport(ctx context.Context, env *Env, args []string) error {
	fs, err := parse(newExportCommand, env, args)
	if err != nil {
		return err
	}
	name, err := requireCollection(fs)
	if err != nil {
		return err
	}
	before, err := parseBefore(fs)
	if err != nil {
		return err
	}
	format, err := audit.ParseExportFormat(flagString(fs, "format"))
	if err != nil {
		return err
	}
	limit, err := strconv.ParseInt(flagString(fs, "limit"), 10, 64)
	if err != nil || limit < 0 {
		return fmt.Errorf("invalid -limit %q", flagString(fs, "limit"))
	}

	filter := document.Document{}
	if !before.IsZero() {
		filter = document.New(versioning.LastChangeField, document.New("$lt", before))
	}
	rows, err := env.DB.Collection(name).FindHistory(ctx, filter, storage.FindOptions{
		Sort:  document.New(versioning.LastChangeField, 1),
		Limit: limit,
	})
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}
	return writeRows(env, rows, format, flagString(fs, "out"))
}

func writeRows(env *Env, rows []document.Document, format audit.ExportFormat, path string) error {
	data, err := audit.Export(rows, format)
	if err != nil {
		return fmt.Errorf("failed to export: %w", err)
	}
	if path == "" {
		_, err = env.Out.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Fprintf(env.Out, "Exported %d rows to %s\n", len(rows), path)
	return nil
}
