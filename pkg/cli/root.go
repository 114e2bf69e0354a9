package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/chronicle/pkg/archive"
	"github.com/platinummonkey/chronicle/pkg/chronicle"
)

// Env holds what commands run against.
type Env struct {
	DB       *chronicle.DB
	Archiver *archive.Archiver // nil when no bucket is configured
	Out      io.Writer
	Logger   *logrus.Logger
}

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(ctx context.Context, env *Env, args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// NewRootCommand creates the root command
func NewRootCommand() *Command {
	root := &Command{
		Name:        "chronicle",
		Description: "Chronicle - audited document history CLI",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("chronicle", flag.ContinueOnError),
	}

	for _, cmd := range []*Command{
		newHistoryCommand(),
		newExportCommand(),
		newArchiveCommand(),
		newRestoreCommand(),
		newPruneCommand(),
		newPolicyCommand(),
	} {
		root.Subcommands[cmd.Name] = cmd
	}

	return root
}

// Execute runs the subcommand named by args[0]
func (c *Command) Execute(ctx context.Context, env *Env, args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		return c.usage(env.Out)
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(ctx, env, args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage(out io.Writer) error {
	fmt.Fprintf(out, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(out, "Commands:\n")
	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

// parse builds a fresh flag set for cmd and parses args into it.
func parse(newCmd func() *Command, env *Env, args []string) (*flag.FlagSet, error) {
	cmd := newCmd()
	cmd.Flags.SetOutput(env.Out)
	if err := cmd.Flags.Parse(args); err != nil {
		return nil, err
	}
	return cmd.Flags, nil
}

func flagString(fs *flag.FlagSet, name string) string {
	return fs.Lookup(name).Value.String()
}

func flagBool(fs *flag.FlagSet, name string) bool {
	return fs.Lookup(name).Value.String() == "true"
}

func requireCollection(fs *flag.FlagSet) (string, error) {
	name := flagString(fs, "collection")
	if name == "" {
		return "", fmt.Errorf("-collection is required")
	}
	return name, nil
}

// parseBefore parses an optional RFC 3339 cutoff.
func parseBefore(fs *flag.FlagSet) (time.Time, error) {
	raw := flagString(fs, "before")
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid -before %q: %w", raw, err)
	}
	return t.UTC(), nil
}

func requireArchiver(env *Env) (*archive.Archiver, error) {
	if env.Archiver == nil {
		return nil, fmt.Errorf("no archive bucket configured (set CHRONICLE_S3_BUCKET)")
	}
	return env.Archiver, nil
}
