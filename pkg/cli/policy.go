package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/platinummonkey/chronicle/pkg/document"
)

func newPolicyCommand() *Command {
	cmd := &Command{
		Name:        "policy",
		Description: "Show whether a collection is audited",
		Flags:       flag.NewFlagSet("policy", flag.ContinueOnError),
		Run:         runPolicy,
	}

	cmd.Flags.String("collection", "", "Live collection name (required)")

	return cmd
}

func runPolicy(ctx context.Context, env *Env, args []string) error {
	fs, err := parse(newPolicyCommand, env, args)
	if err != nil {
		return err
	}
	name, err := requireCollection(fs)
	if err != nil {
		return err
	}

	policy := env.DB.Policy()
	fmt.Fprintf(env.Out, "Collection: %s\n", name)
	fmt.Fprintf(env.Out, "Audited:    %t\n", policy.Audited(name))
	fmt.Fprintf(env.Out, "History:    %s\n", policy.HistoryName(name))
	if policy.Audited(name) {
		n, err := env.DB.History(name).Count(ctx, document.Document{})
		if err != nil {
			return fmt.Errorf("failed to count history rows: %w", err)
		}
		fmt.Fprintf(env.Out, "Rows:       %d\n", n)
	}
	return nil
}
