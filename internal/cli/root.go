// Package cli implements schedctl, the operator tool for seeding and
// inspecting the schedule catalog directly in the coordination store.
package cli

import (
	"context"
	"io"
	"log/slog"

	"github.com/ErlanBelekov/workflow-scheduler/internal/coord"
	"github.com/spf13/cobra"
)

// Opener connects to the coordination store. The returned func releases it.
type Opener func(ctx context.Context, databaseURL string) (coord.Store, func(), error)

type rootOptions struct {
	databaseURL string
	jsonOutput  bool
}

func NewRootCmd(open Opener, stdout io.Writer) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "schedctl",
		Short:         "Inspect and seed the workflow schedule catalog",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(stdout)

	cmd.PersistentFlags().StringVar(&opts.databaseURL, "database-url", "", "Postgres URL of the coordination store (default $DATABASE_URL)")
	cmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "Output in JSON format")

	withStore := func(ctx context.Context, fn func(store coord.Store) error) error {
		store, release, err := open(ctx, opts.databaseURL)
		if err != nil {
			return err
		}
		defer release()
		return fn(store)
	}

	cmd.AddCommand(
		newSeedCmd(withStore),
		newSchedulesCmd(withStore, opts),
		newExecutionsCmd(withStore),
		newTokenCmd(),
	)

	return cmd
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
