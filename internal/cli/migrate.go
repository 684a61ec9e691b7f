package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewMigrateCommand creates the migrate command for the Postgres store.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the Postgres schema",
		Long: `Apply or roll back the embedded Postgres migrations using
FULFILLMENT_POSTGRES_DSN. Firestore and memory stores need no migrations.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:           "up",
		Short:         "Apply all pending migrations",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rootOpts.deps.MigrateUp == nil {
				return NewExitError(ExitCommandError, "migrations not configured")
			}
			out := rootOpts.formatter(cmd)
			if err := rootOpts.deps.MigrateUp(cmd.Context()); err != nil {
				_ = out.Error("migrate_failed", err.Error(), nil)
				return WrapExitError(ExitFailure, "migrate up", err)
			}
			return out.Success(map[string]string{"direction": "up"}, func(w io.Writer) {
				fmt.Fprintln(w, "Migrations applied")
			})
		},
	})

	var steps int
	down := &cobra.Command{
		Use:           "down",
		Short:         "Roll back migrations",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rootOpts.deps.MigrateDown == nil {
				return NewExitError(ExitCommandError, "migrations not configured")
			}
			if steps < 1 {
				return NewExitError(ExitCommandError, "--steps must be at least 1")
			}
			out := rootOpts.formatter(cmd)
			if err := rootOpts.deps.MigrateDown(cmd.Context(), steps); err != nil {
				_ = out.Error("migrate_failed", err.Error(), nil)
				return WrapExitError(ExitFailure, "migrate down", err)
			}
			return out.Success(map[string]any{"direction": "down", "steps": steps}, func(w io.Writer) {
				fmt.Fprintf(w, "Rolled back %d migration(s)\n", steps)
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	cmd.AddCommand(down)

	return cmd
}
