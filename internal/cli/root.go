package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/podbridge/fulfillment/internal/services"
)

// Backend is the set of services commands operate on.
type Backend struct {
	Fulfillment services.FulfillmentService
	Audit       services.WebhookAuditService
	Diagnostics services.DiagnosticsService
	Close       func(context.Context) error
}

// Dependencies lets the entrypoint decide how services and migrations are built.
type Dependencies struct {
	Open        func(ctx context.Context) (*Backend, error)
	MigrateUp   func(ctx context.Context) error
	MigrateDown func(ctx context.Context, steps int) error
}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	deps Dependencies
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the fulfillctl root command.
func NewRootCommand(deps Dependencies) *cobra.Command {
	opts := &RootOptions{deps: deps}

	cmd := &cobra.Command{
		Use:   "fulfillctl",
		Short: "Operate the print-on-demand fulfillment bridge",
		Long: `fulfillctl runs operator tasks against the fulfillment bridge: provider
connection checks, manual order submission, webhook audit inspection and replay,
and Postgres schema migrations.

Configuration is read from the same FULFILLMENT_* environment as the API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewTestConnectionCommand(opts))
	cmd.AddCommand(NewFulfillCommand(opts))
	cmd.AddCommand(NewProviderOrderCommand(opts))
	cmd.AddCommand(NewWebhooksCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))

	return cmd
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// withBackend opens the backend, runs fn, and always closes it.
func (o *RootOptions) withBackend(ctx context.Context, fn func(*Backend) error) error {
	if o.deps.Open == nil {
		return NewExitError(ExitCommandError, "backend not configured")
	}
	backend, err := o.deps.Open(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to initialise backend", err)
	}
	defer func() {
		if backend.Close != nil {
			_ = backend.Close(context.WithoutCancel(ctx))
		}
	}()
	return fn(backend)
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
