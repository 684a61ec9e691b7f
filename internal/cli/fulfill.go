package cli

import (
	"errors"
	"fmt"
	"io"
	"os/user"
	"strings"

	"github.com/spf13/cobra"

	"github.com/podbridge/fulfillment/internal/services"
)

// FulfillOptions holds flags for the fulfill command.
type FulfillOptions struct {
	*RootOptions
	ShippingMethod string
	Shipping       int64
	Tax            int64
	Actor          string
}

// FulfillResult is the JSON shape of a submission.
type FulfillResult struct {
	ReferenceID     string   `json:"reference_id"`
	ProviderOrderID int64    `json:"provider_order_id"`
	Status          string   `json:"status"`
	Total           string   `json:"total"`
	Currency        string   `json:"currency"`
	Skipped         []string `json:"skipped_items,omitempty"`
	Warning         string   `json:"warning,omitempty"`
}

// NewFulfillCommand creates the fulfill command.
func NewFulfillCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FulfillOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fulfill <order-id>",
		Short: "Submit a pending order to the provider",
		Long: `Estimate and confirm a local order with the provider, then record the
external order.

Shipping and tax overrides are in the order currency's minor units.

Examples:
  fulfillctl fulfill ord_01HZX
  fulfillctl fulfill ord_01HZX --shipping-method STANDARD --shipping 499`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFulfill(opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.ShippingMethod, "shipping-method", "", "provider shipping method")
	cmd.Flags().Int64Var(&opts.Shipping, "shipping", -1, "shipping charged to the buyer, in minor units")
	cmd.Flags().Int64Var(&opts.Tax, "tax", -1, "tax charged to the buyer, in minor units")
	cmd.Flags().StringVar(&opts.Actor, "actor", "", "actor recorded on the submission (defaults to cli:<os user>)")

	return cmd
}

func runFulfill(opts *FulfillOptions, cmd *cobra.Command, orderID string) error {
	out := opts.formatter(cmd)
	ctx := cmd.Context()

	command := services.FulfillCommand{
		OrderID: strings.TrimSpace(orderID),
		ActorID: cliActor(opts.Actor),
		Overrides: services.FulfillmentOverrides{
			ShippingMethod: strings.TrimSpace(opts.ShippingMethod),
		},
	}
	if cmd.Flags().Changed("shipping") {
		if opts.Shipping < 0 {
			return NewExitError(ExitCommandError, "--shipping must not be negative")
		}
		shipping := opts.Shipping
		command.Overrides.Shipping = &shipping
	}
	if cmd.Flags().Changed("tax") {
		if opts.Tax < 0 {
			return NewExitError(ExitCommandError, "--tax must not be negative")
		}
		tax := opts.Tax
		command.Overrides.Tax = &tax
	}

	return opts.withBackend(ctx, func(backend *Backend) error {
		out.VerboseLog("submitting order %s as %s", command.OrderID, command.ActorID)
		result, err := backend.Fulfillment.Fulfill(ctx, command)
		warning := ""
		if err != nil {
			if !errors.Is(err, services.ErrPersistenceFailed) || result.Record.ProviderOrderID == 0 {
				return out.ServiceError(err)
			}
			warning = "persistence_failed"
		}

		summary := FulfillResult{
			ReferenceID:     result.Record.ReferenceID,
			ProviderOrderID: result.Record.ProviderOrderID,
			Status:          string(result.Record.Status),
			Total:           result.Record.Costs.Total,
			Currency:        result.Record.Costs.Currency,
			Warning:         warning,
		}
		for _, skipped := range result.Skipped {
			summary.Skipped = append(summary.Skipped, fmt.Sprintf("%s (%s)", skipped.LineItemID, skipped.Reason))
		}
		return out.Success(summary, func(w io.Writer) {
			fmt.Fprintf(w, "Order %s submitted as provider order %d (%s), total %s %s\n",
				summary.ReferenceID, summary.ProviderOrderID, summary.Status, summary.Total, summary.Currency)
			for _, skipped := range summary.Skipped {
				fmt.Fprintf(w, "  skipped %s\n", skipped)
			}
			if warning != "" {
				fmt.Fprintln(w, "Warning: the provider accepted the order but the local record was not saved")
			}
		})
	})
}

func cliActor(flag string) string {
	if actor := strings.TrimSpace(flag); actor != "" {
		return actor
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return "cli:" + u.Username
	}
	return "cli"
}
