package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// ProviderOrderResult is the JSON shape of provider-order.
type ProviderOrderResult struct {
	ID         int64    `json:"id"`
	ExternalID string   `json:"external_id"`
	Status     string   `json:"status"`
	Total      string   `json:"total"`
	Currency   string   `json:"currency"`
	Tracking   []string `json:"tracking,omitempty"`
}

// NewProviderOrderCommand creates the provider-order command.
func NewProviderOrderCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "provider-order <reference-id>",
		Short: "Show the provider's view of an order",
		Long: `Fetch an order from the provider by its reference id to compare with the
local external order record.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			return rootOpts.withBackend(cmd.Context(), func(backend *Backend) error {
				order, err := backend.Diagnostics.ProviderOrder(cmd.Context(), args[0])
				if err != nil {
					return out.ServiceError(err)
				}
				result := ProviderOrderResult{
					ID:         int64(order.ID),
					ExternalID: string(order.ExternalID),
					Status:     order.Status,
					Total:      order.Costs.Total,
					Currency:   order.Costs.Currency,
				}
				for _, shipment := range order.Shipments {
					result.Tracking = append(result.Tracking, fmt.Sprintf("%s %s", shipment.Carrier, shipment.TrackingNumber))
				}
				return out.Success(result, func(w io.Writer) {
					fmt.Fprintf(w, "Provider order %d (%s): %s, total %s %s\n",
						result.ID, result.ExternalID, result.Status, result.Total, result.Currency)
					for _, tracking := range result.Tracking {
						fmt.Fprintf(w, "  shipped %s\n", tracking)
					}
				})
			})
		},
	}
}
