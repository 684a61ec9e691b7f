package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/podbridge/fulfillment/internal/services"
)

// WebhookListOptions holds flags for webhooks list.
type WebhookListOptions struct {
	*RootOptions
	ReferenceID string
	Type        string
	Unprocessed bool
	Limit       int
}

// WebhookEventRow is one audit row in list output.
type WebhookEventRow struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	ReferenceID  string `json:"reference_id,omitempty"`
	Processed    bool   `json:"processed"`
	ErrorMessage string `json:"error_message,omitempty"`
	ReceivedAt   string `json:"received_at"`
}

// ReplayResult is the JSON shape of webhooks replay.
type ReplayResult struct {
	SourceEventID string `json:"source_event_id"`
	EventID       string `json:"event_id"`
	Type          string `json:"type"`
	Processed     bool   `json:"processed"`
	ErrorMessage  string `json:"error_message,omitempty"`
	OrderStatus   string `json:"order_status,omitempty"`
	AuditFailed   bool   `json:"audit_failed,omitempty"`
}

// NewWebhooksCommand groups the audit log commands.
func NewWebhooksCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhooks",
		Short: "Inspect and replay provider webhook deliveries",
	}
	cmd.AddCommand(newWebhooksListCommand(rootOpts))
	cmd.AddCommand(newWebhooksReplayCommand(rootOpts))
	return cmd
}

func newWebhooksListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WebhookListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List audited webhook deliveries, newest first",
		Long: `List audited webhook deliveries, newest first.

Examples:
  fulfillctl webhooks list --reference ord_01HZX
  fulfillctl webhooks list --unprocessed --limit 20 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWebhooksList(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ReferenceID, "reference", "", "only deliveries for this reference id")
	cmd.Flags().StringVar(&opts.Type, "type", "", "only deliveries of this event type")
	cmd.Flags().BoolVar(&opts.Unprocessed, "unprocessed", false, "only deliveries that were not applied")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "maximum rows to return (max 500)")

	return cmd
}

func runWebhooksList(opts *WebhookListOptions, cmd *cobra.Command) error {
	if opts.Limit < 0 {
		return NewExitError(ExitCommandError, "--limit must not be negative")
	}
	out := opts.formatter(cmd)
	ctx := cmd.Context()

	return opts.withBackend(ctx, func(backend *Backend) error {
		events, err := backend.Audit.ListEvents(ctx, services.WebhookEventFilter{
			ReferenceID: opts.ReferenceID,
			Type:        opts.Type,
			Unprocessed: opts.Unprocessed,
			Limit:       opts.Limit,
		})
		if err != nil {
			return out.ServiceError(err)
		}

		rows := make([]WebhookEventRow, 0, len(events))
		for _, event := range events {
			row := WebhookEventRow{
				ID:           event.ID,
				Type:         event.Type,
				Processed:    event.Processed,
				ErrorMessage: event.ErrorMessage,
				ReceivedAt:   event.ReceivedAt.UTC().Format(time.RFC3339),
			}
			if event.ReferenceID != nil {
				row.ReferenceID = *event.ReferenceID
			}
			rows = append(rows, row)
		}

		return out.Success(rows, func(w io.Writer) {
			if len(rows) == 0 {
				fmt.Fprintln(w, "No webhook events found")
				return
			}
			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tREFERENCE\tPROCESSED\tRECEIVED\tERROR")
			for _, row := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\n",
					row.ID, row.Type, dash(row.ReferenceID), row.Processed, row.ReceivedAt, dash(row.ErrorMessage))
			}
			_ = tw.Flush()
		})
	})
}

func newWebhooksReplayCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <event-id>",
		Short: "Feed a stored delivery through the reconciler again",
		Long: `Feed a stored delivery through the reconciler again. The replay is audited
as a new delivery.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			ctx := cmd.Context()
			return rootOpts.withBackend(ctx, func(backend *Backend) error {
				outcome, err := backend.Audit.Replay(ctx, args[0])
				auditFailed := false
				if err != nil {
					if !errors.Is(err, services.ErrWebhookAuditFailed) {
						return out.ServiceError(err)
					}
					auditFailed = true
				}
				result := ReplayResult{
					SourceEventID: args[0],
					EventID:       outcome.EventID,
					Type:          outcome.Type,
					Processed:     outcome.Processed,
					ErrorMessage:  outcome.ErrorMessage,
					OrderStatus:   string(outcome.OrderStatus),
					AuditFailed:   auditFailed,
				}
				return out.Success(result, func(w io.Writer) {
					state := "applied"
					if !result.Processed {
						state = "not applied: " + result.ErrorMessage
					}
					fmt.Fprintf(w, "Replayed %s as %s (%s) %s\n", result.SourceEventID, result.EventID, result.Type, state)
					if result.AuditFailed {
						fmt.Fprintln(w, "Warning: the replay was not written to the audit log")
					}
				})
			})
		},
	}
}

func dash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}
