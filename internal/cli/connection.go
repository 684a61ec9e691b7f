package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/podbridge/fulfillment/internal/services"
)

// ConnectionResult is the JSON shape of test-connection.
type ConnectionResult struct {
	OK            bool   `json:"ok"`
	StoreID       int64  `json:"store_id,omitempty"`
	StoreName     string `json:"store_name,omitempty"`
	ErrorStatus   int    `json:"error_status,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
	LatencyMillis int64  `json:"latency_ms"`
	CheckedAt     string `json:"checked_at"`
}

// NewTestConnectionCommand creates the test-connection command.
func NewTestConnectionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "test-connection",
		Short: "Check provider credentials and connectivity",
		Long: `Fetch the provider store profile with the configured API key.

Exit codes:
  0 - The provider answered and the key is valid
  1 - The provider rejected the key or could not be reached
  2 - Configuration error`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			return rootOpts.withBackend(cmd.Context(), func(backend *Backend) error {
				status, err := backend.Diagnostics.TestConnection(cmd.Context())
				if err != nil {
					return out.ServiceError(err)
				}
				result := newConnectionResult(status)
				if err := out.Success(result, func(w io.Writer) { writeConnectionText(w, result) }); err != nil {
					return err
				}
				if !result.OK {
					return NewExitError(ExitFailure, "provider connection failed")
				}
				return nil
			})
		},
	}
}

func newConnectionResult(status services.ConnectionStatus) ConnectionResult {
	result := ConnectionResult{
		OK:            status.OK,
		LatencyMillis: status.Latency.Milliseconds(),
		CheckedAt:     status.CheckedAt.UTC().Format(time.RFC3339),
	}
	if status.Store != nil {
		result.StoreID = int64(status.Store.ID)
		result.StoreName = status.Store.Name
	}
	if status.Error != nil {
		result.ErrorStatus = status.Error.Status
		result.ErrorMessage = status.Error.Message
	}
	return result
}

func writeConnectionText(w io.Writer, result ConnectionResult) {
	if result.OK {
		fmt.Fprintf(w, "Connected to store %q (id %d) in %dms\n", result.StoreName, result.StoreID, result.LatencyMillis)
		return
	}
	if result.ErrorStatus == 0 {
		fmt.Fprintf(w, "Connection failed: %s\n", result.ErrorMessage)
		return
	}
	fmt.Fprintf(w, "Connection failed (HTTP %d): %s\n", result.ErrorStatus, result.ErrorMessage)
}
