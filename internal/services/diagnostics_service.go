package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/podbridge/fulfillment/internal/printful"
)

// DiagnosticsServiceDeps bundles collaborators required to construct the diagnostics service.
type DiagnosticsServiceDeps struct {
	Provider ProviderDiagnostics
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type diagnosticsService struct {
	provider ProviderDiagnostics
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

var _ DiagnosticsService = (*diagnosticsService)(nil)

// NewDiagnosticsService constructs the operator-facing connectivity checks.
func NewDiagnosticsService(deps DiagnosticsServiceDeps) (DiagnosticsService, error) {
	if deps.Provider == nil {
		return nil, errors.New("diagnostics service: provider client is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &diagnosticsService{
		provider: deps.Provider,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// TestConnection fetches store metadata. Provider failures are reported in the
// status, not as an error.
func (s *diagnosticsService) TestConnection(ctx context.Context) (ConnectionStatus, error) {
	if ctx == nil {
		return ConnectionStatus{}, errors.New("diagnostics service: context is required")
	}

	start := s.clock()
	store, err := s.provider.StoreInfo(ctx)
	checkedAt := s.clock()
	status := ConnectionStatus{
		Latency:   checkedAt.Sub(start),
		CheckedAt: checkedAt,
	}
	if err != nil {
		providerErr, ok := printful.AsError(err)
		if !ok {
			providerErr = &printful.Error{Status: 0, Message: err.Error()}
		}
		status.Error = providerErr
		s.logger(ctx, "diagnostics.connection.failed", map[string]any{
			"status":  providerErr.Status,
			"message": providerErr.Message,
		})
		return status, nil
	}

	status.OK = true
	status.Store = &store
	return status, nil
}

// ProviderOrder fetches the provider's view of an order by reference id.
func (s *diagnosticsService) ProviderOrder(ctx context.Context, referenceID string) (printful.Order, error) {
	referenceID = strings.TrimSpace(referenceID)
	if referenceID == "" {
		return printful.Order{}, newFulfillmentError(KindInvalidInput, "reference id is required", nil)
	}
	order, err := s.provider.GetOrder(ctx, referenceID)
	if err != nil {
		if providerErr, ok := printful.AsError(err); ok && providerErr.Status == 404 {
			return printful.Order{}, newFulfillmentError(KindOrderNotFound,
				fmt.Sprintf("provider has no order for reference %q", referenceID), err)
		}
		return printful.Order{}, newFulfillmentError(KindUnavailable, providerMessage("provider order lookup", err), err)
	}
	return order, nil
}
