package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/podbridge/fulfillment/internal/printful"
)

type stubDiagnosticsProvider struct {
	storeFn func(ctx context.Context) (printful.Store, error)
	orderFn func(ctx context.Context, externalID string) (printful.Order, error)
}

func (s stubDiagnosticsProvider) StoreInfo(ctx context.Context) (printful.Store, error) {
	return s.storeFn(ctx)
}

func (s stubDiagnosticsProvider) GetOrder(ctx context.Context, externalID string) (printful.Order, error) {
	return s.orderFn(ctx, externalID)
}

func steppingClock(start time.Time, step time.Duration) func() time.Time {
	current := start
	return func() time.Time {
		now := current
		current = current.Add(step)
		return now
	}
}

func TestTestConnectionSuccess(t *testing.T) {
	svc, err := NewDiagnosticsService(DiagnosticsServiceDeps{
		Provider: stubDiagnosticsProvider{storeFn: func(context.Context) (printful.Store, error) {
			return printful.Store{ID: 42, Name: "Bridge Store"}, nil
		}},
		Clock: steppingClock(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), 120*time.Millisecond),
	})
	if err != nil {
		t.Fatalf("NewDiagnosticsService: %v", err)
	}

	status, err := svc.TestConnection(context.Background())
	if err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
	if !status.OK || status.Store == nil || status.Store.Name != "Bridge Store" || status.Error != nil {
		t.Fatalf("unexpected status %#v", status)
	}
	if status.Latency != 120*time.Millisecond {
		t.Fatalf("unexpected latency %v", status.Latency)
	}
}

func TestTestConnectionReportsProviderErrors(t *testing.T) {
	cases := map[string]struct {
		err        error
		wantStatus int
	}{
		"unauthorized": {err: &printful.Error{Status: 401, Message: "Invalid API key"}, wantStatus: 401},
		"network":      {err: &printful.Error{Status: 0, Message: "network error"}, wantStatus: 0},
		"unstructured": {err: errors.New("dial tcp: refused"), wantStatus: 0},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			svc, _ := NewDiagnosticsService(DiagnosticsServiceDeps{
				Provider: stubDiagnosticsProvider{storeFn: func(context.Context) (printful.Store, error) {
					return printful.Store{}, tc.err
				}},
			})
			status, err := svc.TestConnection(context.Background())
			if err != nil {
				t.Fatalf("TestConnection must not fail: %v", err)
			}
			if status.OK || status.Error == nil || status.Error.Status != tc.wantStatus {
				t.Fatalf("unexpected status %#v", status)
			}
		})
	}
}

func TestProviderOrderMapsNotFound(t *testing.T) {
	svc, _ := NewDiagnosticsService(DiagnosticsServiceDeps{
		Provider: stubDiagnosticsProvider{orderFn: func(_ context.Context, externalID string) (printful.Order, error) {
			if externalID == "order-1001" {
				return printful.Order{ID: 9001, Status: "fulfilled"}, nil
			}
			return printful.Order{}, &printful.Error{Status: 404, Message: "Not found"}
		}},
	})

	order, err := svc.ProviderOrder(context.Background(), " order-1001 ")
	if err != nil || order.ID != 9001 {
		t.Fatalf("unexpected result %#v %v", order, err)
	}
	if _, err := svc.ProviderOrder(context.Background(), "order-404"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
	if _, err := svc.ProviderOrder(context.Background(), ""); !errors.Is(err, ErrFulfillmentInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
