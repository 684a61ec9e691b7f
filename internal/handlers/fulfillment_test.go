package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/podbridge/fulfillment/internal/domain"
	"github.com/podbridge/fulfillment/internal/platform/auth"
	"github.com/podbridge/fulfillment/internal/platform/idempotency"
	"github.com/podbridge/fulfillment/internal/printful"
	"github.com/podbridge/fulfillment/internal/services"
)

type stubFulfillmentService struct {
	fulfillFn func(context.Context, services.FulfillCommand) (services.FulfillmentResult, error)
}

func (s *stubFulfillmentService) Fulfill(ctx context.Context, cmd services.FulfillCommand) (services.FulfillmentResult, error) {
	if s.fulfillFn != nil {
		return s.fulfillFn(ctx, cmd)
	}
	return services.FulfillmentResult{}, errors.New("not implemented")
}

func withTestIdentity(identity *auth.Identity) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if identity != nil {
				r = r.WithContext(auth.WithIdentity(r.Context(), identity))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func sellerIdentity(subject string, roles ...string) *auth.Identity {
	return &auth.Identity{Kind: auth.PrincipalSeller, Subject: subject, Roles: roles}
}

func sampleResult() services.FulfillmentResult {
	created := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	return services.FulfillmentResult{
		Record: domain.ExternalOrderRecord{
			ReferenceID:     "ord_1",
			LocalOrderID:    "ord_1",
			ProviderOrderID: 9001,
			Status:          domain.ExternalStatusPending,
			Costs:           domain.CostBreakdown{Currency: "USD", Subtotal: "20.00", Discount: "0.00", Shipping: "4.99", Tax: "0.00", Total: "24.99"},
			Items: []domain.SubmittedItem{
				{LineItemID: "li_1", ProductID: "prod_1", VariantID: 4012, Quantity: 2, RetailPrice: "10.00"},
			},
			CreatedAt: created,
			UpdatedAt: created,
		},
		Estimate: printful.CostEstimate{Costs: printful.Costs{Currency: "USD", Subtotal: "13.50", Total: "18.49"}},
		Skipped:  []services.SkippedItem{{LineItemID: "li_2", ProductID: "prod_2", Reason: "unmapped variant"}},
	}
}

func newFulfillmentRouter(svc services.FulfillmentService, identity *auth.Identity, opts ...FulfillmentOption) http.Handler {
	handlers := NewFulfillmentHandlers(nil, svc, opts...)
	return NewRouter(WithMiddlewares(withTestIdentity(identity)), WithOrderRoutes(handlers.Routes))
}

func TestFulfillmentHandlers_Success(t *testing.T) {
	var got services.FulfillCommand
	svc := &stubFulfillmentService{
		fulfillFn: func(_ context.Context, cmd services.FulfillCommand) (services.FulfillmentResult, error) {
			got = cmd
			return sampleResult(), nil
		},
	}
	router := newFulfillmentRouter(svc, sellerIdentity("seller_1", auth.RoleSeller))

	body := `{"recipient":{"name":" Ada ","country_code":"gb"},"shipping_method":"STANDARD","shipping":499}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/ord_1/fulfillment", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.OrderID != "ord_1" || got.SellerID != "seller_1" || got.ActorID == "" {
		t.Fatalf("unexpected command: %+v", got)
	}
	if got.Overrides.Recipient == nil || got.Overrides.Recipient.Name != "Ada" {
		t.Fatalf("expected trimmed recipient override, got %+v", got.Overrides.Recipient)
	}
	if got.Overrides.Shipping == nil || *got.Overrides.Shipping != 499 || got.Overrides.ShippingMethod != "STANDARD" {
		t.Fatalf("unexpected overrides: %+v", got.Overrides)
	}

	var resp struct {
		ExternalOrder struct {
			ReferenceID     string `json:"reference_id"`
			ProviderOrderID int64  `json:"provider_order_id"`
			Status          string `json:"status"`
		} `json:"external_order"`
		Estimate struct {
			Total string `json:"total"`
		} `json:"estimate"`
		Skipped []struct {
			LineItemID string `json:"line_item_id"`
		} `json:"skipped_items"`
		Warning string `json:"warning"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ExternalOrder.ProviderOrderID != 9001 || resp.ExternalOrder.Status != "pending" {
		t.Fatalf("unexpected external order: %+v", resp.ExternalOrder)
	}
	if resp.Estimate.Total != "18.49" || len(resp.Skipped) != 1 || resp.Warning != "" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestFulfillmentHandlers_OperatorNotScoped(t *testing.T) {
	var got services.FulfillCommand
	svc := &stubFulfillmentService{
		fulfillFn: func(_ context.Context, cmd services.FulfillCommand) (services.FulfillmentResult, error) {
			got = cmd
			return sampleResult(), nil
		},
	}
	router := newFulfillmentRouter(svc, sellerIdentity("op_1", auth.RoleOperator))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/orders/ord_1/fulfillment", nil))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	if got.SellerID != "" {
		t.Fatalf("expected operator submission to be unscoped, got %q", got.SellerID)
	}
}

func TestFulfillmentHandlers_ErrorMapping(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		wantStatus     int
		wantCode       string
		wantProvider   float64
		wantKind       string
		expectProvider bool
	}{
		{
			name:       "not found",
			err:        &services.FulfillmentError{Kind: services.KindOrderNotFound, Message: "order ord_1 not found"},
			wantStatus: http.StatusNotFound,
			wantCode:   "order_not_found",
			wantKind:   "OrderNotFound",
		},
		{
			name:       "no fulfillable items",
			err:        &services.FulfillmentError{Kind: services.KindNoFulfillableItems, Message: "no items"},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "no_fulfillable_items",
			wantKind:   "NoFulfillableItems",
		},
		{
			name:       "conflict",
			err:        &services.FulfillmentError{Kind: services.KindConflict, Message: "already submitted"},
			wantStatus: http.StatusConflict,
			wantCode:   "fulfillment_conflict",
			wantKind:   "Conflict",
		},
		{
			name: "estimation failed",
			err: &services.FulfillmentError{
				Kind:     services.KindEstimationFailed,
				Message:  "Recipient address is invalid",
				Provider: &printful.Error{Status: 400, Message: "Recipient address is invalid"},
			},
			wantStatus:     http.StatusBadGateway,
			wantCode:       "estimation_failed",
			wantKind:       "EstimationFailed",
			wantProvider:   400,
			expectProvider: true,
		},
		{
			name:       "unavailable",
			err:        &services.FulfillmentError{Kind: services.KindUnavailable, Message: "store unavailable"},
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "dependency_unavailable",
			wantKind:   "Unavailable",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubFulfillmentService{
				fulfillFn: func(context.Context, services.FulfillCommand) (services.FulfillmentResult, error) {
					return services.FulfillmentResult{}, tc.err
				},
			}
			router := newFulfillmentRouter(svc, sellerIdentity("seller_1", auth.RoleSeller))

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/orders/ord_1/fulfillment", nil))

			if rr.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, rr.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["error"] != tc.wantCode || body["kind"] != tc.wantKind {
				t.Fatalf("unexpected envelope: %v", body)
			}
			status, ok := body["provider_status"]
			if ok != tc.expectProvider {
				t.Fatalf("provider_status presence = %v, want %v", ok, tc.expectProvider)
			}
			if tc.expectProvider && status != tc.wantProvider {
				t.Fatalf("expected provider_status %v, got %v", tc.wantProvider, status)
			}
		})
	}
}

func TestFulfillmentHandlers_PersistenceFailureStillCreated(t *testing.T) {
	svc := &stubFulfillmentService{
		fulfillFn: func(context.Context, services.FulfillCommand) (services.FulfillmentResult, error) {
			return sampleResult(), &services.FulfillmentError{Kind: services.KindPersistenceFailed, Message: "write failed"}
		},
	}
	router := newFulfillmentRouter(svc, sellerIdentity("seller_1", auth.RoleSeller))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/orders/ord_1/fulfillment", nil))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["warning"] != "persistence_failed" {
		t.Fatalf("expected persistence warning, got %v", body["warning"])
	}
}

func TestFulfillmentHandlers_RejectsInvalidBody(t *testing.T) {
	svc := &stubFulfillmentService{
		fulfillFn: func(context.Context, services.FulfillCommand) (services.FulfillmentResult, error) {
			t.Fatal("service must not be called")
			return services.FulfillmentResult{}, nil
		},
	}
	router := newFulfillmentRouter(svc, sellerIdentity("seller_1", auth.RoleSeller))

	for _, body := range []string{`{"shipping":`, `{"tax":-1}`} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/orders/ord_1/fulfillment", strings.NewReader(body)))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, rr.Code)
		}
	}
}

func TestFulfillmentHandlers_RequiresIdentity(t *testing.T) {
	router := newFulfillmentRouter(&stubFulfillmentService{}, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/orders/ord_1/fulfillment", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestFulfillmentHandlers_CollapsesConcurrentSubmissions(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	svc := &stubFulfillmentService{
		fulfillFn: func(context.Context, services.FulfillCommand) (services.FulfillmentResult, error) {
			calls.Add(1)
			<-release
			return sampleResult(), nil
		},
	}
	router := newFulfillmentRouter(svc, sellerIdentity("seller_1", auth.RoleSeller))

	const callers = 4
	var started, done sync.WaitGroup
	codes := make([]int, callers)
	started.Add(callers)
	done.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer done.Done()
			started.Done()
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/orders/ord_1/fulfillment", nil))
			codes[i] = rr.Code
		}(i)
	}
	started.Wait()
	time.Sleep(50 * time.Millisecond)
	close(release)
	done.Wait()

	if n := calls.Load(); n < 1 || n >= callers {
		t.Fatalf("expected concurrent callers to share submissions, got %d calls", n)
	}
	for i, code := range codes {
		if code != http.StatusCreated {
			t.Fatalf("caller %d: expected 201, got %d", i, code)
		}
	}
}

func TestFulfillmentHandlers_IdempotencyReplay(t *testing.T) {
	var calls atomic.Int32
	svc := &stubFulfillmentService{
		fulfillFn: func(context.Context, services.FulfillCommand) (services.FulfillmentResult, error) {
			calls.Add(1)
			return sampleResult(), nil
		},
	}
	store := idempotency.NewMemoryStore()
	router := newFulfillmentRouter(svc, sellerIdentity("seller_1", auth.RoleSeller),
		WithFulfillmentIdempotency(idempotency.Middleware(store, idempotency.Options{})))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/ord_1/fulfillment", strings.NewReader(`{}`))
		req.Header.Set(idempotency.DefaultHeader, "key-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	first := send()
	second := send()

	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("expected 201 twice, got %d and %d", first.Code, second.Code)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one submission, got %d", calls.Load())
	}
	if second.Header().Get(idempotency.ReplayHeader) != "true" {
		t.Fatalf("expected replay header on second response")
	}
}

var _ services.FulfillmentService = (*stubFulfillmentService)(nil)
