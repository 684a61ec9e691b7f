package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/podbridge/fulfillment/internal/domain"
	"github.com/podbridge/fulfillment/internal/services"
)

type stubWebhookAuditService struct {
	listFn   func(context.Context, services.WebhookEventFilter) ([]services.WebhookEvent, error)
	replayFn func(context.Context, string) (services.ReconcileOutcome, error)
}

func (s *stubWebhookAuditService) ListEvents(ctx context.Context, filter services.WebhookEventFilter) ([]services.WebhookEvent, error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return nil, nil
}

func (s *stubWebhookAuditService) Replay(ctx context.Context, eventID string) (services.ReconcileOutcome, error) {
	if s.replayFn != nil {
		return s.replayFn(ctx, eventID)
	}
	return services.ReconcileOutcome{}, nil
}

func newAuditRouter(svc services.WebhookAuditService) http.Handler {
	handlers := NewWebhookAuditHandlers(nil, svc)
	return NewRouter(
		WithFulfillmentRoutes(handlers.Routes),
		WithInternalRoutes(handlers.InternalRoutes),
	)
}

func TestWebhookAuditHandlers_List(t *testing.T) {
	ref := "ord_1"
	var got services.WebhookEventFilter
	svc := &stubWebhookAuditService{
		listFn: func(_ context.Context, filter services.WebhookEventFilter) ([]services.WebhookEvent, error) {
			got = filter
			return []services.WebhookEvent{{
				ID:          "evt_1",
				Provider:    "printful",
				Type:        "package_shipped",
				Payload:     []byte(`{"type":"package_shipped"}`),
				ReferenceID: &ref,
				Processed:   true,
				ReceivedAt:  time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC),
			}}, nil
		},
	}
	router := newAuditRouter(svc)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/fulfillment/webhook-events?reference_id=ord_1&unprocessed=false&limit=10", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got.ReferenceID != "ord_1" || got.Limit != 10 || got.Unprocessed {
		t.Fatalf("unexpected filter: %+v", got)
	}
	var body struct {
		Items []struct {
			ID          string `json:"id"`
			ReferenceID string `json:"reference_id"`
			Processed   bool   `json:"processed"`
			PayloadSize int    `json:"payload_bytes"`
		} `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Items) != 1 || body.Items[0].ReferenceID != "ord_1" || body.Items[0].PayloadSize != 26 {
		t.Fatalf("unexpected items: %+v", body.Items)
	}
}

func TestWebhookAuditHandlers_ListRejectsBadQuery(t *testing.T) {
	router := newAuditRouter(&stubWebhookAuditService{})

	for _, query := range []string{"limit=abc", "limit=-1", "unprocessed=maybe"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/fulfillment/webhook-events?"+query, nil))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", query, rr.Code)
		}
	}
}

func TestWebhookAuditHandlers_Replay(t *testing.T) {
	tests := []struct {
		name       string
		outcome    services.ReconcileOutcome
		err        error
		wantStatus int
		wantAudit  string
	}{
		{
			name:       "processed",
			outcome:    services.ReconcileOutcome{EventID: "evt_2", Type: "package_shipped", Processed: true, OrderStatus: domain.OrderStatusCompleted},
			wantStatus: http.StatusOK,
		},
		{
			name:       "not found",
			err:        fmt.Errorf("%w: evt_missing", services.ErrWebhookEventNotFound),
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "audit failed",
			outcome:    services.ReconcileOutcome{EventID: "evt_3", Processed: true},
			err:        fmt.Errorf("%w: offline", services.ErrWebhookAuditFailed),
			wantStatus: http.StatusOK,
			wantAudit:  "failed",
		},
		{
			name:       "store unavailable",
			err:        fmt.Errorf("%w: load webhook event", services.ErrFulfillmentUnavailable),
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var gotID string
			svc := &stubWebhookAuditService{
				replayFn: func(_ context.Context, id string) (services.ReconcileOutcome, error) {
					gotID = id
					return tc.outcome, tc.err
				},
			}
			router := newAuditRouter(svc)

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/internal/webhook-events/evt_1/replay", nil))

			if rr.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, rr.Code)
			}
			if gotID != "evt_1" {
				t.Fatalf("expected event evt_1, got %q", gotID)
			}
			if tc.wantStatus != http.StatusOK {
				return
			}
			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			audit, _ := body["audit"].(string)
			if audit != tc.wantAudit {
				t.Fatalf("expected audit %q, got %q", tc.wantAudit, audit)
			}
		})
	}
}

var _ services.WebhookAuditService = (*stubWebhookAuditService)(nil)
