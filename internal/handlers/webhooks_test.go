package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/podbridge/fulfillment/internal/platform/auth"
	"github.com/podbridge/fulfillment/internal/services"
)

type stubWebhookReconciler struct {
	reconcileFn func(context.Context, services.WebhookDelivery) (services.ReconcileOutcome, error)
}

func (s *stubWebhookReconciler) Reconcile(ctx context.Context, delivery services.WebhookDelivery) (services.ReconcileOutcome, error) {
	if s.reconcileFn != nil {
		return s.reconcileFn(ctx, delivery)
	}
	return services.ReconcileOutcome{}, nil
}

const shippedPayload = `{"type":"package_shipped","data":{"order":{"id":9001,"external_id":"ord_1"}}}`

func TestWebhookHandlers_AcknowledgesDelivery(t *testing.T) {
	received := time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC)
	var got services.WebhookDelivery
	reconciler := &stubWebhookReconciler{
		reconcileFn: func(_ context.Context, delivery services.WebhookDelivery) (services.ReconcileOutcome, error) {
			got = delivery
			return services.ReconcileOutcome{EventID: "evt_1", Type: "package_shipped", ReferenceID: "ord_1", Processed: true}, nil
		},
	}
	handlers := NewWebhookHandlers(reconciler, WithWebhookClock(func() time.Time { return received }))
	router := NewRouter(WithWebhookRoutes(handlers.Routes))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/printful", strings.NewReader(shippedPayload)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if string(got.Payload) != shippedPayload || !got.ReceivedAt.Equal(received) || got.Source != "unsigned" {
		t.Fatalf("unexpected delivery: %+v", got)
	}
	var ack map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack["event_id"] != "evt_1" || ack["processed"] != true {
		t.Fatalf("unexpected ack: %v", ack)
	}
	if _, ok := ack["audit"]; ok {
		t.Fatalf("did not expect audit flag: %v", ack)
	}
}

func TestWebhookHandlers_AuditFailureStillAcknowledged(t *testing.T) {
	reconciler := &stubWebhookReconciler{
		reconcileFn: func(context.Context, services.WebhookDelivery) (services.ReconcileOutcome, error) {
			return services.ReconcileOutcome{EventID: "evt_2", Processed: true},
				fmt.Errorf("%w: store offline", services.ErrWebhookAuditFailed)
		},
	}
	router := NewRouter(WithWebhookRoutes(NewWebhookHandlers(reconciler).Routes))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/printful", strings.NewReader(shippedPayload)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var ack map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack["audit"] != "failed" {
		t.Fatalf("expected audit failed flag, got %v", ack)
	}
}

func TestWebhookHandlers_InvalidPayloadAcknowledged(t *testing.T) {
	reconciler := &stubWebhookReconciler{
		reconcileFn: func(context.Context, services.WebhookDelivery) (services.ReconcileOutcome, error) {
			return services.ReconcileOutcome{EventID: "evt_3", ErrorMessage: "invalid payload"}, nil
		},
	}
	router := NewRouter(WithWebhookRoutes(NewWebhookHandlers(reconciler).Routes))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/printful", strings.NewReader("not json")))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "invalid payload") {
		t.Fatalf("expected error message in ack, got %s", rr.Body.String())
	}
}

func TestWebhookHandlers_Signature(t *testing.T) {
	signer := auth.NewWebhookSigner("whsec", "")
	var sources []string
	reconciler := &stubWebhookReconciler{
		reconcileFn: func(_ context.Context, delivery services.WebhookDelivery) (services.ReconcileOutcome, error) {
			sources = append(sources, delivery.Source)
			return services.ReconcileOutcome{EventID: "evt"}, nil
		},
	}
	router := NewRouter(WithWebhookRoutes(NewWebhookHandlers(reconciler, WithWebhookSigner(signer)).Routes))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/printful", strings.NewReader(shippedPayload))
	req.Header.Set(auth.DefaultWebhookSignatureHeader, signer.Sign([]byte(shippedPayload)))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for signed delivery, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/printful", strings.NewReader(shippedPayload))
	req.Header.Set(auth.DefaultWebhookSignatureHeader, "deadbeef")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", rr.Code)
	}

	if len(sources) != 1 || sources[0] != "signed" {
		t.Fatalf("expected one signed delivery, got %v", sources)
	}
}

func TestWebhookHandlers_RejectsOversizedBody(t *testing.T) {
	reconciler := &stubWebhookReconciler{
		reconcileFn: func(context.Context, services.WebhookDelivery) (services.ReconcileOutcome, error) {
			t.Fatal("reconciler must not be called")
			return services.ReconcileOutcome{}, nil
		},
	}
	router := NewRouter(WithWebhookRoutes(NewWebhookHandlers(reconciler).Routes))

	body := strings.Repeat("x", maxWebhookBodySize+1)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/printful", strings.NewReader(body)))

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
}

var _ services.WebhookReconciler = (*stubWebhookReconciler)(nil)
