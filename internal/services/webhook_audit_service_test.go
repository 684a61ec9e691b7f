package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/podbridge/fulfillment/internal/domain"
)

func TestWebhookAuditListClampsLimit(t *testing.T) {
	f := newReconcilerFixture(t, domain.OrderStatusProcessing)
	reconciler := f.reconciler(t, nil)
	svc, err := NewWebhookAuditService(WebhookAuditServiceDeps{
		Events:     f.store.WebhookEvents(),
		Reconciler: reconciler,
	})
	if err != nil {
		t.Fatalf("NewWebhookAuditService: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := reconciler.Reconcile(context.Background(), WebhookDelivery{Payload: []byte("bad")}); err != nil {
			t.Fatalf("Reconcile: %v", err)
		}
	}

	events, err := svc.ListEvents(context.Background(), WebhookEventFilter{Unprocessed: true, Limit: 10000})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	events, _ = svc.ListEvents(context.Background(), WebhookEventFilter{ReferenceID: "order-1001"})
	if len(events) != 0 {
		t.Fatalf("invalid payloads carry no reference, got %d", len(events))
	}
}

func TestWebhookAuditReplayCreatesNewAuditRow(t *testing.T) {
	f := newReconcilerFixture(t, domain.OrderStatusProcessing)
	reconciler := f.reconciler(t, nil)
	svc, _ := NewWebhookAuditService(WebhookAuditServiceDeps{
		Events:     f.store.WebhookEvents(),
		Reconciler: reconciler,
	})

	payload := `{"type":"package_shipped","data":{"order":{"external_id":"order-later"},"shipment":{"tracking_number":"T1"}}}`
	first, err := reconciler.Reconcile(context.Background(), WebhookDelivery{Payload: []byte(payload)})
	if err != nil || first.Processed {
		t.Fatalf("expected unprocessed delivery, got %#v %v", first, err)
	}

	// The external record shows up after the webhook.
	record, _ := f.store.ExternalOrders().FindByReference(context.Background(), "order-1001")
	record.ReferenceID = "order-later"
	_ = f.store.ExternalOrders().Save(context.Background(), record)

	replayed, err := svc.Replay(context.Background(), first.EventID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if replayed.EventID == first.EventID {
		t.Fatalf("replay must produce a new event id")
	}
	if !replayed.Processed || replayed.OrderStatus != domain.OrderStatusCompleted {
		t.Fatalf("unexpected replay outcome %#v", replayed)
	}
	rows := f.auditRows(t)
	if len(rows) != 2 {
		t.Fatalf("expected two audit rows, got %d", len(rows))
	}
	stored, _ := f.store.WebhookEvents().FindByID(context.Background(), first.EventID)
	if stored.Processed {
		t.Fatalf("original audit row must stay unchanged")
	}
}

func TestWebhookAuditReplayUnknownEvent(t *testing.T) {
	f := newReconcilerFixture(t, domain.OrderStatusProcessing)
	svc, _ := NewWebhookAuditService(WebhookAuditServiceDeps{
		Events:     f.store.WebhookEvents(),
		Reconciler: f.reconciler(t, nil),
	})
	if _, err := svc.Replay(context.Background(), "evt-missing"); !errors.Is(err, ErrWebhookEventNotFound) {
		t.Fatalf("expected ErrWebhookEventNotFound, got %v", err)
	}
	if _, err := svc.Replay(context.Background(), ""); !errors.Is(err, ErrFulfillmentInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
