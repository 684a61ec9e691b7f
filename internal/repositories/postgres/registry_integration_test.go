//go:build integration

package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	domain "github.com/podbridge/fulfillment/internal/domain"
	"github.com/podbridge/fulfillment/internal/repositories"
)

func TestRegistryIntegration(t *testing.T) {
	dsn := os.Getenv("FULFILLMENT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("FULFILLMENT_TEST_POSTGRES_DSN not set")
	}
	if err := MigrateUp(dsn); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	if err := MigrateUp(dsn); err != nil {
		t.Fatalf("second migrate up should be a no-op: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	registry, err := Open(ctx, dsn, Options{MaxConns: 4})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = registry.Close(context.Background()) })
	if err := registry.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	suffix := time.Now().UTC().Format("150405.000000")
	orderID := "order-it-" + suffix
	referenceID := orderID
	now := time.Now().UTC().Truncate(time.Second)

	orders := registry.Orders().(*OrderRepository)
	if err := orders.Put(ctx, domain.LocalOrder{
		ID:       orderID,
		Status:   domain.OrderStatusPending,
		Currency: "USD",
		Items: []domain.LineItem{
			{ID: "li-1", ProductID: "tee-" + suffix, Quantity: 2, UnitPrice: 2500},
			{ID: "li-2", ProductID: "mug-" + suffix, Quantity: 1, UnitPrice: 1800},
		},
		Customer:        domain.Customer{Name: "Ada Lovelace", Email: "ada@example.com"},
		ShippingAddress: domain.Address{Line1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US"},
		Total:           6800,
		CreatedAt:       now,
		UpdatedAt:       now,
	}); err != nil {
		t.Fatalf("seed order: %v", err)
	}

	order, err := registry.Orders().FindByID(ctx, orderID)
	if err != nil {
		t.Fatalf("find order: %v", err)
	}
	if len(order.Items) != 2 || order.Items[0].ID != "li-1" || order.Customer.Email != "ada@example.com" {
		t.Fatalf("unexpected order: %#v", order)
	}

	if err := registry.Products().SaveProviderMetadata(ctx, domain.ProviderMetadata{
		ProductID: "tee-" + suffix,
		Fulfilled: true,
		Variants:  []domain.VariantOption{{VariantID: 4012, Rank: 2}, {VariantID: 4011, Rank: 1}},
	}); err != nil {
		t.Fatalf("save metadata: %v", err)
	}
	metadata, err := registry.Products().ProviderMetadata(ctx, []string{"tee-" + suffix, "missing-" + suffix})
	if err != nil {
		t.Fatalf("provider metadata: %v", err)
	}
	if len(metadata) != 1 || len(metadata["tee-"+suffix].Variants) != 2 {
		t.Fatalf("unexpected metadata: %#v", metadata)
	}

	if _, err := registry.Orders().TransitionStatus(ctx, orderID, domain.OrderStatusProcessing, now); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if _, err := registry.Orders().TransitionStatus(ctx, orderID, domain.OrderStatusPending, now); !repositories.IsConflict(err) {
		t.Fatalf("expected conflict on backwards transition, got %v", err)
	}

	if err := registry.ExternalOrders().Save(ctx, domain.ExternalOrderRecord{
		ReferenceID:     referenceID,
		LocalOrderID:    orderID,
		ProviderOrderID: 9001,
		Status:          domain.ExternalStatusPending,
		Costs:           domain.CostBreakdown{Currency: "USD", Total: "28.99"},
		Items:           []domain.SubmittedItem{{LineItemID: "li-1", ProductID: "tee-" + suffix, VariantID: 4011, Quantity: 2}},
		CreatedAt:       now,
		UpdatedAt:       now,
	}); err != nil {
		t.Fatalf("save external order: %v", err)
	}

	shippedAt := now.Add(time.Hour)
	record, updated, err := registry.Reconciliation().Apply(ctx, referenceID,
		func(record domain.ExternalOrderRecord, order domain.LocalOrder) (domain.ExternalOrderRecord, domain.LocalOrder, error) {
			record.Status = domain.ExternalStatusFulfilled
			record.Tracking = domain.Tracking{Carrier: "USPS", Number: "9400"}
			record.ShippedAt = &shippedAt
			order.Status = domain.OrderStatusCompleted
			order.TrackingNumber = "9400"
			order.CompletedAt = &shippedAt
			return record, order, nil
		})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if record.Status != domain.ExternalStatusFulfilled || updated.Status != domain.OrderStatusCompleted {
		t.Fatalf("unexpected reconcile result: %#v %#v", record, updated)
	}
	stored, err := registry.ExternalOrders().FindByReference(ctx, referenceID)
	if err != nil {
		t.Fatalf("find external order: %v", err)
	}
	if stored.Tracking.Number != "9400" || stored.ShippedAt == nil || !stored.ShippedAt.Equal(shippedAt) {
		t.Fatalf("unexpected stored record: %#v", stored)
	}

	if _, _, err := registry.Reconciliation().Apply(ctx, "missing-"+suffix,
		func(r domain.ExternalOrderRecord, o domain.LocalOrder) (domain.ExternalOrderRecord, domain.LocalOrder, error) {
			return r, o, nil
		}); !repositories.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	ref := referenceID
	for i, id := range []string{"evt-a-" + suffix, "evt-b-" + suffix} {
		if err := registry.WebhookEvents().Append(ctx, domain.WebhookEvent{
			ID:          id,
			Provider:    "printful",
			Type:        "package_shipped",
			Payload:     []byte(`{"type":"package_shipped"}`),
			ReferenceID: &ref,
			Processed:   i == 1,
			ReceivedAt:  now.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}
	if err := registry.WebhookEvents().Append(ctx, domain.WebhookEvent{ID: "evt-a-" + suffix, Provider: "printful", Payload: []byte(`{}`), ReceivedAt: now}); !repositories.IsConflict(err) {
		t.Fatalf("expected conflict on duplicate append, got %v", err)
	}
	events, err := registry.WebhookEvents().List(ctx, repositories.WebhookEventFilter{ReferenceID: referenceID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 2 || events[0].ID != "evt-b-"+suffix {
		t.Fatalf("expected newest first, got %#v", events)
	}
	unprocessed, err := registry.WebhookEvents().List(ctx, repositories.WebhookEventFilter{ReferenceID: referenceID, Unprocessed: true})
	if err != nil {
		t.Fatalf("list unprocessed: %v", err)
	}
	if len(unprocessed) != 1 || unprocessed[0].ID != "evt-a-"+suffix {
		t.Fatalf("unexpected unprocessed rows: %#v", unprocessed)
	}

	concurrentOrderID := "order-race-" + suffix
	if err := orders.Put(ctx, domain.LocalOrder{
		ID:              concurrentOrderID,
		Status:          domain.OrderStatusProcessing,
		Currency:        "USD",
		Items:           []domain.LineItem{{ID: "li-1", ProductID: "tee-" + suffix, Quantity: 1, UnitPrice: 2500}},
		ShippingAddress: domain.Address{Line1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US"},
		Total:           2500,
		CreatedAt:       now,
		UpdatedAt:       now,
	}); err != nil {
		t.Fatalf("seed concurrent order: %v", err)
	}
	if err := registry.ExternalOrders().Save(ctx, domain.ExternalOrderRecord{
		ReferenceID:  concurrentOrderID,
		LocalOrderID: concurrentOrderID,
		Status:       domain.ExternalStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}); err != nil {
		t.Fatalf("seed concurrent record: %v", err)
	}
	settled := applyConcurrently(ctx, t, registry.Reconciliation(), registry.WebhookEvents(), concurrentOrderID, 20, now)
	final, err := registry.Orders().FindByID(ctx, concurrentOrderID)
	if err != nil {
		t.Fatalf("find concurrent order: %v", err)
	}
	if !final.Status.IsTerminal() {
		t.Fatalf("expected terminal status, got %s", final.Status)
	}
	for i, status := range settled {
		if status != final.Status {
			t.Fatalf("apply %d saw %s after the order settled on %s", i, status, final.Status)
		}
	}
	raceRows, err := registry.WebhookEvents().List(ctx, repositories.WebhookEventFilter{ReferenceID: concurrentOrderID, Limit: 100})
	if err != nil {
		t.Fatalf("list concurrent rows: %v", err)
	}
	if len(raceRows) != len(settled) {
		t.Fatalf("expected %d audit rows, got %d", len(settled), len(raceRows))
	}

	emptyBody := domain.WebhookEvent{ID: "evt-empty-" + suffix, Provider: "printful", ReceivedAt: now}
	if err := registry.WebhookEvents().Append(ctx, emptyBody); err != nil {
		t.Fatalf("append empty payload: %v", err)
	}
	storedEmpty, err := registry.WebhookEvents().FindByID(ctx, emptyBody.ID)
	if err != nil {
		t.Fatalf("find empty payload: %v", err)
	}
	if len(storedEmpty.Payload) != 0 {
		t.Fatalf("expected empty payload, got %q", storedEmpty.Payload)
	}
}

// applyConcurrently races shipped and failed transitions against one order, appending
// one audit row per attempt, and returns the order status each attempt observed.
func applyConcurrently(ctx context.Context, t *testing.T, reconciliation repositories.ReconciliationRepository, events repositories.WebhookEventRepository, referenceID string, attempts int, now time.Time) []domain.OrderStatus {
	t.Helper()
	statuses := make([]domain.OrderStatus, attempts)
	var g errgroup.Group
	for i := 0; i < attempts; i++ {
		target := domain.OrderStatusCompleted
		if i%2 == 1 {
			target = domain.OrderStatusCancelled
		}
		g.Go(func() error {
			_, order, err := reconciliation.Apply(ctx, referenceID, func(record domain.ExternalOrderRecord, order domain.LocalOrder) (domain.ExternalOrderRecord, domain.LocalOrder, error) {
				record.UpdatedAt = now
				if order.Status.CanTransitionTo(target) {
					order.Status = target
					order.UpdatedAt = now
				}
				return record, order, nil
			})
			if err != nil {
				return fmt.Errorf("apply %d: %w", i, err)
			}
			statuses[i] = order.Status
			ref := referenceID
			return events.Append(ctx, domain.WebhookEvent{
				ID:          fmt.Sprintf("evt-race-%s-%02d", referenceID, i),
				Provider:    "printful",
				Type:        "package_shipped",
				Payload:     []byte(`{}`),
				ReferenceID: &ref,
				Processed:   true,
				ReceivedAt:  now,
			})
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent apply: %v", err)
	}
	return statuses
}
