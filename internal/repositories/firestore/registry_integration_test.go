//go:build integration

package firestore

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"golang.org/x/sync/errgroup"

	domain "github.com/podbridge/fulfillment/internal/domain"
	pconfig "github.com/podbridge/fulfillment/internal/platform/config"
	pfirestore "github.com/podbridge/fulfillment/internal/platform/firestore"
	"github.com/podbridge/fulfillment/internal/repositories"
)

func TestRegistryIntegration(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}

	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })

	waitForEndpoint(t, endpoint, 30*time.Second)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{
		ProjectID:    "fulfillment-test",
		EmulatorHost: endpoint,
	})
	registry, err := NewRegistry(provider)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(func() {
		_ = registry.Close(context.Background())
	})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := registry.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	order := domain.LocalOrder{
		ID:       "order-it-1",
		BuyerID:  "buyer-1",
		Status:   domain.OrderStatusPending,
		Currency: "USD",
		Items: []domain.LineItem{
			{ID: "li-1", ProductID: "tee", Quantity: 2, UnitPrice: 2500},
		},
		ShippingAddress: domain.Address{Line1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US"},
		Total:           5000,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := registry.orders.Put(ctx, order); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	client, err := provider.Client(ctx)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	// Order placement owns fields this service never models.
	orderRef := client.Collection(ordersCollection).Doc(order.ID)
	if _, err := orderRef.Set(ctx, map[string]any{"paymentRef": "pi_123"}, firestore.MergeAll); err != nil {
		t.Fatalf("seed placement field: %v", err)
	}

	if err := registry.Products().SaveProviderMetadata(ctx, domain.ProviderMetadata{
		ProductID: "tee",
		Fulfilled: true,
		Variants:  []domain.VariantOption{{VariantID: 4011, Rank: 1, Label: "M"}},
	}); err != nil {
		t.Fatalf("save metadata: %v", err)
	}
	metadata, err := registry.Products().ProviderMetadata(ctx, []string{"tee", "missing"})
	if err != nil {
		t.Fatalf("provider metadata: %v", err)
	}
	if len(metadata) != 1 || metadata["tee"].Variants[0].VariantID != 4011 {
		t.Fatalf("unexpected metadata %+v", metadata)
	}

	loaded, err := registry.Orders().FindByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("find order: %v", err)
	}
	if loaded.Status != domain.OrderStatusPending || len(loaded.Items) != 1 {
		t.Fatalf("unexpected order %+v", loaded)
	}
	if _, err := registry.Orders().FindByID(ctx, "order-missing"); !repositories.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	if _, err := registry.Orders().TransitionStatus(ctx, order.ID, domain.OrderStatusProcessing, now); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if _, err := registry.Orders().TransitionStatus(ctx, order.ID, domain.OrderStatusPending, now); !repositories.IsConflict(err) {
		t.Fatalf("expected conflict for backwards transition, got %v", err)
	}

	record := domain.ExternalOrderRecord{
		ReferenceID:     order.ID,
		LocalOrderID:    order.ID,
		ProviderOrderID: 9001,
		Status:          domain.ExternalStatusPending,
		Costs:           domain.CostBreakdown{Currency: "USD", Total: "28.99"},
		Items:           []domain.SubmittedItem{{LineItemID: "li-1", ProductID: "tee", VariantID: 4011, Quantity: 2, RetailPrice: "25.00"}},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := registry.ExternalOrders().Save(ctx, record); err != nil {
		t.Fatalf("save record: %v", err)
	}

	gotRecord, gotOrder, err := registry.Reconciliation().Apply(ctx, order.ID, func(r domain.ExternalOrderRecord, o domain.LocalOrder) (domain.ExternalOrderRecord, domain.LocalOrder, error) {
		r.Status = domain.ExternalStatusFulfilled
		r.Tracking = domain.Tracking{Carrier: "UPS", Number: "1Z999"}
		o.Status = domain.OrderStatusCompleted
		o.TrackingNumber = "1Z999"
		return r, o, nil
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if gotRecord.Status != domain.ExternalStatusFulfilled || gotOrder.Status != domain.OrderStatusCompleted {
		t.Fatalf("unexpected apply result %+v %+v", gotRecord, gotOrder)
	}
	snapshot, err := orderRef.Get(ctx)
	if err != nil {
		t.Fatalf("get order document: %v", err)
	}
	if snapshot.Data()["paymentRef"] != "pi_123" {
		t.Fatalf("status updates must keep placement fields, got %v", snapshot.Data())
	}
	if snapshot.Data()["trackingNumber"] != "1Z999" || snapshot.Data()["status"] != "completed" {
		t.Fatalf("unexpected order document %v", snapshot.Data())
	}
	stored, err := registry.ExternalOrders().FindByReference(ctx, order.ID)
	if err != nil {
		t.Fatalf("find record: %v", err)
	}
	if stored.Tracking.Number != "1Z999" || stored.Items[0].RetailPrice != "25.00" {
		t.Fatalf("unexpected stored record %+v", stored)
	}
	if _, _, err := registry.Reconciliation().Apply(ctx, "unknown-ref", func(r domain.ExternalOrderRecord, o domain.LocalOrder) (domain.ExternalOrderRecord, domain.LocalOrder, error) {
		return r, o, nil
	}); !repositories.IsNotFound(err) {
		t.Fatalf("expected not found for unknown reference, got %v", err)
	}

	reference := order.ID
	for i, processed := range []bool{true, false} {
		event := domain.WebhookEvent{
			ID:          fmt.Sprintf("evt-%d", i),
			Provider:    "printful",
			Type:        "package_shipped",
			Payload:     []byte(`{"type":"package_shipped"}`),
			ReferenceID: &reference,
			Processed:   processed,
			ReceivedAt:  now.Add(time.Duration(i) * time.Second),
		}
		if err := registry.WebhookEvents().Append(ctx, event); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := registry.WebhookEvents().Append(ctx, domain.WebhookEvent{ID: "evt-0", ReceivedAt: now}); !repositories.IsConflict(err) {
		t.Fatalf("expected conflict on duplicate append, got %v", err)
	}
	events, err := registry.WebhookEvents().List(ctx, repositories.WebhookEventFilter{ReferenceID: reference, Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 2 || events[0].ID != "evt-1" {
		t.Fatalf("expected newest first, got %+v", events)
	}

	raceOrder := order
	raceOrder.ID = "order-it-race"
	raceOrder.Status = domain.OrderStatusProcessing
	if err := registry.orders.Put(ctx, raceOrder); err != nil {
		t.Fatalf("seed concurrent order: %v", err)
	}
	if err := registry.ExternalOrders().Save(ctx, domain.ExternalOrderRecord{
		ReferenceID:  raceOrder.ID,
		LocalOrderID: raceOrder.ID,
		Status:       domain.ExternalStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}); err != nil {
		t.Fatalf("seed concurrent record: %v", err)
	}
	settled := applyConcurrently(ctx, t, registry.Reconciliation(), registry.WebhookEvents(), raceOrder.ID, 8, now)
	final, err := registry.Orders().FindByID(ctx, raceOrder.ID)
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
	raceRows, err := registry.WebhookEvents().List(ctx, repositories.WebhookEventFilter{ReferenceID: raceOrder.ID, Limit: 100})
	if err != nil {
		t.Fatalf("list concurrent rows: %v", err)
	}
	if len(raceRows) != len(settled) {
		t.Fatalf("expected %d audit rows, got %d", len(settled), len(raceRows))
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
				ID:          fmt.Sprintf("evt-race-%02d", i),
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

func freePort(t *testing.T) int {
	t.Helper()
	addr, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer addr.Close()
	return addr.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	args := []string{
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	}

	cmd := exec.Command("docker", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "info")
	if err := cmd.Run(); err != nil {
		t.Fatalf("docker daemon not available: %v", err)
	}
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "stop", id)
	_ = cmd.Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("firestore emulator at %s did not become ready within %s", endpoint, timeout)
}

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"
