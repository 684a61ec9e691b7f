package printful

import (
	"errors"
	"testing"
)

func TestParseWebhookPackageShipped(t *testing.T) {
	raw := []byte(`{
		"type": "package_shipped",
		"created": 1714000000,
		"retries": 1,
		"store": 77,
		"unexpected": {"nested": true},
		"data": {
			"order": {"id": 12, "external_id": "order-1", "status": "fulfilled", "extra": "ignored"},
			"shipment": {"id": 3, "carrier": "USPS", "service": "Priority", "tracking_number": 9400111, "tracking_url": "https://t.example/9400111"}
		}
	}`)

	event, err := ParseWebhook(raw)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	shipped, ok := event.(PackageShipped)
	if !ok {
		t.Fatalf("expected PackageShipped, got %T", event)
	}
	if shipped.ExternalID() != "order-1" {
		t.Fatalf("unexpected external id %q", shipped.ExternalID())
	}
	if shipped.Shipment.TrackingNumber.String() != "9400111" || shipped.Shipment.Carrier != "USPS" {
		t.Fatalf("unexpected shipment %#v", shipped.Shipment)
	}
	if shipped.Created.IsZero() || shipped.Retries != 1 || shipped.StoreID != 77 {
		t.Fatalf("unexpected header %#v", shipped.EventHeader)
	}
}

func TestParseWebhookOrderUpdatedCarriesCosts(t *testing.T) {
	raw := []byte(`{"type":"order_updated","data":{"order":{"id":"12","external_id":"order-1","status":"inprocess","costs":{"currency":"EUR","total":"31.00"}}}}`)
	event, err := ParseWebhook(raw)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	updated, ok := event.(OrderUpdated)
	if !ok {
		t.Fatalf("expected OrderUpdated, got %T", event)
	}
	if updated.Order.Status != "inprocess" || updated.Order.Costs == nil || updated.Order.Costs.Total != "31.00" {
		t.Fatalf("unexpected order block %#v", updated.Order)
	}
	if updated.Order.ID != 12 {
		t.Fatalf("expected id decoded from string, got %d", updated.Order.ID)
	}
}

func TestParseWebhookToleratesUnknownTypes(t *testing.T) {
	raw := []byte(`{"type":"product_synced","data":{"sync_product":{"id":1},"reason":{"code":5}}}`)
	event, err := ParseWebhook(raw)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	unknown, ok := event.(UnknownEvent)
	if !ok {
		t.Fatalf("expected UnknownEvent, got %T", event)
	}
	if unknown.Type() != "product_synced" || unknown.ExternalID() != "" {
		t.Fatalf("unexpected event %#v", unknown)
	}
}

func TestParseWebhookRejectsMalformedPayloads(t *testing.T) {
	cases := map[string]string{
		"empty":          ``,
		"not json":       `type=package_shipped`,
		"bad known data": `{"type":"order_failed","data":{"order":"nope"}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseWebhook([]byte(raw)); !errors.Is(err, ErrInvalidWebhook) {
				t.Fatalf("expected ErrInvalidWebhook, got %v", err)
			}
		})
	}
}
