package printful

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Webhook event types the reconciler acts on.
const (
	EventPackageShipped  = "package_shipped"
	EventPackageReturned = "package_returned"
	EventOrderFailed     = "order_failed"
	EventOrderUpdated    = "order_updated"
)

// ErrInvalidWebhook is returned when a delivery is not a JSON webhook envelope.
var ErrInvalidWebhook = errors.New("printful: invalid webhook payload")

// WebhookEvent is implemented by every decoded delivery.
type WebhookEvent interface {
	Type() string
	ExternalID() string
	Header() EventHeader
}

// OrderRef is the order block carried by lifecycle events.
type OrderRef struct {
	ID         FlexibleID     `json:"id"`
	ExternalID FlexibleString `json:"external_id"`
	Status     string         `json:"status"`
	Costs      *Costs         `json:"costs,omitempty"`
}

// EventHeader holds fields common to every event.
type EventHeader struct {
	EventType string
	Created   time.Time
	Retries   int
	StoreID   int64
	Order     OrderRef
}

// Type returns the delivery type string.
func (h EventHeader) Type() string { return h.EventType }

// ExternalID returns the reference id the bridge assigned to the order.
func (h EventHeader) ExternalID() string { return h.Order.ExternalID.String() }

// Header returns the common event fields.
func (h EventHeader) Header() EventHeader { return h }

// PackageShipped reports a dispatched package.
type PackageShipped struct {
	EventHeader
	Shipment Shipment
}

// PackageReturned reports a package returned to the provider.
type PackageReturned struct {
	EventHeader
	Reason string
}

// OrderFailed reports that the provider could not fulfil the order.
type OrderFailed struct {
	EventHeader
	Reason string
}

// OrderUpdated carries a refreshed order snapshot.
type OrderUpdated struct {
	EventHeader
}

// UnknownEvent is any type the bridge does not act on yet.
type UnknownEvent struct {
	EventHeader
	Data json.RawMessage
}

type webhookEnvelope struct {
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Retries int             `json:"retries"`
	Store   FlexibleID      `json:"store"`
	Data    json.RawMessage `json:"data"`
}

type webhookData struct {
	Order    OrderRef  `json:"order"`
	Shipment *Shipment `json:"shipment"`
	Reason   string    `json:"reason"`
}

// ParseWebhook decodes a raw delivery into its typed event. Unknown fields are
// ignored and unknown types decode to UnknownEvent.
func ParseWebhook(raw []byte) (WebhookEvent, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidWebhook)
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}

	eventType := strings.TrimSpace(envelope.Type)
	var data webhookData
	if len(envelope.Data) > 0 && !bytes.Equal(envelope.Data, []byte("null")) {
		if err := json.Unmarshal(envelope.Data, &data); err != nil {
			if isKnownEvent(eventType) {
				return nil, fmt.Errorf("%w: data: %v", ErrInvalidWebhook, err)
			}
			data = webhookData{}
		}
	}

	header := EventHeader{
		EventType: eventType,
		Retries:   envelope.Retries,
		StoreID:   int64(envelope.Store),
		Order:     data.Order,
	}
	if envelope.Created > 0 {
		header.Created = time.Unix(envelope.Created, 0).UTC()
	}

	switch header.EventType {
	case EventPackageShipped:
		event := PackageShipped{EventHeader: header}
		if data.Shipment != nil {
			event.Shipment = *data.Shipment
		}
		return event, nil
	case EventPackageReturned:
		return PackageReturned{EventHeader: header, Reason: data.Reason}, nil
	case EventOrderFailed:
		return OrderFailed{EventHeader: header, Reason: data.Reason}, nil
	case EventOrderUpdated:
		return OrderUpdated{EventHeader: header}, nil
	default:
		return UnknownEvent{EventHeader: header, Data: envelope.Data}, nil
	}
}

func isKnownEvent(eventType string) bool {
	switch eventType {
	case EventPackageShipped, EventPackageReturned, EventOrderFailed, EventOrderUpdated:
		return true
	default:
		return false
	}
}
