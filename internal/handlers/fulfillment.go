package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/singleflight"

	domain "github.com/podbridge/fulfillment/internal/domain"
	"github.com/podbridge/fulfillment/internal/platform/auth"
	"github.com/podbridge/fulfillment/internal/platform/httpx"
	"github.com/podbridge/fulfillment/internal/printful"
	"github.com/podbridge/fulfillment/internal/services"
)

// FulfillmentHandlers exposes order submission to sellers and internal services.
type FulfillmentHandlers struct {
	authn       *auth.Authenticator
	fulfillment services.FulfillmentService
	idempotency func(http.Handler) http.Handler
	inflight    singleflight.Group
}

// FulfillmentOption customises FulfillmentHandlers.
type FulfillmentOption func(*FulfillmentHandlers)

// WithFulfillmentIdempotency installs the Idempotency-Key middleware after authentication.
func WithFulfillmentIdempotency(mw func(http.Handler) http.Handler) FulfillmentOption {
	return func(h *FulfillmentHandlers) {
		h.idempotency = mw
	}
}

// NewFulfillmentHandlers constructs the submission endpoint.
func NewFulfillmentHandlers(authn *auth.Authenticator, fulfillment services.FulfillmentService, opts ...FulfillmentOption) *FulfillmentHandlers {
	h := &FulfillmentHandlers{
		authn:       authn,
		fulfillment: fulfillment,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the submission endpoint under /orders.
func (h *FulfillmentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.Require(auth.RoleSeller, auth.RoleOperator, auth.RoleAdmin))
	}
	if h.idempotency != nil {
		r.Use(h.idempotency)
	}
	r.Post("/{orderID}/fulfillment", h.fulfill)
}

type recipientRequest struct {
	Name        string `json:"name"`
	Company     string `json:"company"`
	Address1    string `json:"address1"`
	Address2    string `json:"address2"`
	City        string `json:"city"`
	StateCode   string `json:"state_code"`
	CountryCode string `json:"country_code"`
	Zip         string `json:"zip"`
	Phone       string `json:"phone"`
	Email       string `json:"email"`
}

type fulfillRequest struct {
	Recipient      *recipientRequest `json:"recipient"`
	ShippingMethod string            `json:"shipping_method"`
	Shipping       *int64            `json:"shipping"`
	Tax            *int64            `json:"tax"`
}

type costsPayload struct {
	Currency string `json:"currency"`
	Subtotal string `json:"subtotal"`
	Discount string `json:"discount"`
	Shipping string `json:"shipping"`
	Tax      string `json:"tax"`
	VAT      string `json:"vat,omitempty"`
	Total    string `json:"total"`
}

type submittedItemPayload struct {
	LineItemID  string `json:"line_item_id"`
	ProductID   string `json:"product_id"`
	VariantID   int64  `json:"variant_id"`
	Quantity    int    `json:"quantity"`
	RetailPrice string `json:"retail_price"`
}

type trackingPayload struct {
	Carrier string `json:"carrier,omitempty"`
	Service string `json:"service,omitempty"`
	Number  string `json:"number,omitempty"`
	URL     string `json:"url,omitempty"`
}

type externalOrderPayload struct {
	ReferenceID     string                 `json:"reference_id"`
	LocalOrderID    string                 `json:"local_order_id"`
	ProviderOrderID int64                  `json:"provider_order_id"`
	Status          string                 `json:"status"`
	Costs           costsPayload           `json:"costs"`
	Items           []submittedItemPayload `json:"items"`
	Tracking        *trackingPayload       `json:"tracking,omitempty"`
	ShippedAt       string                 `json:"shipped_at,omitempty"`
	CreatedAt       string                 `json:"created_at"`
	UpdatedAt       string                 `json:"updated_at"`
}

type skippedItemPayload struct {
	LineItemID string `json:"line_item_id"`
	ProductID  string `json:"product_id"`
	Reason     string `json:"reason"`
}

type fulfillResponse struct {
	ExternalOrder externalOrderPayload `json:"external_order"`
	Estimate      costsPayload         `json:"estimate"`
	Skipped       []skippedItemPayload `json:"skipped_items"`
	Warning       string               `json:"warning,omitempty"`
}

type fulfillOutcome struct {
	result services.FulfillmentResult
	err    error
}

func (h *FulfillmentHandlers) fulfill(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fulfillment == nil {
		httpx.WriteError(ctx, w, httpx.NewError("fulfillment_service_unavailable", "fulfillment service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.Subject) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var body fulfillRequest
	if err := httpx.DecodeJSON(r, &body); err != nil && !errors.Is(err, httpx.ErrEmptyBody) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be a JSON object", http.StatusBadRequest))
		return
	}
	if (body.Shipping != nil && *body.Shipping < 0) || (body.Tax != nil && *body.Tax < 0) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "shipping and tax must not be negative", http.StatusBadRequest))
		return
	}

	cmd := services.FulfillCommand{
		OrderID:   orderID,
		Overrides: body.overrides(),
		ActorID:   identity.ActorID(),
	}
	if identity.Kind == auth.PrincipalSeller && !identity.HasAnyRole(auth.RoleOperator, auth.RoleAdmin) {
		cmd.SellerID = identity.Subject
	}

	// Concurrent submissions for the same order share one provider round trip.
	// The shared call is detached from the first caller's cancellation so a
	// disconnect cannot abandon a confirmed provider order.
	key := orderID + "|" + cmd.SellerID
	value, _, _ := h.inflight.Do(key, func() (any, error) {
		result, err := h.fulfillment.Fulfill(context.WithoutCancel(ctx), cmd)
		return fulfillOutcome{result: result, err: err}, nil
	})
	outcome := value.(fulfillOutcome)

	if outcome.err != nil {
		if errors.Is(outcome.err, services.ErrPersistenceFailed) && outcome.result.Record.ProviderOrderID != 0 {
			response := newFulfillResponse(outcome.result)
			response.Warning = "persistence_failed"
			httpx.WriteJSON(w, http.StatusCreated, response)
			return
		}
		writeServiceError(ctx, w, outcome.err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, newFulfillResponse(outcome.result))
}

func (req fulfillRequest) overrides() services.FulfillmentOverrides {
	overrides := services.FulfillmentOverrides{
		ShippingMethod: strings.TrimSpace(req.ShippingMethod),
		Shipping:       req.Shipping,
		Tax:            req.Tax,
	}
	if req.Recipient != nil {
		overrides.Recipient = &services.RecipientOverride{
			Name:        strings.TrimSpace(req.Recipient.Name),
			Company:     strings.TrimSpace(req.Recipient.Company),
			Address1:    strings.TrimSpace(req.Recipient.Address1),
			Address2:    strings.TrimSpace(req.Recipient.Address2),
			City:        strings.TrimSpace(req.Recipient.City),
			StateCode:   strings.TrimSpace(req.Recipient.StateCode),
			CountryCode: strings.TrimSpace(req.Recipient.CountryCode),
			Zip:         strings.TrimSpace(req.Recipient.Zip),
			Phone:       strings.TrimSpace(req.Recipient.Phone),
			Email:       strings.TrimSpace(req.Recipient.Email),
		}
	}
	return overrides
}

func newFulfillResponse(result services.FulfillmentResult) fulfillResponse {
	skipped := make([]skippedItemPayload, 0, len(result.Skipped))
	for _, item := range result.Skipped {
		skipped = append(skipped, skippedItemPayload{
			LineItemID: item.LineItemID,
			ProductID:  item.ProductID,
			Reason:     item.Reason,
		})
	}
	return fulfillResponse{
		ExternalOrder: newExternalOrderPayload(result.Record),
		Estimate:      newCostsPayload(result.Estimate.Costs),
		Skipped:       skipped,
	}
}

func newExternalOrderPayload(record domain.ExternalOrderRecord) externalOrderPayload {
	items := make([]submittedItemPayload, 0, len(record.Items))
	for _, item := range record.Items {
		items = append(items, submittedItemPayload{
			LineItemID:  item.LineItemID,
			ProductID:   item.ProductID,
			VariantID:   item.VariantID,
			Quantity:    item.Quantity,
			RetailPrice: item.RetailPrice,
		})
	}
	payload := externalOrderPayload{
		ReferenceID:     record.ReferenceID,
		LocalOrderID:    record.LocalOrderID,
		ProviderOrderID: record.ProviderOrderID,
		Status:          string(record.Status),
		Costs: costsPayload{
			Currency: record.Costs.Currency,
			Subtotal: record.Costs.Subtotal,
			Discount: record.Costs.Discount,
			Shipping: record.Costs.Shipping,
			Tax:      record.Costs.Tax,
			Total:    record.Costs.Total,
		},
		Items:     items,
		CreatedAt: formatTime(record.CreatedAt),
		UpdatedAt: formatTime(record.UpdatedAt),
	}
	if record.Tracking != (domain.Tracking{}) {
		payload.Tracking = &trackingPayload{
			Carrier: record.Tracking.Carrier,
			Service: record.Tracking.Service,
			Number:  record.Tracking.Number,
			URL:     record.Tracking.URL,
		}
	}
	if record.ShippedAt != nil {
		payload.ShippedAt = formatTime(*record.ShippedAt)
	}
	return payload
}

func newCostsPayload(costs printful.Costs) costsPayload {
	return costsPayload{
		Currency: costs.Currency,
		Subtotal: costs.Subtotal,
		Discount: costs.Discount,
		Shipping: costs.Shipping,
		Tax:      costs.Tax,
		VAT:      costs.VAT,
		Total:    costs.Total,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
