package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/podbridge/fulfillment/internal/platform/auth"
	"github.com/podbridge/fulfillment/internal/platform/httpx"
	"github.com/podbridge/fulfillment/internal/printful"
	"github.com/podbridge/fulfillment/internal/services"
)

// DiagnosticsHandlers exposes provider connectivity checks to operators.
type DiagnosticsHandlers struct {
	authn       *auth.Authenticator
	diagnostics services.DiagnosticsService
}

// NewDiagnosticsHandlers constructs the diagnostics endpoints.
func NewDiagnosticsHandlers(authn *auth.Authenticator, diagnostics services.DiagnosticsService) *DiagnosticsHandlers {
	return &DiagnosticsHandlers{
		authn:       authn,
		diagnostics: diagnostics,
	}
}

// Routes registers the /fulfillment diagnostics endpoints.
func (h *DiagnosticsHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.Require(auth.RoleSeller, auth.RoleOperator, auth.RoleAdmin))
	}
	r.Get("/connection", h.testConnection)
	r.With(h.operatorOnly()).Get("/provider-orders/{referenceID}", h.providerOrder)
}

// operatorOnly narrows a route to operators, admins and services.
func (h *DiagnosticsHandlers) operatorOnly() func(http.Handler) http.Handler {
	if h.authn == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return h.authn.Require(auth.RoleOperator, auth.RoleAdmin)
}

type storePayload struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type,omitempty"`
	Website string `json:"website,omitempty"`
}

type providerErrorPayload struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

type connectionPayload struct {
	OK        bool                  `json:"ok"`
	Store     *storePayload         `json:"store,omitempty"`
	Error     *providerErrorPayload `json:"error,omitempty"`
	LatencyMS int64                 `json:"latency_ms"`
	CheckedAt string                `json:"checked_at"`
}

func (h *DiagnosticsHandlers) testConnection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.diagnostics == nil {
		httpx.WriteError(ctx, w, httpx.NewError("diagnostics_unavailable", "diagnostics service unavailable", http.StatusServiceUnavailable))
		return
	}

	status, err := h.diagnostics.TestConnection(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	payload := connectionPayload{
		OK:        status.OK,
		LatencyMS: status.Latency.Milliseconds(),
		CheckedAt: formatTime(status.CheckedAt),
	}
	if status.Store != nil {
		payload.Store = &storePayload{
			ID:      int64(status.Store.ID),
			Name:    status.Store.Name,
			Type:    status.Store.Type,
			Website: status.Store.Website,
		}
	}
	if status.Error != nil {
		payload.Error = &providerErrorPayload{
			Status:  status.Error.Status,
			Message: status.Error.Message,
		}
	}
	// A failed connection is still a successful diagnostic.
	httpx.WriteJSON(w, http.StatusOK, payload)
}

type shipmentPayload struct {
	Carrier        string `json:"carrier"`
	Service        string `json:"service"`
	TrackingNumber string `json:"tracking_number"`
	TrackingURL    string `json:"tracking_url"`
	ShippedAt      string `json:"shipped_at,omitempty"`
}

type providerOrderPayload struct {
	ID         int64             `json:"id"`
	ExternalID string            `json:"external_id"`
	Status     string            `json:"status"`
	Shipping   string            `json:"shipping,omitempty"`
	Costs      costsPayload      `json:"costs"`
	Shipments  []shipmentPayload `json:"shipments"`
	CreatedAt  string            `json:"created_at,omitempty"`
	UpdatedAt  string            `json:"updated_at,omitempty"`
}

func (h *DiagnosticsHandlers) providerOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.diagnostics == nil {
		httpx.WriteError(ctx, w, httpx.NewError("diagnostics_unavailable", "diagnostics service unavailable", http.StatusServiceUnavailable))
		return
	}

	referenceID := strings.TrimSpace(chi.URLParam(r, "referenceID"))
	order, err := h.diagnostics.ProviderOrder(ctx, referenceID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newProviderOrderPayload(order))
}

func newProviderOrderPayload(order printful.Order) providerOrderPayload {
	shipments := make([]shipmentPayload, 0, len(order.Shipments))
	for _, shipment := range order.Shipments {
		entry := shipmentPayload{
			Carrier:        shipment.Carrier,
			Service:        shipment.Service,
			TrackingNumber: string(shipment.TrackingNumber),
			TrackingURL:    shipment.TrackingURL,
		}
		if shipment.ShippedAt > 0 {
			entry.ShippedAt = formatTime(time.Unix(shipment.ShippedAt, 0))
		}
		shipments = append(shipments, entry)
	}
	payload := providerOrderPayload{
		ID:         int64(order.ID),
		ExternalID: string(order.ExternalID),
		Status:     order.Status,
		Shipping:   order.Shipping,
		Costs:      newCostsPayload(order.Costs),
		Shipments:  shipments,
	}
	if order.Created > 0 {
		payload.CreatedAt = formatTime(time.Unix(order.Created, 0))
	}
	if order.Updated > 0 {
		payload.UpdatedAt = formatTime(time.Unix(order.Updated, 0))
	}
	return payload
}
