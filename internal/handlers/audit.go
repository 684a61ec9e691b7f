package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/podbridge/fulfillment/internal/platform/auth"
	"github.com/podbridge/fulfillment/internal/platform/httpx"
	"github.com/podbridge/fulfillment/internal/services"
)

// WebhookAuditHandlers exposes the webhook audit log and replay.
type WebhookAuditHandlers struct {
	authn *auth.Authenticator
	audit services.WebhookAuditService
}

// NewWebhookAuditHandlers constructs the audit endpoints.
func NewWebhookAuditHandlers(authn *auth.Authenticator, audit services.WebhookAuditService) *WebhookAuditHandlers {
	return &WebhookAuditHandlers{
		authn: authn,
		audit: audit,
	}
}

// Routes registers GET /fulfillment/webhook-events.
func (h *WebhookAuditHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.Require(auth.RoleOperator, auth.RoleAdmin))
	}
	r.Get("/webhook-events", h.listEvents)
}

// InternalRoutes registers POST /internal/webhook-events/{eventID}/replay.
// Authentication is applied by the /internal group.
func (h *WebhookAuditHandlers) InternalRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/webhook-events/{eventID}/replay", h.replayEvent)
}

type webhookEventPayload struct {
	ID           string `json:"id"`
	Provider     string `json:"provider"`
	Type         string `json:"type"`
	ReferenceID  string `json:"reference_id,omitempty"`
	Processed    bool   `json:"processed"`
	ErrorMessage string `json:"error_message,omitempty"`
	ReceivedAt   string `json:"received_at"`
	PayloadSize  int    `json:"payload_bytes"`
}

type webhookEventListResponse struct {
	Items []webhookEventPayload `json:"items"`
}

type replayResponse struct {
	EventID      string `json:"event_id"`
	Type         string `json:"type"`
	ReferenceID  string `json:"reference_id,omitempty"`
	Processed    bool   `json:"processed"`
	ErrorMessage string `json:"error_message,omitempty"`
	OrderStatus  string `json:"order_status,omitempty"`
	Audit        string `json:"audit,omitempty"`
}

func (h *WebhookAuditHandlers) listEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.audit == nil {
		httpx.WriteError(ctx, w, httpx.NewError("audit_unavailable", "webhook audit unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	filter := services.WebhookEventFilter{
		ReferenceID: strings.TrimSpace(query.Get("reference_id")),
		Type:        strings.TrimSpace(query.Get("type")),
	}
	if raw := strings.TrimSpace(query.Get("unprocessed")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unprocessed must be a boolean", http.StatusBadRequest))
			return
		}
		filter.Unprocessed = value
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be a non-negative integer", http.StatusBadRequest))
			return
		}
		filter.Limit = limit
	}

	events, err := h.audit.ListEvents(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	items := make([]webhookEventPayload, 0, len(events))
	for _, event := range events {
		entry := webhookEventPayload{
			ID:           event.ID,
			Provider:     event.Provider,
			Type:         event.Type,
			Processed:    event.Processed,
			ErrorMessage: event.ErrorMessage,
			ReceivedAt:   event.ReceivedAt.UTC().Format(time.RFC3339Nano),
			PayloadSize:  len(event.Payload),
		}
		if event.ReferenceID != nil {
			entry.ReferenceID = *event.ReferenceID
		}
		items = append(items, entry)
	}
	httpx.WriteJSON(w, http.StatusOK, webhookEventListResponse{Items: items})
}

func (h *WebhookAuditHandlers) replayEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.audit == nil {
		httpx.WriteError(ctx, w, httpx.NewError("audit_unavailable", "webhook audit unavailable", http.StatusServiceUnavailable))
		return
	}

	outcome, err := h.audit.Replay(ctx, chi.URLParam(r, "eventID"))
	response := replayResponse{
		EventID:      outcome.EventID,
		Type:         outcome.Type,
		ReferenceID:  outcome.ReferenceID,
		Processed:    outcome.Processed,
		ErrorMessage: outcome.ErrorMessage,
		OrderStatus:  string(outcome.OrderStatus),
	}
	if err != nil {
		if !errors.Is(err, services.ErrWebhookAuditFailed) {
			writeServiceError(ctx, w, err)
			return
		}
		response.Audit = "failed"
	}
	httpx.WriteJSON(w, http.StatusOK, response)
}
