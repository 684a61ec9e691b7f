package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/podbridge/fulfillment/internal/platform/auth"
	"github.com/podbridge/fulfillment/internal/platform/httpx"
	"github.com/podbridge/fulfillment/internal/platform/requestctx"
	"github.com/podbridge/fulfillment/internal/services"
)

const maxWebhookBodySize = 1 << 20

// WebhookHandlers accepts provider lifecycle callbacks.
type WebhookHandlers struct {
	reconciler services.WebhookReconciler
	signer     *auth.WebhookSigner
	clock      func() time.Time
}

// WebhookOption customises WebhookHandlers.
type WebhookOption func(*WebhookHandlers)

// WithWebhookSigner requires a valid HMAC signature when the signer has a secret.
func WithWebhookSigner(signer *auth.WebhookSigner) WebhookOption {
	return func(h *WebhookHandlers) {
		h.signer = signer
	}
}

// WithWebhookClock overrides the receive timestamp clock.
func WithWebhookClock(clock func() time.Time) WebhookOption {
	return func(h *WebhookHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewWebhookHandlers constructs the provider callback endpoint.
func NewWebhookHandlers(reconciler services.WebhookReconciler, opts ...WebhookOption) *WebhookHandlers {
	h := &WebhookHandlers{
		reconciler: reconciler,
		clock:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers /webhooks/printful.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.signer.Enabled() {
		r.Use(h.signer.RequireSignature())
	}
	r.Post("/printful", h.printful)
}

type webhookAck struct {
	Received  bool   `json:"received"`
	EventID   string `json:"event_id,omitempty"`
	Type      string `json:"type,omitempty"`
	Processed bool   `json:"processed"`
	Error     string `json:"error,omitempty"`
	Audit     string `json:"audit,omitempty"`
}

// printful acknowledges every delivery it could read. Processing failures are
// recorded in the audit log rather than surfaced as HTTP errors so the provider
// does not retry forever.
func (h *WebhookHandlers) printful(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconciler == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook processing unavailable", http.StatusServiceUnavailable))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
		return
	}
	if len(payload) > maxWebhookBodySize {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "webhook body exceeds 1 MiB", http.StatusRequestEntityTooLarge))
		return
	}

	source := "unsigned"
	if auth.SignatureVerified(ctx) {
		source = "signed"
	}

	outcome, err := h.reconciler.Reconcile(ctx, services.WebhookDelivery{
		Payload:    payload,
		ReceivedAt: h.clock().UTC(),
		Source:     source,
	})
	ack := webhookAck{
		Received:  true,
		EventID:   outcome.EventID,
		Type:      outcome.Type,
		Processed: outcome.Processed,
		Error:     outcome.ErrorMessage,
	}
	if err != nil {
		if !errors.Is(err, services.ErrWebhookAuditFailed) {
			requestctx.Logger(ctx).Error("webhook reconcile failed", zap.Error(err))
		}
		ack.Audit = "failed"
	}
	httpx.WriteJSON(w, http.StatusOK, ack)
}
