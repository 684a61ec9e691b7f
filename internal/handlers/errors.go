package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/podbridge/fulfillment/internal/platform/httpx"
	"github.com/podbridge/fulfillment/internal/services"
)

type kindMapping struct {
	code   string
	status int
}

var fulfillmentKindMappings = map[services.ErrorKind]kindMapping{
	services.KindOrderNotFound:           {"order_not_found", http.StatusNotFound},
	services.KindUnmappedVariant:         {"unmapped_variant", http.StatusUnprocessableEntity},
	services.KindNoFulfillableItems:      {"no_fulfillable_items", http.StatusUnprocessableEntity},
	services.KindInvalidInput:            {"invalid_input", http.StatusUnprocessableEntity},
	services.KindConflict:                {"fulfillment_conflict", http.StatusConflict},
	services.KindEstimationFailed:        {"estimation_failed", http.StatusBadGateway},
	services.KindSubmissionFailed:        {"submission_failed", http.StatusBadGateway},
	services.KindWebhookResolutionFailed: {"webhook_resolution_failed", http.StatusNotFound},
	services.KindUnavailable:             {"dependency_unavailable", http.StatusServiceUnavailable},
	services.KindPersistenceFailed:       {"persistence_failed", http.StatusInternalServerError},
}

// writeServiceError renders errors returned by the services package.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if fe, ok := services.AsFulfillmentError(err); ok {
		mapping, known := fulfillmentKindMappings[fe.Kind]
		if !known {
			mapping = kindMapping{"internal_error", http.StatusInternalServerError}
		}
		details := map[string]any{"kind": string(fe.Kind)}
		if fe.Provider != nil {
			details["provider_status"] = fe.Provider.Status
		}
		httpx.WriteError(ctx, w, httpx.NewError(mapping.code, fe.Message, mapping.status).WithDetails(details))
		return
	}

	switch {
	case errors.Is(err, services.ErrWebhookEventNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("webhook_event_not_found", "webhook event not found", http.StatusNotFound))
	case errors.Is(err, services.ErrFulfillmentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_input", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrFulfillmentConflict):
		httpx.WriteError(ctx, w, httpx.NewError("fulfillment_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrFulfillmentUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("dependency_unavailable", "a dependency is unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		httpx.WriteError(ctx, w, httpx.NewError("request_timeout", "request did not complete in time", http.StatusGatewayTimeout))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal error", http.StatusInternalServerError))
	}
}
