package services

import (
	"errors"
	"fmt"

	"github.com/podbridge/fulfillment/internal/printful"
)

// ErrorKind names a fulfillment failure class surfaced to callers.
type ErrorKind string

const (
	KindUnmappedVariant         ErrorKind = "UnmappedVariant"
	KindNoFulfillableItems      ErrorKind = "NoFulfillableItems"
	KindOrderNotFound           ErrorKind = "OrderNotFound"
	KindEstimationFailed        ErrorKind = "EstimationFailed"
	KindSubmissionFailed        ErrorKind = "SubmissionFailed"
	KindPersistenceFailed       ErrorKind = "PersistenceFailed"
	KindWebhookResolutionFailed ErrorKind = "WebhookResolutionFailed"
	KindInvalidInput            ErrorKind = "InvalidInput"
	KindConflict                ErrorKind = "Conflict"
	KindUnavailable             ErrorKind = "Unavailable"
)

var (
	// ErrUnmappedVariant indicates a line item has no provider variant.
	ErrUnmappedVariant = errors.New("fulfillment: unmapped variant")
	// ErrNoFulfillableItems indicates none of the order's items can be sent to the provider.
	ErrNoFulfillableItems = errors.New("fulfillment: no fulfillable items")
	// ErrOrderNotFound indicates the local order does not exist.
	ErrOrderNotFound = errors.New("fulfillment: order not found")
	// ErrEstimationFailed indicates the provider rejected or could not price the order.
	ErrEstimationFailed = errors.New("fulfillment: estimation failed")
	// ErrSubmissionFailed indicates the provider did not create the order.
	ErrSubmissionFailed = errors.New("fulfillment: submission failed")
	// ErrPersistenceFailed indicates a local write failed after the provider accepted the order.
	ErrPersistenceFailed = errors.New("fulfillment: persistence failed")
	// ErrWebhookResolutionFailed indicates a webhook referenced an unknown order.
	ErrWebhookResolutionFailed = errors.New("fulfillment: webhook reference not resolved")
	// ErrFulfillmentInvalidInput indicates the caller supplied invalid data.
	ErrFulfillmentInvalidInput = errors.New("fulfillment: invalid input")
	// ErrFulfillmentConflict indicates the order was already submitted or is not pending.
	ErrFulfillmentConflict = errors.New("fulfillment: conflict")
	// ErrFulfillmentUnavailable indicates a dependency of the bridge is unavailable.
	ErrFulfillmentUnavailable = errors.New("fulfillment: dependency unavailable")
	// ErrWebhookAuditFailed indicates the audit row for a delivery could not be written.
	ErrWebhookAuditFailed = errors.New("webhook: audit append failed")
	// ErrWebhookEventNotFound indicates a stored delivery could not be located.
	ErrWebhookEventNotFound = errors.New("webhook: event not found")
)

var kindSentinels = map[ErrorKind]error{
	KindUnmappedVariant:         ErrUnmappedVariant,
	KindNoFulfillableItems:      ErrNoFulfillableItems,
	KindOrderNotFound:           ErrOrderNotFound,
	KindEstimationFailed:        ErrEstimationFailed,
	KindSubmissionFailed:        ErrSubmissionFailed,
	KindPersistenceFailed:       ErrPersistenceFailed,
	KindWebhookResolutionFailed: ErrWebhookResolutionFailed,
	KindInvalidInput:            ErrFulfillmentInvalidInput,
	KindConflict:                ErrFulfillmentConflict,
	KindUnavailable:             ErrFulfillmentUnavailable,
}

// FulfillmentError carries the failure kind, a human-readable message, and the
// provider error when the failure came from a remote call.
type FulfillmentError struct {
	Kind     ErrorKind
	Message  string
	Provider *printful.Error
	Err      error
}

// Error implements the error interface.
func (e *FulfillmentError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("fulfillment: %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("fulfillment: %s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *FulfillmentError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches the sentinel registered for the error kind.
func (e *FulfillmentError) Is(target error) bool {
	if e == nil {
		return false
	}
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

func newFulfillmentError(kind ErrorKind, message string, cause error) *FulfillmentError {
	fe := &FulfillmentError{Kind: kind, Message: message, Err: cause}
	if providerErr, ok := printful.AsError(cause); ok {
		fe.Provider = providerErr
	}
	return fe
}

// AsFulfillmentError extracts the structured error from err.
func AsFulfillmentError(err error) (*FulfillmentError, bool) {
	var fe *FulfillmentError
	if errors.As(err, &fe) && fe != nil {
		return fe, true
	}
	return nil, false
}
