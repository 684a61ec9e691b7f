package printful

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

const (
	networkErrorMessage = "network error"
	maxMessageLength    = 512
)

var messagePolicy = bluemonday.StrictPolicy()

// Error is the normalised failure returned for every unsuccessful provider call.
// Status is zero when the request never produced an HTTP response.
type Error struct {
	Status  int
	Message string
	RawBody string

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Status == 0 {
		if e.cause != nil {
			return fmt.Sprintf("printful: %s: %v", e.Message, e.cause)
		}
		return "printful: " + e.Message
	}
	return fmt.Sprintf("printful: status %d: %s", e.Status, e.Message)
}

// Unwrap exposes the transport failure, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Retryable reports whether repeating an idempotent request may succeed.
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	return e.Status == 0 || e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}

// AsError extracts a provider error from err.
func AsError(err error) (*Error, bool) {
	var providerErr *Error
	if errors.As(err, &providerErr) && providerErr != nil {
		return providerErr, true
	}
	return nil, false
}

func networkError(cause error) *Error {
	return &Error{Status: 0, Message: networkErrorMessage, cause: cause}
}

type errorEnvelope struct {
	Code   int             `json:"code"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Reason  string `json:"reason"`
		Message string `json:"message"`
	} `json:"error"`
}

// newStatusError builds an Error from a non-2xx response body. The message comes
// from error.message, then a string result, then the HTTP status text.
func newStatusError(status int, body []byte) *Error {
	message := ""
	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil {
		if envelope.Error != nil {
			message = envelope.Error.Message
			if strings.TrimSpace(message) == "" {
				message = envelope.Error.Reason
			}
		}
		if strings.TrimSpace(message) == "" && len(envelope.Result) > 0 {
			var result string
			if err := json.Unmarshal(envelope.Result, &result); err == nil {
				message = result
			}
		}
	}
	message = cleanMessage(message)
	if message == "" {
		message = http.StatusText(status)
	}
	if message == "" {
		message = "unexpected response"
	}
	return &Error{Status: status, Message: message, RawBody: string(body)}
}

func cleanMessage(message string) string {
	message = html.UnescapeString(messagePolicy.Sanitize(message))
	message = strings.Join(strings.Fields(message), " ")
	if len(message) > maxMessageLength {
		cut := maxMessageLength
		for cut > 0 && !utf8.RuneStart(message[cut]) {
			cut--
		}
		message = message[:cut]
	}
	return message
}
