package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/podbridge/fulfillment/internal/platform/requestctx"
)

const (
	DefaultWebhookSignatureHeader = "X-Webhook-Signature"
	maxWebhookBodyBytes           = 1 << 20
)

var (
	ErrSignatureMismatch = errors.New("auth: webhook signature mismatch")
	ErrBodyTooLarge      = errors.New("auth: webhook body too large")
)

// WebhookSigner verifies HMAC-SHA256 signatures over raw webhook bodies.
// A signer with no secret accepts every request unverified.
type WebhookSigner struct {
	secret []byte
	header string
}

func NewWebhookSigner(secret, header string) *WebhookSigner {
	header = strings.TrimSpace(header)
	if header == "" {
		header = DefaultWebhookSignatureHeader
	}
	return &WebhookSigner{secret: []byte(strings.TrimSpace(secret)), header: header}
}

// Enabled reports whether a secret is configured.
func (s *WebhookSigner) Enabled() bool { return s != nil && len(s.secret) > 0 }

// Sign returns the hex signature for body. Used by tests and the CLI to forge deliveries.
func (s *WebhookSigner) Sign(body []byte) string {
	return hex.EncodeToString(computeHMAC(s.secret, body))
}

// Verify checks value, accepting hex or base64 with an optional "sha256=" prefix.
func (s *WebhookSigner) Verify(body []byte, value string) error {
	value = strings.TrimPrefix(strings.TrimSpace(value), "sha256=")
	signature, err := decodeSignature(value)
	if err != nil {
		return ErrSignatureMismatch
	}
	if !hmac.Equal(signature, computeHMAC(s.secret, body)) {
		return ErrSignatureMismatch
	}
	return nil
}

// RequireSignature rejects deliveries whose signature header does not match.
// The body is buffered and restored so handlers can read it again.
func (s *WebhookSigner) RequireSignature() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !s.Enabled() {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			body, err := readAndRestoreBody(r)
			if errors.Is(err, ErrBodyTooLarge) {
				respondAuthError(ctx, w, http.StatusRequestEntityTooLarge, "payload_too_large", "webhook body exceeds 1 MiB")
				return
			}
			if err != nil {
				respondAuthError(ctx, w, http.StatusBadRequest, "invalid_body", "unable to read body for signature verification")
				return
			}
			if err := s.Verify(body, r.Header.Get(s.header)); err != nil {
				requestctx.Logger(ctx).Warn("webhook signature rejected", zap.String("header", s.header))
				respondAuthError(ctx, w, http.StatusUnauthorized, "signature_mismatch", "webhook signature verification failed")
				return
			}
			next.ServeHTTP(w, r.WithContext(withSignatureVerified(ctx)))
		})
	}
}

type signatureContextKey struct{}

func withSignatureVerified(ctx context.Context) context.Context {
	return context.WithValue(ctx, signatureContextKey{}, true)
}

// SignatureVerified reports whether RequireSignature checked this request.
func SignatureVerified(ctx context.Context) bool {
	verified, _ := ctx.Value(signatureContextKey{}).(bool)
	return verified
}

func readAndRestoreBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	buf, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(buf) > maxWebhookBodyBytes {
		return nil, ErrBodyTooLarge
	}
	r.Body = io.NopCloser(bytes.NewReader(buf))
	return buf, nil
}

func decodeSignature(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("auth: empty signature")
	}
	if decoded, err := hex.DecodeString(value); err == nil {
		return decoded, nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	return nil, errors.New("auth: signature must be hex or base64 encoded")
}

func computeHMAC(secret, message []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(message)
	return mac.Sum(nil)
}
