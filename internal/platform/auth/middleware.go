package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	firebaseauth "firebase.google.com/go/v4/auth"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/podbridge/fulfillment/internal/platform/httpx"
	"github.com/podbridge/fulfillment/internal/platform/requestctx"
)

const meterName = "github.com/podbridge/fulfillment/internal/platform/auth"

// Authenticator accepts Firebase seller tokens and Google-signed service tokens on the same header.
// The unverified issuer claim picks the verifier; the chosen verifier then checks everything.
type Authenticator struct {
	sellers  TokenVerifier
	services *OIDCVerifier

	verifications metric.Int64Counter
}

// NewAuthenticator accepts nil for either verifier to disable that principal kind.
func NewAuthenticator(sellers TokenVerifier, services *OIDCVerifier) *Authenticator {
	a := &Authenticator{sellers: sellers, services: services}
	counter, err := otel.GetMeterProvider().Meter(meterName).Int64Counter(
		"auth.verifications",
		metric.WithDescription("Token verifications by principal kind and outcome"),
	)
	if err == nil {
		a.verifications = counter
	}
	return a
}

// Require authenticates the request and checks that sellers carry one of roles.
// Service principals pass every role check.
func (a *Authenticator) Require(roles ...string) func(http.Handler) http.Handler {
	return a.require(false, roles)
}

// RequireService admits service principals only.
func (a *Authenticator) RequireService() func(http.Handler) http.Handler {
	return a.require(true, nil)
}

func (a *Authenticator) require(serviceOnly bool, roles []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token := extractToken(r)
			if token == "" {
				respondAuthError(ctx, w, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
				return
			}

			identity, err := a.authenticate(ctx, token, serviceOnly)
			if err != nil {
				status, code := http.StatusUnauthorized, "invalid_token"
				if errors.Is(err, ErrJWKSFetchFailed) {
					status, code = http.StatusServiceUnavailable, "verification_unavailable"
				}
				requestctx.Logger(ctx).Warn("authentication failed", zap.Error(err))
				respondAuthError(ctx, w, status, code, "token verification failed")
				return
			}
			if !identity.HasAnyRole(roles...) {
				respondAuthError(ctx, w, http.StatusForbidden, "insufficient_role", "identity does not have required role")
				return
			}

			ctx = requestctx.With(WithIdentity(ctx, identity), zap.String("actor", identity.ActorID()))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (a *Authenticator) authenticate(ctx context.Context, token string, serviceOnly bool) (*Identity, error) {
	if a == nil {
		return nil, ErrTokenInvalid
	}
	if a.services.Accepts(unverifiedIssuer(token)) {
		identity, err := a.services.Verify(ctx, token)
		a.record(ctx, PrincipalService, err)
		return identity, err
	}
	if serviceOnly || a.sellers == nil {
		return nil, ErrTokenInvalid
	}

	verified, err := a.sellers.VerifyIDToken(ctx, token)
	a.record(ctx, PrincipalSeller, err)
	if err != nil {
		if firebaseauth.IsIDTokenExpired(err) {
			return nil, errors.New("auth: firebase id token expired")
		}
		return nil, errors.Join(ErrTokenInvalid, err)
	}
	return sellerIdentity(verified), nil
}

func (a *Authenticator) record(ctx context.Context, kind PrincipalKind, err error) {
	if a.verifications == nil {
		return
	}
	a.verifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.Bool("success", err == nil),
	))
}

// extractToken reads a bearer token, falling back to the IAP assertion header.
func extractToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return strings.TrimSpace(r.Header.Get("X-Goog-Iap-Jwt-Assertion"))
}

func respondAuthError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}
