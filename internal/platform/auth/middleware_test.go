package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubTokenVerifier struct {
	verifyFn func(ctx context.Context, idToken string) (*firebaseauth.Token, error)
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.verifyFn != nil {
		return s.verifyFn(ctx, idToken)
	}
	return nil, errors.New("not configured")
}

func sellerToken(roles ...any) *stubTokenVerifier {
	return &stubTokenVerifier{verifyFn: func(context.Context, string) (*firebaseauth.Token, error) {
		return &firebaseauth.Token{
			UID:    "uid-123",
			Issuer: "https://securetoken.google.com/project",
			Claims: map[string]any{"role": roles, "email": "seller@example.com"},
		}, nil
	}}
}

func serve(t *testing.T, mw func(http.Handler) http.Handler, header string) (*httptest.ResponseRecorder, *Identity) {
	t.Helper()
	var identity *Identity
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, identity
}

func TestAuthenticator_SellerToken(t *testing.T) {
	verifier := sellerToken("Seller", "seller")
	authn := NewAuthenticator(verifier, nil)

	rec, identity := serve(t, authn.Require(RoleSeller), "Bearer seller-token")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if verifier.received != "seller-token" {
		t.Fatalf("expected token forwarded to verifier, got %q", verifier.received)
	}
	if identity == nil || identity.Subject != "uid-123" || identity.Email != "seller@example.com" {
		t.Fatalf("unexpected identity %+v", identity)
	}
	if len(identity.Roles) != 1 || identity.Roles[0] != RoleSeller {
		t.Fatalf("expected deduplicated roles, got %v", identity.Roles)
	}
}

func TestAuthenticator_RejectsMissingRole(t *testing.T) {
	authn := NewAuthenticator(sellerToken("seller"), nil)

	rec, _ := serve(t, authn.Require(RoleOperator, RoleAdmin), "Bearer seller-token")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "insufficient_role" {
		t.Fatalf("expected insufficient_role, got %v", body["error"])
	}
}

func TestAuthenticator_RejectsMissingOrInvalidToken(t *testing.T) {
	failing := &stubTokenVerifier{verifyFn: func(context.Context, string) (*firebaseauth.Token, error) {
		return nil, errors.New("bad token")
	}}
	authn := NewAuthenticator(failing, nil)

	if rec, _ := serve(t, authn.Require(), ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without header, got %d", rec.Code)
	}
	if rec, _ := serve(t, authn.Require(), "Basic abc"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for non-bearer scheme, got %d", rec.Code)
	}
	if rec, _ := serve(t, authn.Require(), "Bearer nope"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for rejected token, got %d", rec.Code)
	}
}

func TestAuthenticator_ServiceTokenRoutedToOIDC(t *testing.T) {
	key, jwk := newSigningKey(t, "svc")
	server := newJWKSServer(t, jwk)
	oidc := NewOIDCVerifier(NewJWKSCache(server.URL, server.Client(), nil), "https://fulfillment.example.com", []string{testIssuer})
	sellers := sellerToken("seller")
	authn := NewAuthenticator(sellers, oidc)

	token := signToken(t, key, "svc", serviceClaims("https://fulfillment.example.com"))

	rec, identity := serve(t, authn.RequireService(), "Bearer "+token)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if identity == nil || identity.Kind != PrincipalService {
		t.Fatalf("expected service identity, got %+v", identity)
	}
	if sellers.received != "" {
		t.Fatalf("expected firebase verifier to be skipped")
	}

	// services pass seller role checks
	rec, _ = serve(t, authn.Require(RoleAdmin), "Bearer "+token)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected service to satisfy role check, got %d", rec.Code)
	}
}

func TestAuthenticator_RequireServiceRejectsSellers(t *testing.T) {
	authn := NewAuthenticator(sellerToken("admin"), nil)

	rec, _ := serve(t, authn.RequireService(), "Bearer seller-token")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
