package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/podbridge/fulfillment/internal/platform/auth"
)

var fixedTime = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

func fulfillRequest(key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/ord-1/fulfillment", bytes.NewBufferString(body))
	if key != "" {
		req.Header.Set(DefaultHeader, key)
	}
	return req
}

func countingHandler(calls *int, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"referenceId":"fulfill_ord-1"}`))
	})
}

func TestMiddleware_PassesThroughWithoutKey(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), Options{})(countingHandler(&calls, http.StatusCreated))

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), fulfillRequest("", `{}`))
	}
	if calls != 2 {
		t.Fatalf("expected both requests to reach handler, got %d", calls)
	}
}

func TestMiddleware_ReplaysCompletedResponse(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), Options{Now: func() time.Time { return fixedTime }})(countingHandler(&calls, http.StatusCreated))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, fulfillRequest("k-1", `{}`))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, fulfillRequest("k-1", `{}`))

	if calls != 1 {
		t.Fatalf("expected single handler call, got %d", calls)
	}
	if second.Code != http.StatusCreated {
		t.Fatalf("expected replayed 201, got %d", second.Code)
	}
	if second.Header().Get(ReplayHeader) != "true" {
		t.Fatalf("expected replay header")
	}
	if second.Body.String() != first.Body.String() {
		t.Fatalf("expected identical body, got %q vs %q", second.Body.String(), first.Body.String())
	}
}

func TestMiddleware_RejectsReusedKeyWithDifferentBody(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), Options{})(countingHandler(&calls, http.StatusCreated))

	handler.ServeHTTP(httptest.NewRecorder(), fulfillRequest("k-1", `{"confirm":false}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, fulfillRequest("k-1", `{"confirm":true}`))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "idempotency_key_reused" {
		t.Fatalf("unexpected error code %v", body["error"])
	}
}

func TestMiddleware_ServerErrorsAreNotRemembered(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), Options{})(countingHandler(&calls, http.StatusBadGateway))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, fulfillRequest("k-1", `{}`))
		if rec.Code != http.StatusBadGateway {
			t.Fatalf("expected 502 passthrough, got %d", rec.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("expected retry to reach handler, got %d calls", calls)
	}
}

func TestMiddleware_InFlightConflict(t *testing.T) {
	store := NewMemoryStore()
	now := fixedTime
	if _, claimed, err := store.Claim(context.Background(), "anonymous|k-1", fingerprint(fulfillRequest("k-1", `{}`), []byte(`{}`)), now, time.Hour); err != nil || !claimed {
		t.Fatalf("pre-claim failed: claimed=%v err=%v", claimed, err)
	}

	var calls int
	handler := Middleware(store, Options{Now: func() time.Time { return now }})(countingHandler(&calls, http.StatusCreated))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, fulfillRequest("k-1", `{}`))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if calls != 0 {
		t.Fatalf("expected handler not called")
	}
}

func TestMiddleware_KeysScopedPerActor(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), Options{})(countingHandler(&calls, http.StatusCreated))

	for _, uid := range []string{"seller-a", "seller-b"} {
		req := fulfillRequest("shared", `{}`)
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{Kind: auth.PrincipalSeller, Subject: uid}))
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	if calls != 2 {
		t.Fatalf("expected separate actors not to share keys, got %d calls", calls)
	}
}

func TestMemoryStore_PurgeExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_, _, _ = store.Claim(ctx, "old", "fp", fixedTime, time.Minute)
	_, _, _ = store.Claim(ctx, "new", "fp", fixedTime, time.Hour)

	removed, err := store.Purge(ctx, fixedTime.Add(10*time.Minute), 10)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one purged entry, got %d", removed)
	}
	if _, claimed, _ := store.Claim(ctx, "old", "other", fixedTime.Add(10*time.Minute), time.Hour); !claimed {
		t.Fatalf("expected purged key to be claimable again")
	}
}
