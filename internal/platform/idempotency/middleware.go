package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/podbridge/fulfillment/internal/platform/auth"
	"github.com/podbridge/fulfillment/internal/platform/httpx"
	"github.com/podbridge/fulfillment/internal/platform/requestctx"
)

const (
	DefaultHeader = "Idempotency-Key"
	ReplayHeader  = "Idempotent-Replayed"
)

type Options struct {
	Header string
	TTL    time.Duration
	Now    func() time.Time
}

// Middleware replays the stored response when a request repeats an Idempotency-Key.
// Requests without the header pass through. Keys are scoped to the authenticated actor,
// and 5xx responses are not remembered so the caller can retry them.
func Middleware(store Store, opts Options) func(http.Handler) http.Handler {
	if opts.Header == "" {
		opts.Header = DefaultHeader
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(opts.Header))
			if raw == "" || r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			if len(raw) > 255 {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_idempotency_key", "idempotency key must be at most 255 characters", http.StatusBadRequest))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_body", "unable to read request body", http.StatusBadRequest))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			key := actor(r) + "|" + raw
			now := opts.Now().UTC()
			entry, claimed, err := store.Claim(ctx, key, fingerprint(r, body), now, opts.TTL)
			switch {
			case errors.Is(err, ErrKeyReused):
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_reused", "idempotency key was used for a different request", http.StatusUnprocessableEntity))
				return
			case err != nil:
				requestctx.Logger(ctx).Error("idempotency claim failed", zap.Error(err))
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_unavailable", "unable to check idempotency key", http.StatusServiceUnavailable))
				return
			case !claimed && entry.State == StateDone:
				replay(w, entry)
				return
			case !claimed:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_flight", "a request with this idempotency key is still running", http.StatusConflict))
				return
			}

			rec := &capture{header: make(http.Header)}
			next.ServeHTTP(rec, r)

			if rec.status() >= http.StatusInternalServerError {
				if err := store.Abandon(ctx, key); err != nil {
					requestctx.Logger(ctx).Warn("idempotency abandon failed", zap.Error(err))
				}
			} else {
				entry.StatusCode = rec.status()
				entry.Header = rec.header
				entry.Body = rec.body.Bytes()
				if err := store.Complete(ctx, entry); err != nil {
					requestctx.Logger(ctx).Warn("idempotency completion not stored", zap.Error(err))
				}
			}
			rec.flush(w)
		})
	}
}

func actor(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		return identity.ActorID()
	}
	return "anonymous"
}

func fingerprint(r *http.Request, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method + " " + r.URL.Path + "?" + r.URL.RawQuery + "\n"))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func replay(w http.ResponseWriter, entry Entry) {
	for name, values := range entry.Header {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.Header().Set(ReplayHeader, "true")
	w.WriteHeader(entry.StatusCode)
	_, _ = w.Write(entry.Body)
}

// capture buffers the handler response so it can be stored before it is sent.
type capture struct {
	header http.Header
	code   int
	body   bytes.Buffer
}

func (c *capture) Header() http.Header { return c.header }

func (c *capture) WriteHeader(code int) {
	if c.code == 0 {
		c.code = code
	}
}

func (c *capture) Write(p []byte) (int, error) {
	if c.code == 0 {
		c.code = http.StatusOK
	}
	return c.body.Write(p)
}

func (c *capture) status() int {
	if c.code == 0 {
		return http.StatusOK
	}
	return c.code
}

func (c *capture) flush(w http.ResponseWriter) {
	for name, values := range c.header {
		w.Header()[name] = values
	}
	w.WriteHeader(c.status())
	_, _ = w.Write(c.body.Bytes())
}
