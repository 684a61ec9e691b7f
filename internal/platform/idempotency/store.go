package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const DefaultTTL = 24 * time.Hour

type State string

const (
	StateInFlight State = "in_flight"
	StateDone     State = "done"
)

// Entry is one remembered request. StatusCode, Header and Body are set once State is StateDone.
type Entry struct {
	Key         string
	Fingerprint string
	State       State
	StatusCode  int
	Header      http.Header
	Body        []byte
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

func (e Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

var (
	// ErrKeyReused means the key was first used for a request with a different fingerprint.
	ErrKeyReused = errors.New("idempotency: key reused for a different request")
)

// Store remembers idempotency keys.
//
// Claim returns claimed=true when the caller now owns the key. Otherwise the existing entry
// is returned and the caller either replays it (StateDone) or reports it as in flight.
type Store interface {
	Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (entry Entry, claimed bool, err error)
	Complete(ctx context.Context, entry Entry) error
	Abandon(ctx context.Context, key string) error
	Purge(ctx context.Context, now time.Time, limit int) (int, error)
}

// RunJanitor purges expired entries every interval until ctx is done.
func RunJanitor(ctx context.Context, store Store, interval time.Duration, batch int, logger *zap.Logger) {
	if store == nil || interval <= 0 {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := store.Purge(ctx, now.UTC(), batch)
			if err != nil {
				logger.Warn("idempotency purge failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Debug("idempotency entries purged", zap.Int("removed", removed))
			}
		}
	}
}

func documentID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// replayableHeader drops hop-by-hop and per-response headers before storage.
func replayableHeader(header http.Header) http.Header {
	out := make(http.Header, len(header))
	for name, values := range header {
		switch http.CanonicalHeaderKey(name) {
		case "Content-Length", "Date", "Connection", "Transfer-Encoding", "X-Cloud-Trace-Context":
			continue
		}
		out[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
	}
	return out
}
