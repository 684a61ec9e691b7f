package idempotency

import (
	"context"
	"net/http"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/podbridge/fulfillment/internal/platform/firestore"
)

const idempotencyCollection = "idempotencyKeys"

// FirestoreStore keeps entries in the idempotencyKeys collection keyed by the SHA-256 of the key.
type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

type entryDocument struct {
	Key         string              `firestore:"key"`
	Fingerprint string              `firestore:"fingerprint"`
	State       string              `firestore:"state"`
	StatusCode  int                 `firestore:"statusCode"`
	Header      map[string][]string `firestore:"header,omitempty"`
	Body        []byte              `firestore:"body,omitempty"`
	CreatedAt   time.Time           `firestore:"createdAt"`
	ExpiresAt   time.Time           `firestore:"expiresAt"`
}

func (d entryDocument) entry() Entry {
	return Entry{
		Key:         d.Key,
		Fingerprint: d.Fingerprint,
		State:       State(d.State),
		StatusCode:  d.StatusCode,
		Header:      http.Header(d.Header),
		Body:        d.Body,
		CreatedAt:   d.CreatedAt,
		ExpiresAt:   d.ExpiresAt,
	}
}

func (s *FirestoreStore) doc(key string) *firestore.DocumentRef {
	return s.client.Collection(idempotencyCollection).Doc(documentID(key))
}

func (s *FirestoreStore) Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Entry, bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ref := s.doc(key)
	var (
		result  Entry
		claimed bool
	)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		claimed = false
		snap, err := tx.Get(ref)
		if err != nil && !pfirestore.IsNotFoundStatus(err) {
			return err
		}
		if err == nil {
			var existing entryDocument
			if err := snap.DataTo(&existing); err != nil {
				return err
			}
			if !existing.entry().expired(now) {
				if existing.Fingerprint != fingerprint {
					return ErrKeyReused
				}
				result = existing.entry()
				return nil
			}
		}
		doc := entryDocument{
			Key:         key,
			Fingerprint: fingerprint,
			State:       string(StateInFlight),
			CreatedAt:   now,
			ExpiresAt:   now.Add(ttl),
		}
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		result, claimed = doc.entry(), true
		return nil
	})
	if err != nil {
		return Entry{}, false, err
	}
	return result, claimed, nil
}

func (s *FirestoreStore) Complete(ctx context.Context, entry Entry) error {
	doc := entryDocument{
		Key:         entry.Key,
		Fingerprint: entry.Fingerprint,
		State:       string(StateDone),
		StatusCode:  entry.StatusCode,
		Header:      replayableHeader(entry.Header),
		Body:        entry.Body,
		CreatedAt:   entry.CreatedAt,
		ExpiresAt:   entry.ExpiresAt,
	}
	_, err := s.doc(entry.Key).Set(ctx, doc)
	return err
}

func (s *FirestoreStore) Abandon(ctx context.Context, key string) error {
	_, err := s.doc(key).Delete(ctx)
	if pfirestore.IsNotFoundStatus(err) {
		return nil
	}
	return err
}

func (s *FirestoreStore) Purge(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	docs, err := s.client.Collection(idempotencyCollection).
		Where("expiresAt", "<=", now).
		Limit(limit).
		Documents(ctx).GetAll()
	if err != nil || len(docs) == 0 {
		return 0, err
	}
	writer := s.client.BulkWriter(ctx)
	for _, doc := range docs {
		if _, err := writer.Delete(doc.Ref); err != nil {
			writer.End()
			return 0, err
		}
	}
	writer.End()
	return len(docs), nil
}
