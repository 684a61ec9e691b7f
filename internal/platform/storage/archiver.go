package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
)

// objectWriter opens a writer for bucket/object. Closing the writer commits the object.
type objectWriter func(ctx context.Context, bucket, object string) io.WriteCloser

// WebhookArchiver writes raw provider webhook bodies to Cloud Storage so the audit
// log keeps a byte-exact copy even after the event row is pruned.
type WebhookArchiver struct {
	bucket   string
	provider string
	open     objectWriter
}

// NewWebhookArchiver archives into bucket under webhooks/<provider>/.
func NewWebhookArchiver(client *gcs.Client, bucket, provider string) (*WebhookArchiver, error) {
	if client == nil {
		return nil, errors.New("storage: client is required")
	}
	return newWebhookArchiver(bucket, provider, func(ctx context.Context, bucket, object string) io.WriteCloser {
		w := client.Bucket(bucket).Object(object).If(gcs.Conditions{DoesNotExist: true}).NewWriter(ctx)
		w.ContentType = "application/json"
		return w
	})
}

func newWebhookArchiver(bucket, provider string, open objectWriter) (*WebhookArchiver, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage: archive bucket is required")
	}
	provider, err := validateSegment("provider", provider)
	if err != nil {
		return nil, err
	}
	return &WebhookArchiver{bucket: bucket, provider: provider, open: open}, nil
}

// ArchiveWebhook stores payload and returns its gs:// URI.
func (a *WebhookArchiver) ArchiveWebhook(ctx context.Context, eventID string, receivedAt time.Time, payload []byte) (string, error) {
	object, err := WebhookObjectPath(a.provider, eventID, receivedAt)
	if err != nil {
		return "", err
	}
	w := a.open(ctx, a.bucket, object)
	if _, err := w.Write(payload); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("storage: write %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("storage: commit %s: %w", object, err)
	}
	return fmt.Sprintf("gs://%s/%s", a.bucket, object), nil
}

// WebhookObjectPath lays payloads out by UTC receive date, e.g.
// webhooks/printful/2026/03/01/01HX....json.
func WebhookObjectPath(provider, eventID string, receivedAt time.Time) (string, error) {
	provider, err := validateSegment("provider", provider)
	if err != nil {
		return "", err
	}
	eventID, err = validateSegment("eventID", eventID)
	if err != nil {
		return "", err
	}
	if receivedAt.IsZero() {
		return "", errors.New("storage: receivedAt is required")
	}
	return fmt.Sprintf("webhooks/%s/%s/%s.json", provider, receivedAt.UTC().Format("2006/01/02"), eventID), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") || strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	return value, nil
}
