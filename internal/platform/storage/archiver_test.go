package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

type memoryObject struct {
	bytes.Buffer
	closeErr  error
	committed bool
}

func (o *memoryObject) Close() error {
	if o.closeErr != nil {
		return o.closeErr
	}
	o.committed = true
	return nil
}

func TestWebhookObjectPath(t *testing.T) {
	receivedAt := time.Date(2026, 3, 1, 23, 30, 0, 0, time.FixedZone("JST", 9*3600))
	path, err := WebhookObjectPath("printful", "01HXEVENT", receivedAt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "webhooks/printful/2026/03/01/01HXEVENT.json" {
		t.Fatalf("unexpected path %s", path)
	}

	for _, id := range []string{"", "../escape", "a/b"} {
		if _, err := WebhookObjectPath("printful", id, receivedAt); err == nil {
			t.Fatalf("expected %q to be rejected", id)
		}
	}
	if _, err := WebhookObjectPath("printful", "id", time.Time{}); err == nil {
		t.Fatalf("expected zero time to be rejected")
	}
}

func TestWebhookArchiver_ArchiveWebhook(t *testing.T) {
	objects := map[string]*memoryObject{}
	archiver, err := newWebhookArchiver("audit-bucket", "printful", func(_ context.Context, bucket, object string) io.WriteCloser {
		obj := &memoryObject{}
		objects[bucket+"/"+object] = obj
		return obj
	})
	if err != nil {
		t.Fatalf("newWebhookArchiver: %v", err)
	}

	uri, err := archiver.ArchiveWebhook(context.Background(), "evt1", time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), []byte(`{"type":"package_shipped"}`))
	if err != nil {
		t.Fatalf("ArchiveWebhook: %v", err)
	}
	if uri != "gs://audit-bucket/webhooks/printful/2026/03/01/evt1.json" {
		t.Fatalf("unexpected uri %s", uri)
	}
	obj := objects["audit-bucket/webhooks/printful/2026/03/01/evt1.json"]
	if obj == nil || !obj.committed || obj.String() != `{"type":"package_shipped"}` {
		t.Fatalf("expected committed payload, got %+v", obj)
	}
}

func TestWebhookArchiver_CommitFailure(t *testing.T) {
	archiver, _ := newWebhookArchiver("audit-bucket", "printful", func(context.Context, string, string) io.WriteCloser {
		return &memoryObject{closeErr: errors.New("precondition failed")}
	})
	if _, err := archiver.ArchiveWebhook(context.Background(), "evt1", time.Now(), []byte(`{}`)); err == nil {
		t.Fatalf("expected commit failure to surface")
	}
}

func TestNewWebhookArchiver_RequiresBucket(t *testing.T) {
	if _, err := newWebhookArchiver(" ", "printful", nil); err == nil {
		t.Fatalf("expected missing bucket error")
	}
}
